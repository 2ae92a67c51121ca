package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/chainscout/internal/store"
	"github.com/dgnsrekt/chainscout/internal/tracker"
)

func registerContractHandlers(api huma.API, svc Service) {
	type listContractsOutput struct {
		Body struct {
			Contracts []tracker.Contract `json:"contracts"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-contracts", Method: http.MethodGet, Path: "/api/v1/contracts", Summary: "List tracked contracts", Tags: []string{"Contracts"}},
		func(ctx context.Context, input *struct{}) (*listContractsOutput, error) {
			out := &listContractsOutput{}
			out.Body.Contracts = svc.Contracts()
			if out.Body.Contracts == nil {
				out.Body.Contracts = []tracker.Contract{}
			}
			return out, nil
		})

	type contractOutput struct {
		Body tracker.Contract
	}
	huma.Register(api, huma.Operation{OperationID: "get-contract", Method: http.MethodGet, Path: "/api/v1/contracts/{key}", Summary: "Get the latest quote for a contract", Tags: []string{"Contracts"}},
		func(ctx context.Context, input *keyInput) (*contractOutput, error) {
			c, err := svc.Contract(input.Key)
			if err != nil {
				return nil, mapErr(err)
			}
			return &contractOutput{Body: c}, nil
		})

	type pointsOutput struct {
		Body struct {
			Key    string              `json:"key"`
			Points []tracker.DataPoint `json:"points"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-contract-history", Method: http.MethodGet, Path: "/api/v1/contracts/{key}/history", Summary: "Get in-memory history", Description: "Returns the newest `limit` points, oldest first. 0 returns the whole retained history.", Tags: []string{"Contracts"}},
		func(ctx context.Context, input *struct {
			Key   string `path:"key"`
			Limit int    `query:"limit" default:"0" minimum:"0" doc:"Maximum number of points"`
		}) (*pointsOutput, error) {
			pts, err := svc.History(input.Key, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &pointsOutput{}
			out.Body.Key = input.Key
			out.Body.Points = pts
			return out, nil
		})

	type summaryOutput struct {
		Body tracker.Summary
	}
	huma.Register(api, huma.Operation{OperationID: "get-contract-summary", Method: http.MethodGet, Path: "/api/v1/contracts/{key}/summary", Summary: "Premium statistics over the history", Tags: []string{"Contracts"}},
		func(ctx context.Context, input *keyInput) (*summaryOutput, error) {
			sum, err := svc.Summary(input.Key)
			if err != nil {
				return nil, mapErr(err)
			}
			return &summaryOutput{Body: sum}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-contract-points", Method: http.MethodGet, Path: "/api/v1/contracts/{key}/points", Summary: "Get recorded points", Description: "Reads from the database recorder rather than memory.", Tags: []string{"Contracts"}},
		func(ctx context.Context, input *struct {
			Key   string `path:"key"`
			Limit int    `query:"limit" default:"500" minimum:"0" doc:"Maximum number of points, 0 for all"`
			Since int64  `query:"since" default:"0" doc:"Unix milliseconds lower bound"`
		}) (*pointsOutput, error) {
			since := time.Time{}
			if input.Since > 0 {
				since = time.UnixMilli(input.Since)
			}
			pts, err := svc.Points(ctx, input.Key, since, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &pointsOutput{}
			out.Body.Key = input.Key
			out.Body.Points = pts
			if out.Body.Points == nil {
				out.Body.Points = []tracker.DataPoint{}
			}
			return out, nil
		})

	type recordedOutput struct {
		Body struct {
			Contracts []store.ContractRow `json:"contracts"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-recorded-contracts", Method: http.MethodGet, Path: "/api/v1/recorded", Summary: "List contracts in the recorder", Tags: []string{"Contracts"}},
		func(ctx context.Context, input *struct{}) (*recordedOutput, error) {
			rows, err := svc.RecordedContracts(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &recordedOutput{}
			out.Body.Contracts = rows
			if out.Body.Contracts == nil {
				out.Body.Contracts = []store.ContractRow{}
			}
			return out, nil
		})
}
