package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/chainscout/internal/controller"
	"github.com/dgnsrekt/chainscout/internal/market"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body controller.Health
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			return &healthOutput{Body: svc.Health()}, nil
		})

	type biasOutput struct {
		Body market.Reading
	}
	huma.Register(api, huma.Operation{OperationID: "get-bias", Method: http.MethodGet, Path: "/api/v1/bias", Summary: "Current market bias", Description: "RSI on 1m and 5m closes. Set refresh to recompute now.", Tags: []string{"Market"}},
		func(ctx context.Context, input *struct {
			Refresh bool `query:"refresh" default:"false"`
		}) (*biasOutput, error) {
			r, err := svc.Bias(ctx, input.Refresh)
			if err != nil {
				return nil, mapErr(err)
			}
			return &biasOutput{Body: r}, nil
		})

	type sessionOutput struct {
		Body controller.SessionInfo
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/session", Summary: "Login session state", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*sessionOutput, error) {
			info, err := svc.Session()
			if err != nil {
				return nil, mapErr(err)
			}
			return &sessionOutput{Body: info}, nil
		})
}
