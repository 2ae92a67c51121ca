package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/chainscout/internal/monitor"
)

func registerMonitorHandlers(api huma.API, svc Service) {
	type monitorOutput struct {
		Body monitor.Status
	}

	huma.Register(api, huma.Operation{OperationID: "get-monitor", Method: http.MethodGet, Path: "/api/v1/monitor", Summary: "Monitor status", Tags: []string{"Monitor"}},
		func(ctx context.Context, input *struct{}) (*monitorOutput, error) {
			st, err := svc.MonitorStatus()
			if err != nil {
				return nil, mapErr(err)
			}
			return &monitorOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "start-monitor", Method: http.MethodPost, Path: "/api/v1/monitor/start", Summary: "Start the scan loops", Tags: []string{"Monitor"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Sides []string `json:"sides,omitempty" doc:"calls, puts or both; empty means both" example:"[\"calls\"]"`
			}
		}) (*monitorOutput, error) {
			st, err := svc.StartMonitor(input.Body.Sides)
			if err != nil {
				return nil, mapErr(err)
			}
			return &monitorOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "stop-monitor", Method: http.MethodPost, Path: "/api/v1/monitor/stop", Summary: "Stop the scan loops", Tags: []string{"Monitor"}},
		func(ctx context.Context, input *struct{}) (*monitorOutput, error) {
			st, err := svc.StopMonitor()
			if err != nil {
				return nil, mapErr(err)
			}
			return &monitorOutput{Body: st}, nil
		})

	type scanOutput struct {
		Body monitor.RoundResult
	}
	huma.Register(api, huma.Operation{OperationID: "scan-once", Method: http.MethodPost, Path: "/api/v1/scan", Summary: "Run one scan round now", Description: "Waits for any round in progress to release the page.", Tags: []string{"Monitor"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Side string `json:"side" required:"true" enum:"call,put,calls,puts" doc:"Side to scan"`
			}
		}) (*scanOutput, error) {
			res, err := svc.Scan(ctx, input.Body.Side)
			if err != nil {
				return nil, mapErr(err)
			}
			return &scanOutput{Body: res}, nil
		})
}
