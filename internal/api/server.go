package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
	"github.com/dgnsrekt/chainscout/internal/controller"
	"github.com/dgnsrekt/chainscout/internal/market"
	"github.com/dgnsrekt/chainscout/internal/monitor"
	"github.com/dgnsrekt/chainscout/internal/relay"
	"github.com/dgnsrekt/chainscout/internal/snapshot"
	"github.com/dgnsrekt/chainscout/internal/store"
	"github.com/dgnsrekt/chainscout/internal/tracker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is implemented by controller.Service.
type Service interface {
	Health() controller.Health
	Contracts() []tracker.Contract
	Contract(key string) (tracker.Contract, error)
	History(key string, limit int) ([]tracker.DataPoint, error)
	Summary(key string) (tracker.Summary, error)
	Points(ctx context.Context, key string, since time.Time, limit int) ([]tracker.DataPoint, error)
	RecordedContracts(ctx context.Context) ([]store.ContractRow, error)
	MonitorStatus() (monitor.Status, error)
	StartMonitor(sides []string) (monitor.Status, error)
	StopMonitor() (monitor.Status, error)
	Scan(ctx context.Context, side string) (monitor.RoundResult, error)
	Bias(ctx context.Context, refresh bool) (market.Reading, error)
	Session() (controller.SessionInfo, error)
	Screenshot(ctx context.Context, notes string) (snapshot.SnapshotMeta, error)
	ListSnapshots() ([]snapshot.SnapshotMeta, error)
	GetSnapshot(id string) (snapshot.SnapshotMeta, error)
	SnapshotImage(id string) ([]byte, string, error)
	DeleteSnapshot(id string) error
}

type keyInput struct {
	Key string `path:"key" doc:"Contract key, e.g. call_08" example:"call_08"`
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// NewServer builds the HTTP handler. The SSE stream is mounted when broker
// is non-nil.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("chainscout API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/stream", relay.SSEHandler(broker))
	}

	registerContractHandlers(api, svc)
	registerMonitorHandlers(api, svc)
	registerSnapshotHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeContractNotFound, cdpcontrol.CodeSnapshotNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeAuthFailed, cdpcontrol.CodeMFARequired:
			return huma.Error401Unauthorized(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodePageNotFound:
			return huma.Error502BadGateway(coded.Message)
		case cdpcontrol.CodeElementNotFound, cdpcontrol.CodeExtractionFailed:
			return huma.Error422UnprocessableEntity(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
