package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/shadowtrack/internal/controller"
	"github.com/dgnsrekt/shadowtrack/internal/relay"
	"github.com/dgnsrekt/shadowtrack/internal/safestore"
	"github.com/dgnsrekt/shadowtrack/internal/snapshot"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	ListSessions(ctx context.Context) ([]tracking.SessionSummary, error)
	GetSession(ctx context.Context, tabID string) (tracking.SessionSnapshot, error)
	Orphans(ctx context.Context) ([]tracking.Orphan, error)
	ListSnapshots(ctx context.Context) ([]snapshot.Meta, error)
	GetSnapshot(ctx context.Context, key int64) (tracking.SessionSnapshot, error)
	SafeCookies(ctx context.Context, domain string) ([]safestore.Record, error)
	Health(ctx context.Context) (controller.Health, error)
}

// NewServer mounts the JSON API, its docs, and, when broker is non-nil, the
// live notification streams.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("shadowtrack API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
		router.Get("/api/v1/ws", relay.WebSocketHandler(broker))
	}

	registerSessionHandlers(api, svc)
	registerStoreHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *controller.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case controller.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case controller.CodeSessionNotFound, controller.CodeSnapshotNotFound:
			return huma.Error404NotFound(coded.Message)
		case controller.CodeMonitorStopped:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
