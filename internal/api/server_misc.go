package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/shadowtrack/internal/controller"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type monitorHealthOutput struct {
		Body controller.Health
	}
	huma.Register(api, huma.Operation{OperationID: "monitor-health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Monitor, store, and browser status", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*monitorHealthOutput, error) {
			h, err := svc.Health(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &monitorHealthOutput{Body: h}, nil
		})
}
