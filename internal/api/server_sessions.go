package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

func registerSessionHandlers(api huma.API, svc Service) {
	type listSessionsOutput struct {
		Body struct {
			Sessions []tracking.SessionSummary `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List live sessions", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*listSessionsOutput, error) {
			sessions, err := svc.ListSessions(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listSessionsOutput{}
			out.Body.Sessions = sessions
			return out, nil
		})

	type tabIDInput struct {
		TabID string `path:"tab_id" doc:"Browser tab (CDP target) id"`
	}
	type sessionOutput struct {
		Body tracking.SessionSnapshot
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/sessions/{tab_id}", Summary: "Get the session on a tab with its shadow", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *tabIDInput) (*sessionOutput, error) {
			snap, err := svc.GetSession(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &sessionOutput{Body: snap}, nil
		})

	type orphansOutput struct {
		Body struct {
			Orphans []tracking.Orphan `json:"orphans"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-orphans", Method: http.MethodGet, Path: "/api/v1/orphans", Summary: "Exchanges seen on tabs without a session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*orphansOutput, error) {
			orphans, err := svc.Orphans(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &orphansOutput{}
			out.Body.Orphans = orphans
			return out, nil
		})
}
