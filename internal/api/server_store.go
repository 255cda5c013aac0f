package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/shadowtrack/internal/safestore"
	"github.com/dgnsrekt/shadowtrack/internal/snapshot"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

func registerStoreHandlers(api huma.API, svc Service) {
	type listSnapshotsOutput struct {
		Body struct {
			Snapshots []snapshot.Meta `json:"snapshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-snapshots", Method: http.MethodGet, Path: "/api/v1/snapshots", Summary: "List persisted analysis snapshots, newest first", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *struct{}) (*listSnapshotsOutput, error) {
			metas, err := svc.ListSnapshots(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listSnapshotsOutput{}
			out.Body.Snapshots = metas
			return out, nil
		})

	type snapshotKeyInput struct {
		Key int64 `path:"key" doc:"Origin session creation time in Unix milliseconds"`
	}
	type snapshotOutput struct {
		Body tracking.SessionSnapshot
	}
	huma.Register(api, huma.Operation{OperationID: "get-snapshot", Method: http.MethodGet, Path: "/api/v1/snapshots/{key}", Summary: "Get a persisted snapshot", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *snapshotKeyInput) (*snapshotOutput, error) {
			snap, err := svc.GetSnapshot(ctx, input.Key)
			if err != nil {
				return nil, mapErr(err)
			}
			return &snapshotOutput{Body: snap}, nil
		})

	type safeCookiesInput struct {
		Domain string `query:"domain" doc:"Second-level domain. Omit to list every domain."`
	}
	type safeCookiesOutput struct {
		Body struct {
			Cookies []safestore.Record `json:"cookies"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-safe-cookies", Method: http.MethodGet, Path: "/api/v1/safe-cookies", Summary: "List cookie keys known to be safe", Tags: []string{"Safe cookies"}},
		func(ctx context.Context, input *safeCookiesInput) (*safeCookiesOutput, error) {
			records, err := svc.SafeCookies(ctx, input.Domain)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &safeCookiesOutput{}
			out.Body.Cookies = records
			return out, nil
		})
}
