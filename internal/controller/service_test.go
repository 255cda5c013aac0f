package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/monitor"
	"github.com/dgnsrekt/shadowtrack/internal/safestore"
	"github.com/dgnsrekt/shadowtrack/internal/snapshot"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

// stubInspector runs fn against a registry it owns, on the caller's goroutine.
type stubInspector struct {
	reg     *tracking.Registry
	stopped bool
}

func (s *stubInspector) Inspect(_ context.Context, fn func(*tracking.Registry)) error {
	if s.stopped {
		return monitor.ErrStopped
	}
	fn(s.reg)
	return nil
}

func (s *stubInspector) Stats() monitor.Stats { return monitor.Stats{Events: 3} }

type stubTabs struct{}

func (stubTabs) TabCount() (int, int) { return 2, 1 }

func newTestService(t *testing.T) (*Service, *stubInspector, *snapshot.Store) {
	t.Helper()
	reg := tracking.NewRegistry(tracking.Options{})
	reg.Handle(tracking.NavigationStarted{TabID: "T1", URL: "https://news.example/"})
	reg.Handle(tracking.RequestObserved{TabID: "worker", RequestID: "r1", URL: "https://cdn.example/x"})

	snaps, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	insp := &stubInspector{reg: reg}
	return NewService(insp, snaps, safestore.Memory(), stubTabs{}), insp, snaps
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var got *CodedError
	if !errors.As(err, &got) {
		t.Fatalf("error = %v (%T); want *CodedError", err, err)
	}
	if got.Code != code {
		t.Fatalf("code = %q; want %q", got.Code, code)
	}
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("T1", "tab_id"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	err := s.requireNonEmpty("   ", "tab_id")
	wantCode(t, err, CodeValidation)
	if got := err.(*CodedError).Message; got != "tab_id is required" {
		t.Fatalf("requireNonEmpty() message = %q; want %q", got, "tab_id is required")
	}
}

func TestGetSession(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	snap, err := s.GetSession(ctx, " T1 ")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if snap.URL != "https://news.example/" || snap.Domain != "news.example" {
		t.Fatalf("GetSession() = %+v", snap)
	}

	_, err = s.GetSession(ctx, "T9")
	wantCode(t, err, CodeSessionNotFound)

	_, err = s.GetSession(ctx, "")
	wantCode(t, err, CodeValidation)
}

func TestListSessionsAndOrphans(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	sessions, err := s.ListSessions(ctx)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("ListSessions() = %v, %v; want one session", sessions, err)
	}
	orphans, err := s.Orphans(ctx)
	if err != nil || len(orphans) != 1 || orphans[0].TabID != "worker" {
		t.Fatalf("Orphans() = %v, %v; want the worker exchange", orphans, err)
	}
}

func TestMonitorStopped(t *testing.T) {
	s, insp, _ := newTestService(t)
	insp.stopped = true

	_, err := s.ListSessions(context.Background())
	wantCode(t, err, CodeMonitorStopped)

	h, err := s.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.Status != "stopped" {
		t.Fatalf("Health().Status = %q; want stopped", h.Status)
	}
}

func TestSnapshots(t *testing.T) {
	s, _, snaps := newTestService(t)
	ctx := context.Background()
	key := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	if err := snaps.Save(key, tracking.SessionSnapshot{URL: "https://news.example/", Passes: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	metas, err := s.ListSnapshots(ctx)
	if err != nil || len(metas) != 1 || metas[0].Key != key {
		t.Fatalf("ListSnapshots() = %v, %v", metas, err)
	}
	snap, err := s.GetSnapshot(ctx, key)
	if err != nil || snap.Passes != 1 {
		t.Fatalf("GetSnapshot() = %+v, %v", snap, err)
	}

	_, err = s.GetSnapshot(ctx, key+1)
	wantCode(t, err, CodeSnapshotNotFound)
	_, err = s.GetSnapshot(ctx, 0)
	wantCode(t, err, CodeValidation)
}

func TestSafeCookiesAndHealth(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	if err := s.safe.(*safestore.Store).RecordSafe(ctx, "consent.example", "consent", "eu"); err != nil {
		t.Fatalf("RecordSafe() error = %v", err)
	}

	records, err := s.SafeCookies(ctx, " Consent.Example ")
	if err != nil || len(records) != 1 || records[0].Key != "consent" {
		t.Fatalf("SafeCookies() = %v, %v", records, err)
	}

	h, err := s.Health(ctx)
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.Status != "degraded" || h.Sessions != 1 || h.ActiveTab != "T1" || h.OriginTabs != 2 || h.SafeKeys != 1 {
		t.Fatalf("Health() = %+v", h)
	}
}
