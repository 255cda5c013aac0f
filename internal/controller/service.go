package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/monitor"
	"github.com/dgnsrekt/shadowtrack/internal/safestore"
	"github.com/dgnsrekt/shadowtrack/internal/snapshot"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

// Inspector gives read access to the live registry.
type Inspector interface {
	Inspect(ctx context.Context, fn func(*tracking.Registry)) error
	Stats() monitor.Stats
}

type SnapshotReader interface {
	List() ([]snapshot.Meta, error)
	Get(key int64) (tracking.SessionSnapshot, error)
}

type SafeCookieReader interface {
	Records(ctx context.Context, domain string) ([]safestore.Record, error)
	Stats() (domains, keys int)
	Persistent() bool
}

type TabCounter interface {
	TabCount() (origins, shadows int)
}

// Health is the monitor's self-report.
type Health struct {
	Status         string        `json:"status"`
	Uptime         string        `json:"uptime"`
	ActiveTab      string        `json:"active_tab,omitempty"`
	Sessions       int           `json:"sessions"`
	Orphans        int           `json:"orphans"`
	Monitor        monitor.Stats `json:"monitor"`
	SafeDomains    int           `json:"safe_domains"`
	SafeKeys       int           `json:"safe_keys"`
	SafePersistent bool          `json:"safe_persistent"`
	OriginTabs     int           `json:"origin_tabs"`
	ShadowTabs     int           `json:"shadow_tabs"`
}

// Service answers read queries over live sessions and stored evidence.
type Service struct {
	mon     Inspector
	snaps   SnapshotReader
	safe    SafeCookieReader
	tabs    TabCounter
	started time.Time
}

// NewService wires the readers. tabs may be nil when no browser is attached.
func NewService(mon Inspector, snaps SnapshotReader, safe SafeCookieReader, tabs TabCounter) *Service {
	return &Service{mon: mon, snaps: snaps, safe: safe, tabs: tabs, started: time.Now()}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &CodedError{Code: CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) inspect(ctx context.Context, fn func(*tracking.Registry)) error {
	if err := s.mon.Inspect(ctx, fn); err != nil {
		if errors.Is(err, monitor.ErrStopped) {
			return &CodedError{Code: CodeMonitorStopped, Message: "monitor is not running", Cause: err}
		}
		return err
	}
	return nil
}

func (s *Service) ListSessions(ctx context.Context) ([]tracking.SessionSummary, error) {
	var out []tracking.SessionSummary
	err := s.inspect(ctx, func(r *tracking.Registry) {
		out = r.Summaries()
	})
	return out, err
}

// GetSession returns a copy of the session on tabID, with its shadow nested
// for origin sessions.
func (s *Service) GetSession(ctx context.Context, tabID string) (tracking.SessionSnapshot, error) {
	tabID = strings.TrimSpace(tabID)
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return tracking.SessionSnapshot{}, err
	}
	var (
		snap  tracking.SessionSnapshot
		found bool
	)
	err := s.inspect(ctx, func(r *tracking.Registry) {
		if sess, ok := r.Session(tabID); ok {
			snap, found = sess.Snapshot(), true
		}
	})
	if err != nil {
		return tracking.SessionSnapshot{}, err
	}
	if !found {
		return tracking.SessionSnapshot{}, &CodedError{Code: CodeSessionNotFound, Message: "no session on tab " + tabID}
	}
	return snap, nil
}

func (s *Service) Orphans(ctx context.Context) ([]tracking.Orphan, error) {
	var out []tracking.Orphan
	err := s.inspect(ctx, func(r *tracking.Registry) {
		out = r.Orphans()
	})
	return out, err
}

func (s *Service) ListSnapshots(ctx context.Context) ([]snapshot.Meta, error) {
	_ = ctx
	metas, err := s.snaps.List()
	if err != nil {
		return nil, &CodedError{Code: CodeStoreFailure, Message: "list snapshots", Cause: err}
	}
	return metas, nil
}

func (s *Service) GetSnapshot(ctx context.Context, key int64) (tracking.SessionSnapshot, error) {
	_ = ctx
	if key <= 0 {
		return tracking.SessionSnapshot{}, &CodedError{Code: CodeValidation, Message: "key must be a positive millisecond timestamp"}
	}
	snap, err := s.snaps.Get(key)
	if errors.Is(err, snapshot.ErrNotFound) {
		return tracking.SessionSnapshot{}, &CodedError{Code: CodeSnapshotNotFound, Message: fmt.Sprintf("snapshot %d not found", key)}
	}
	if err != nil {
		return tracking.SessionSnapshot{}, &CodedError{Code: CodeStoreFailure, Message: "read snapshot", Cause: err}
	}
	return snap, nil
}

// SafeCookies lists recorded safe cookies, all of them when domain is empty.
func (s *Service) SafeCookies(ctx context.Context, domain string) ([]safestore.Record, error) {
	records, err := s.safe.Records(ctx, strings.ToLower(strings.TrimSpace(domain)))
	if err != nil {
		return nil, &CodedError{Code: CodeStoreFailure, Message: "read safe cookies", Cause: err}
	}
	return records, nil
}

func (s *Service) Health(ctx context.Context) (Health, error) {
	h := Health{
		Status:         "ok",
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Monitor:        s.mon.Stats(),
		SafePersistent: s.safe.Persistent(),
	}
	h.SafeDomains, h.SafeKeys = s.safe.Stats()
	if s.tabs != nil {
		h.OriginTabs, h.ShadowTabs = s.tabs.TabCount()
	}
	err := s.inspect(ctx, func(r *tracking.Registry) {
		h.ActiveTab = r.ActiveTab()
		h.Sessions = len(r.Summaries())
		h.Orphans = len(r.Orphans())
	})
	if err != nil {
		var coded *CodedError
		if errors.As(err, &coded) && coded.Code == CodeMonitorStopped {
			h.Status = "stopped"
			return h, nil
		}
		return h, err
	}
	if !h.SafePersistent {
		h.Status = "degraded"
	}
	return h, nil
}
