package snapshot

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

func testSnapshot(url string, trackers int) tracking.SessionSnapshot {
	snap := tracking.SessionSnapshot{
		ID:        "session-1",
		TabID:     "tab-1",
		URL:       url,
		Domain:    "news.example",
		CreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Passes:    1,
		Shadow:    &tracking.SessionSnapshot{ID: "session-2", Kind: tracking.ShadowSession},
	}
	for i := 0; i < trackers; i++ {
		snap.Domains = append(snap.Domains, tracking.DomainSnapshot{Name: "t.example", Tracker: true})
	}
	return snap
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(1000, testSnapshot("https://news.example/", 2)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Get(1000)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.URL != "https://news.example/" || got.Shadow == nil || got.Shadow.Kind != tracking.ShadowSession {
		t.Fatalf("Get() = %+v; want origin with nested shadow", got)
	}
}

func TestSaveReplacesEarlierPass(t *testing.T) {
	s := newTestStore(t)
	first := testSnapshot("https://news.example/", 0)
	second := first
	second.Passes = 2
	if err := s.Save(1000, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(1000, second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	metas, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(metas) != 1 || metas[0].Passes != 2 {
		t.Fatalf("List() = %+v; want one entry at pass 2", metas)
	}
}

func TestGetErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(0); err == nil {
		t.Fatal("Get(0) error = nil; want invalid key")
	}
	if _, err := s.Get(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(42) error = %v; want ErrNotFound", err)
	}
}

func TestListNewestFirstSkipsCorrupt(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []int64{10, 30, 20} {
		if err := s.Save(key, testSnapshot("https://news.example/", 1)); err != nil {
			t.Fatalf("Save(%d) error = %v", key, err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.dir, "40.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(old) })

	metas, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(metas) != 3 || metas[0].Key != 30 || metas[2].Key != 10 {
		t.Fatalf("List() = %+v; want keys 30, 20, 10", metas)
	}
	if metas[0].Trackers != 1 || !metas[0].HasShadow {
		t.Fatalf("meta = %+v; want 1 tracker with shadow", metas[0])
	}
	if !strings.Contains(buf.String(), "snapshot skipped") {
		t.Fatalf("expected skip log, got %q", buf.String())
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	for key := int64(1); key <= 5; key++ {
		if err := s.Save(key, testSnapshot("https://news.example/", 0)); err != nil {
			t.Fatalf("Save(%d) error = %v", key, err)
		}
	}
	removed, err := s.Prune(2)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("Prune() = %d; want 3", removed)
	}
	metas, _ := s.List()
	if len(metas) != 2 || metas[0].Key != 5 || metas[1].Key != 4 {
		t.Fatalf("List() after prune = %+v; want keys 5, 4", metas)
	}
	if n, _ := s.Prune(0); n != 0 {
		t.Fatalf("Prune(0) = %d; want 0", n)
	}
}
