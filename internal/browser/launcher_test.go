package browser

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"
)

func TestArgs(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 9333, ProfileDir: "/tmp/p", Headless: true})
	args := l.args()

	for _, want := range []string{"--remote-debugging-port=9333", "--user-data-dir=/tmp/p", "--headless=new", "--window-size=1920,1080"} {
		if !slices.Contains(args, want) {
			t.Fatalf("args() = %v; missing %s", args, want)
		}
	}
	if args[len(args)-1] != "about:blank" {
		t.Fatalf("last arg = %q; want about:blank", args[len(args)-1])
	}
}

func TestDetectBrowserExplicit(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "chrome")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := detectBrowser(bin)
	if err != nil || got != bin {
		t.Fatalf("detectBrowser() = %q, %v; want %q", got, err, bin)
	}
	if _, err := detectBrowser(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("detectBrowser(missing) error = nil")
	}
}

func TestLaunchSkipsWhenPortInUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	l := NewLauncher(Config{CDPAddress: host, CDPPort: port, BinaryPath: "/nonexistent"})
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v; want nil", err)
	}
	if l.Running() {
		t.Fatal("Running() = true; want false")
	}
}

func TestWaitForCDP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	l := NewLauncher(Config{CDPAddress: host, CDPPort: port, ReadyWithin: 2 * time.Second})
	if err := l.waitForCDP(context.Background()); err != nil {
		t.Fatalf("waitForCDP() error = %v", err)
	}
}
