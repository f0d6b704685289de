package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyfold/keyfold/internal/platform/logging"
)

func TestServerServesAndShutsDown(t *testing.T) {
	logger := logging.New(slog.LevelError)
	server, err := New("127.0.0.1:0", filepath.Join(t.TempDir(), "keyfold.db"), logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("expected listener address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	url := fmt.Sprintf("http://%s/healthz", server.Addr())
	var resp *http.Response
	for attempt := 0; attempt < 50; attempt++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewRejectsBadAddr(t *testing.T) {
	logger := logging.New(slog.LevelError)
	if _, err := New("256.256.256.256:99999", filepath.Join(t.TempDir(), "keyfold.db"), logger); err == nil {
		t.Fatal("expected listen error")
	}
}
