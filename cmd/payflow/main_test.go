package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/payflow/payflow/internal/adapter/fsm"
	handler "github.com/payflow/payflow/internal/adapter/http"
	"github.com/payflow/payflow/internal/adapter/sqlite"
	"github.com/payflow/payflow/internal/app"
	"github.com/payflow/payflow/internal/provider"
	"github.com/payflow/payflow/internal/provider/mercantil"
	"github.com/payflow/payflow/internal/ratelimit"
)

// TestSmoke wires the stack like main() (minus OTel and River) and
// verifies it responds.
func TestSmoke(t *testing.T) {
	store, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bank := mercantil.New(mercantil.Config{
		BaseURL:         "https://bank.invalid/api",
		CheckoutBaseURL: "https://pay.invalid",
		SecretKey:       "test-key",
	}, logger)

	router, err := provider.NewRouter(bank)
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	svc := app.NewSessionService(store.Sessions(), store.Merchants(), router, fsm.New(), logger)
	limiter := ratelimit.New(ratelimit.Config{Window: time.Minute, Max: 100})

	mux := chi.NewMux()
	api := humachi.New(mux, huma.DefaultConfig("payflow", "0.1.0"))
	handler.Register(api, svc, limiter)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/api/v1/merchants", nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/v1/merchants failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var merchants []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&merchants); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(merchants) != 0 {
		t.Errorf("got %d merchants, want 0 (empty database)", len(merchants))
	}
}

// TestRun exercises the real run() function end-to-end: OTel, River, HTTP
// server, and graceful shutdown. It uses the stdout OTel exporter and a
// temp database to avoid external dependencies.
func TestRun(t *testing.T) {
	t.Setenv("PAYFLOW_DATABASE_PATH", t.TempDir()+"/test-run.db")
	t.Setenv("PAYFLOW_SERVER_PORT", "19876")
	t.Setenv("PAYFLOW_OTEL_EXPORTER", "stdout")
	t.Setenv("PAYFLOW_OTEL_ENVIRONMENT", "test")

	// Discard OTel stdout exporter output during the test.
	origStdout := os.Stdout
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("opening /dev/null: %v", err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = origStdout
		devNull.Close()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- run() }()

	// Wait for the HTTP server to become ready.
	serverURL := "http://localhost:19876"
	ready := false
	for i := 0; i < 50; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL+"/api/v1/merchants", nil)
		resp, reqErr := http.DefaultClient.Do(req)
		if reqErr == nil {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ready {
		t.Fatal("server did not start within 5 seconds")
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL+"/api/v1/merchants", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/v1/merchants failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Send SIGINT to trigger graceful shutdown.
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("finding process: %v", err)
	}
	if err := proc.Signal(syscall.SIGINT); err != nil {
		t.Fatalf("sending SIGINT: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not exit within 10 seconds")
	}
}

// TestRun_InvalidDB verifies run() returns an error for an invalid database path.
func TestRun_InvalidDB(t *testing.T) {
	t.Setenv("PAYFLOW_DATABASE_PATH", "/nonexistent/path/db.sqlite")
	t.Setenv("PAYFLOW_SERVER_PORT", "19877")
	t.Setenv("PAYFLOW_OTEL_EXPORTER", "stdout")
	t.Setenv("PAYFLOW_OTEL_ENVIRONMENT", "test")

	// Discard OTel stdout output.
	origStdout := os.Stdout
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("opening /dev/null: %v", err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = origStdout
		devNull.Close()
	})

	if err := run(); err == nil {
		t.Fatal("expected error for invalid database path, got nil")
	}
}
