package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
)

func serveOpsEndpoints(t *testing.T, storagePing func(context.Context) error) (string, context.CancelFunc) {
	t.Helper()

	rt, err := initRuntimeDependencies(context.Background(), Config{StorageDriver: StorageDriverMemory}, log.WithField("test", "ops"))
	if err != nil {
		t.Fatalf("init runtime: %v", err)
	}
	if storagePing != nil {
		rt.ping = storagePing
	}

	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	srv := startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "ops"), newHealthHandler(rt, nil, nil, 10))
	if srv == nil {
		cancel()
		t.Fatal("startMetricsServer should not return nil")
	}
	t.Cleanup(cancel)

	base := fmt.Sprintf("http://localhost:%d", port)
	waitForHTTP(t, base+"/livez")
	return base, cancel
}

func TestStartMetricsServer_Endpoints(t *testing.T) {
	base, _ := serveOpsEndpoints(t, nil)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/metrics", wantStatus: http.StatusOK, wantBody: "go_goroutines"},
		{path: "/healthz", wantStatus: http.StatusOK, wantBody: `"storage"`},
		{path: "/readyz", wantStatus: http.StatusOK},
		{path: "/livez", wantStatus: http.StatusOK, wantBody: "ok"},
		{path: "/version", wantStatus: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			status, body := get(t, base+tc.path)
			if status != tc.wantStatus {
				t.Fatalf("%s returned %d, want %d", tc.path, status, tc.wantStatus)
			}
			if tc.wantBody != "" && !strings.Contains(body, tc.wantBody) {
				t.Fatalf("%s body %q does not contain %q", tc.path, body, tc.wantBody)
			}
		})
	}
}

func TestStartMetricsServer_BrokenStorage(t *testing.T) {
	base, _ := serveOpsEndpoints(t, func(context.Context) error { return errors.New("connection refused") })

	status, body := get(t, base+"/healthz")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from /healthz, got %d", status)
	}
	var resp healthcheck.Response
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp.Checks["storage"].Status != healthcheck.StatusUnhealthy {
		t.Fatalf("expected unhealthy storage, got %+v", resp.Checks["storage"])
	}

	if status, _ := get(t, base+"/readyz"); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from /readyz, got %d", status)
	}
	// живость процесса не зависит от хранилища
	if status, _ := get(t, base+"/livez"); status != http.StatusOK {
		t.Fatalf("expected 200 from /livez, got %d", status)
	}
}

func TestStartMetricsServer_StopsOnCancel(t *testing.T) {
	base, cancel := serveOpsEndpoints(t, nil)

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/livez")
		if err != nil {
			return
		}
		resp.Body.Close()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server should be stopped after context cancellation")
}

func TestShutdownHTTP(t *testing.T) {
	logger := log.WithField("test", "http-shutdown")

	// nil-сервер допустим
	shutdownHTTP(nil, logger)

	port := findFreePort(t)
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", port),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
		ReadHeaderTimeout: time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()

	url := fmt.Sprintf("http://localhost:%d/", port)
	waitForHTTP(t, url)

	shutdownHTTP(srv, logger)

	if _, err := http.Get(url); err == nil {
		t.Fatal("server should be stopped after shutdownHTTP")
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp.StatusCode, string(body)
}

func waitForHTTP(t *testing.T, url string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s did not come up", url)
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
