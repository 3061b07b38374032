package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/config"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.RateLimit.Enabled = false
	cfg.Sandbox.Backend = "process"
	cfg.Sandbox.RemoteURL = ""
	cfg.Sandbox.WorkDir = t.TempDir()
	cfg.Sandbox.WatchProfiles = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sandbox.Backend = "vm"

	_, err := NewServer(cfg, logging.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SANDBOX_BACKEND")
}

func TestNewServerRejectsBrokenProfilesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sandbox.ProfilesFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewServer(cfg, logging.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load language profiles")
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	var root map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&root))
	resp.Body.Close()
	assert.Equal(t, "online", root["status"])
	assert.Equal(t, "codesync", root["service"])

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/sessions/NOPE42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/execute", "application/json",
		strings.NewReader(`{"language":"javascript","source":"console.log(6*7)"}`))
	require.NoError(t, err)
	var result struct {
		Status string `json:"status"`
		Stdout string `json:"stdout"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "42\n", result.Stdout)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "codesync_executions_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServerLogLevel(t *testing.T) {
	logger, err := logging.New(logging.Config{Level: "info", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	cfg := testConfig(t)
	cfg.Logging.LevelRoute = true
	srv, err := NewServer(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/log/level", strings.NewReader(`{"level":"debug"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "debug", logger.AtomicLevel().String())
}

func TestServerLogLevelRouteOffByDefault(t *testing.T) {
	logger, err := logging.New(logging.Config{Level: "info", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	srv, err := NewServer(testConfig(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/log/level", strings.NewReader(`{"level":"debug"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "info", logger.AtomicLevel().String())
}

func TestServerProfilesOverlay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sandbox.ProfilesFile = filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(cfg.Sandbox.ProfilesFile, []byte(`profiles:
  - language: shell
    aliases: [sh]
    backend: process
    file: main.sh
    run: ["/bin/sh", "{file}"]
`), 0o644))

	srv := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/execute", "application/json",
		strings.NewReader(`{"language":"sh","code":"echo hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"stdout":"hi\n"`)
}

func TestServerCompressesResponses(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestServerWithoutCompression(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Compression = false
	srv := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
}

func TestServeAndShutdown(t *testing.T) {
	srv, err := NewServer(testConfig(t), logging.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	// The websocket upgrade must pass through the compression wrapper
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connected", frame.Type)
	require.Eventually(t, func() bool { return srv.Gateway().Connections() == 1 },
		2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
