// ABOUTME: Tests for the gateway HTTP surface and WebSocket endpoint
// ABOUTME: Uses httptest servers over the gateway's own mux

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/2389/inbox-gateway/internal/config"
	"github.com/2389/inbox-gateway/internal/wire"
)

func newTestGateway(t *testing.T, mutate func(*config.Config)) *Gateway {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Profile:  config.ProfileConfig{Path: filepath.Join(dir, "profile.md")},
	}
	if mutate != nil {
		mutate(cfg)
	}

	g, err := New(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	})
	return g
}

func TestGateway_HealthEndpoints(t *testing.T) {
	g := newTestGateway(t, nil)
	srv := httptest.NewServer(g.mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))

	ready, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
	readyBody, err := io.ReadAll(ready.Body)
	require.NoError(t, err)
	assert.Contains(t, string(readyBody), "ready (0 clients, 0 sessions)")
}

func TestGateway_ProfileEndpoint(t *testing.T) {
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profile.md")
	require.NoError(t, os.WriteFile(profilePath, []byte("# Dana\nLikes brief answers.\n"), 0644))

	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Profile.Path = profilePath
	})
	srv := httptest.NewServer(g.mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/profile")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got profileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "# Dana\nLikes brief answers.\n", got.Content)
}

func TestGateway_ProfileEndpointMissingFileIsEmpty(t *testing.T) {
	g := newTestGateway(t, nil)
	srv := httptest.NewServer(g.mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/profile")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got profileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Empty(t, got.Content)
}

func TestGateway_ProfileEndpointRejectsPost(t *testing.T) {
	g := newTestGateway(t, nil)
	srv := httptest.NewServer(g.mux)
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/api/profile", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGateway_WebSocketGreetingAndInbox(t *testing.T) {
	g := newTestGateway(t, nil)
	srv := httptest.NewServer(g.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, first, err := conn.Read(ctx)
	require.NoError(t, err)
	var greeting map[string]any
	require.NoError(t, json.Unmarshal(first, &greeting))
	assert.Equal(t, wire.TypeConnected, greeting["type"])
	assert.Equal(t, "Connected to email assistant", greeting["message"])

	_, second, err := conn.Read(ctx)
	require.NoError(t, err)
	var inbox map[string]any
	require.NoError(t, json.Unmarshal(second, &inbox))
	assert.Equal(t, wire.TypeInboxUpdate, inbox["type"])
	_, hasEmails := inbox["emails"]
	assert.True(t, hasEmails)
}

func TestGateway_WebSocketUnknownTypeGetsError(t *testing.T) {
	g := newTestGateway(t, nil)
	srv := httptest.NewServer(g.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Drain the greeting and initial inbox.
	_, _, err = conn.Read(ctx)
	require.NoError(t, err)
	_, _, err = conn.Read(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"astral_projection"}`)))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg wire.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, wire.TypeError, msg.Type)
	assert.Equal(t, "Unknown message type", msg.Error)
}

func TestGateway_WebSocketDisconnectDropsClient(t *testing.T) {
	g := newTestGateway(t, nil)
	srv := httptest.NewServer(g.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return g.broker.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		return g.broker.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
