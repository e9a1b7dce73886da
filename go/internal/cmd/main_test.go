package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcdev12/relay/go/internal/bridge"
	"github.com/mcdev12/relay/go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServices(t *testing.T) *Services {
	t.Helper()
	s, err := setupServices(context.Background(), config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Bus.Close() })
	return s
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("RELAY_TEST_INT", "42")
	t.Setenv("RELAY_TEST_BAD_INT", "x")
	t.Setenv("RELAY_TEST_DUR", "250ms")
	t.Setenv("RELAY_TEST_LIST", " a, ,b ,c")

	assert.Equal(t, "fallback", getEnv("RELAY_TEST_UNSET", "fallback"))
	assert.Equal(t, 42, getEnvAsInt("RELAY_TEST_INT", 1))
	assert.Equal(t, 1, getEnvAsInt("RELAY_TEST_BAD_INT", 1))
	assert.Equal(t, 250*time.Millisecond, getEnvAsDuration("RELAY_TEST_DUR", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvAsList("RELAY_TEST_LIST"))
	assert.Nil(t, getEnvAsList("RELAY_TEST_UNSET"))
}

func TestSetupServices_Anonymous(t *testing.T) {
	t.Setenv("RELAY_TOKEN_SECRET", "")
	t.Setenv("RELAY_BRIDGE", "")
	t.Setenv("RELAY_NODE_ID", "node-1")

	s := newTestServices(t)
	assert.Nil(t, s.Issuer)
	assert.Nil(t, s.Bridge)
	assert.Equal(t, "node-1", s.Bus.PublisherID())
}

func TestSetupServices_WithTokens(t *testing.T) {
	t.Setenv("RELAY_TOKEN_SECRET", testSecret)
	t.Setenv("RELAY_TOKEN_CHANNELS", "status-updates,timer-1")
	t.Setenv("RELAY_BRIDGE", "")

	s := newTestServices(t)
	require.NotNil(t, s.Issuer)

	token, _, err := s.Issuer.IssueToken(context.Background(), "alice")
	require.NoError(t, err)
	grant, err := s.Issuer.VerifyToken(token)
	require.NoError(t, err)
	assert.True(t, grant.Allows("timer-1"))
	assert.False(t, grant.Allows("timer-2"))
}

func TestSetupServices_RejectsBadSettings(t *testing.T) {
	t.Setenv("RELAY_TOKEN_SECRET", "short")
	_, err := setupServices(context.Background(), config.Default())
	assert.Error(t, err)

	t.Setenv("RELAY_TOKEN_SECRET", "")
	t.Setenv("RELAY_BRIDGE", "carrier-pigeon")
	_, err = setupServices(context.Background(), config.Default())
	assert.ErrorContains(t, err, "unknown RELAY_BRIDGE")
}

func TestHandler_HealthAndCORS(t *testing.T) {
	t.Setenv("RELAY_TOKEN_SECRET", "")
	t.Setenv("RELAY_BRIDGE", "")
	srv := httptest.NewServer(newHandler(newTestServices(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/publish", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServices_StartStop(t *testing.T) {
	t.Setenv("RELAY_TOKEN_SECRET", "")
	t.Setenv("RELAY_BRIDGE", "")
	s, err := setupServices(context.Background(), config.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("services did not stop")
	}
}

type stubBridge struct{ err error }

func (b stubBridge) Start(ctx context.Context) error { <-ctx.Done(); return nil }
func (b stubBridge) Check(context.Context) error     { return b.err }
func (b stubBridge) Close() error                    { return nil }

func TestHandler_HealthReflectsBridge(t *testing.T) {
	t.Setenv("RELAY_TOKEN_SECRET", "")
	t.Setenv("RELAY_BRIDGE", "")

	tests := []struct {
		name   string
		bridge stubBridge
		want   int
	}{
		{"bridge up", stubBridge{}, http.StatusOK},
		{"bridge down", stubBridge{err: bridge.ErrDisconnected}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServices(t)
			s.Bridge = tt.bridge

			srv := httptest.NewServer(newHandler(s))
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/health")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
