package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTurnstileServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestTurnstileClient_Verify_Success(t *testing.T) {
	var got turnstileRequest
	srv := newTurnstileServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"hostname":"example.com"}`))
	})
	c := NewTurnstileClient("site-secret", srv.URL, time.Second, zap.NewNop())

	err := c.Verify(context.Background(), "token-123", "203.0.113.7")

	require.NoError(t, err)
	assert.Equal(t, "site-secret", got.Secret)
	assert.Equal(t, "token-123", got.Response)
	assert.Equal(t, "203.0.113.7", got.RemoteIP)
}

func TestTurnstileClient_Verify_Rejected(t *testing.T) {
	srv := newTurnstileServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response","timeout-or-duplicate"]}`))
	})
	c := NewTurnstileClient("site-secret", srv.URL, time.Second, zap.NewNop())

	err := c.Verify(context.Background(), "bad", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChallengeFailed)
	var ce *ChallengeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"invalid-input-response", "timeout-or-duplicate"}, ce.Codes)
}

func TestTurnstileClient_Verify_MissingToken(t *testing.T) {
	c := NewTurnstileClient("site-secret", "http://127.0.0.1:1", time.Second, zap.NewNop())

	err := c.Verify(context.Background(), "  ", "")

	assert.ErrorIs(t, err, ErrChallengeFailed)
}

func TestTurnstileClient_Verify_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := newTurnstileServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })
	c := NewTurnstileClient("site-secret", srv.URL, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	err := c.Verify(context.Background(), "token", "")

	assert.ErrorIs(t, err, ErrChallengeFailed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTurnstileClient_Verify_BadStatusAndBody(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		srv := newTurnstileServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		c := NewTurnstileClient("s", srv.URL, time.Second, zap.NewNop())

		assert.ErrorIs(t, c.Verify(context.Background(), "token", ""), ErrChallengeFailed)
	})

	t.Run("malformed json", func(t *testing.T) {
		srv := newTurnstileServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		})
		c := NewTurnstileClient("s", srv.URL, time.Second, zap.NewNop())

		assert.ErrorIs(t, c.Verify(context.Background(), "token", ""), ErrChallengeFailed)
	})
}
