package normalize

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	client := NewClientWithAttempts(5)

	var out map[string]bool

	require.NoError(t, client.GetJSON(context.Background(), server.URL, &out))
	assert.True(t, out["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClientWithAttempts(5)

	var out map[string]any

	err := client.GetJSON(context.Background(), server.URL, &out)
	assert.ErrorIs(t, err, ErrServiceFailure)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_EmptySuccessBodyIsFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClientWithAttempts(2)

	var out map[string]any

	err := client.GetJSON(context.Background(), server.URL, &out)
	assert.ErrorIs(t, err, ErrServiceFailure)
}

func TestClient_ExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClientWithAttempts(3)

	var out map[string]any

	err := client.PostJSON(context.Background(), server.URL, map[string]any{}, &out)
	assert.ErrorIs(t, err, ErrServiceFailure)
	assert.Equal(t, int32(3), calls.Load())
}
