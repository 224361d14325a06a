package httpx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/randchat/pkg/httpx"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestParseRetryFromEnv(t *testing.T) {
	def := httpx.RetryConfig{RequestsPerWindow: 10, Window: time.Minute, Burst: 2}

	t.Run("defaults without env", func(t *testing.T) {
		require.Equal(t, def, httpx.ParseRetryFromEnv("UNSET_PREFIX", def))
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("RETRY_TEST_REQUESTS", "60")
		t.Setenv("RETRY_TEST_WINDOW_SEC", "30")
		t.Setenv("RETRY_TEST_BURST", "5")

		got := httpx.ParseRetryFromEnv("TEST", def)
		require.Equal(t, 60, got.RequestsPerWindow)
		require.Equal(t, 30*time.Second, got.Window)
		require.Equal(t, 5, got.Burst)
	})

	t.Run("ignores invalid values", func(t *testing.T) {
		t.Setenv("RETRY_BAD_REQUESTS", "-1")
		t.Setenv("RETRY_BAD_WINDOW_SEC", "abc")
		t.Setenv("RETRY_BAD_BURST", "0")

		require.Equal(t, def, httpx.ParseRetryFromEnv("BAD", def))
	})
}

func TestRetryConfigLimit(t *testing.T) {
	require.Equal(t, rate.Limit(2), httpx.RetryConfig{RequestsPerWindow: 120, Window: time.Minute}.Limit())
	require.Equal(t, rate.Inf, httpx.RetryConfig{}.Limit())
}

func TestPacer(t *testing.T) {
	t.Run("burst passes immediately", func(t *testing.T) {
		p := httpx.NewPacer(httpx.RetryConfig{RequestsPerWindow: 1, Window: time.Hour, Burst: 3})
		for range 3 {
			require.NoError(t, p.Wait(context.Background()))
		}
	})

	t.Run("exhausted bucket honours cancellation", func(t *testing.T) {
		p := httpx.NewPacer(httpx.RetryConfig{RequestsPerWindow: 1, Window: time.Hour, Burst: 1})
		require.NoError(t, p.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		require.Error(t, p.Wait(ctx))
	})

	t.Run("nil pacer never waits", func(t *testing.T) {
		var p *httpx.Pacer
		require.NoError(t, p.Wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, p.Wait(ctx), context.Canceled)
	})
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.WriteJSON(rec, http.StatusCreated, map[string]string{"secret": "s"})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.JSONEq(t, `{"secret":"s"}`, rec.Body.String())
}

func TestWriteJSONLine(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, httpx.WriteJSONLine(rec, "thread-1"))
	require.NoError(t, httpx.WriteJSONLine(rec, map[string]int{"t": 5}))

	require.Equal(t, "\"thread-1\"\n{\"t\":5}\n", rec.Body.String())
	require.True(t, rec.Flushed)
}

func TestIsSuccess(t *testing.T) {
	require.True(t, httpx.IsSuccess(http.StatusNoContent))
	require.False(t, httpx.IsSuccess(httpx.StatusOriginTimeout))
}
