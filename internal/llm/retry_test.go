package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/threat-forecaster/internal/config"
)

func fastRetry(p Provider, n int) *Retrying {
	r := WithRetry(p, n, nil)
	r.initial = time.Millisecond
	return r
}

// testCtx bounds a retry test so a runaway retry loop fails instead of hanging.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWithRetry_RecoversFromTransientErrors(t *testing.T) {
	var calls atomic.Int32
	flaky := Func(func(context.Context, string, string) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})

	out, err := fastRetry(flaky, 2).Complete(testCtx(t), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithRetry_GivesUp(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("timeout")
	failing := Func(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "", boom
	})

	_, err := fastRetry(failing, 2).Complete(testCtx(t), "s", "u")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithRetry_AttemptCounts(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("max_retries=%d", retries), func(t *testing.T) {
			var calls atomic.Int32
			boom := errors.New("connection reset")
			failing := Func(func(context.Context, string, string) (string, error) {
				calls.Add(1)
				return "", boom
			})

			ctx := testCtx(t)
			_, err := fastRetry(failing, retries).Complete(ctx, "s", "u")
			assert.ErrorIs(t, err, boom)
			require.NoError(t, ctx.Err(), "retry loop ran until the deadline")
			assert.Equal(t, int32(retries+1), calls.Load())
		})
	}
}

func TestWithRetry_ZeroRetriesSucceeds(t *testing.T) {
	var calls atomic.Int32
	ok := Func(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "fine", nil
	})

	out, err := fastRetry(ok, 0).Complete(testCtx(t), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "fine", out)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetry_NegativeMeansNoRetry(t *testing.T) {
	var calls atomic.Int32
	failing := Func(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "", errors.New("nope")
	})

	_, err := fastRetry(failing, -2).Complete(testCtx(t), "s", "u")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetry_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, err := newProvider(config.LLMConfig{Provider: "openai", Model: "m", Endpoint: srv.URL}, srv.Client())
	require.NoError(t, err)

	_, err = fastRetry(p, 3).Complete(testCtx(t), "s", "u")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(testCtx(t))
	var calls atomic.Int32
	p := Func(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		cancel()
		return "", context.Canceled
	})

	_, err := fastRetry(p, 5).Complete(ctx, "s", "u")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetry_ForwardsFormat(t *testing.T) {
	var body map[string]interface{}
	srv := captureServer(t, http.StatusOK, chatCompletion, &body, nil)
	p, err := newProvider(config.LLMConfig{Provider: "openai", Model: "m", Endpoint: srv.URL}, srv.Client())
	require.NoError(t, err)

	r := fastRetry(p, 1)
	r.SetFormat(testSchema)
	_, err = r.Complete(testCtx(t), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "json_schema", body["response_format"].(map[string]interface{})["type"])
}
