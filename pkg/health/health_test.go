package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingCheck() CheckFunc {
	return func(_ context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(_ context.Context) error { return errors.New(msg) }
}

func get(h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func runN(s *state, n int) {
	for range n {
		s.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		check    CheckFunc
		runs     int
		wantCode int
		wantBody string
	}{
		{
			name:     "passing",
			check:    passingCheck(),
			runs:     1,
			wantCode: http.StatusOK,
			wantBody: `{"status":"ok"}`,
		},
		{
			name:     "failing past threshold",
			check:    failingCheck("connection refused"),
			runs:     3,
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"status":"unhealthy","checks":{"db":"connection refused"}}`,
		},
		{
			name:     "failing below threshold",
			check:    failingCheck("temporary"),
			runs:     2,
			wantCode: http.StatusOK,
			wantBody: `{"status":"ok"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, tt.check)
			runN(h.checks[0], tt.runs)

			w := get(h.LiveEndpoint, "/livez")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestLiveEndpoint_IgnoresReadinessChecks(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, failingCheck("down"))
	runN(h.checks[0], 3)

	assert.Equal(t, http.StatusOK, get(h.LiveEndpoint, "/livez").Code)
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passingCheck())

	w := get(h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, get(h.ReadyEndpoint, "/readyz").Code)

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, get(h.ReadyEndpoint, "/readyz").Code)
}

func TestReadyEndpoint_OneFailing(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, passingCheck())
	h.AddReadinessCheck("cache", time.Second, failingCheck("cache miss"))
	h.SetReady(true)
	runN(h.checks[1], 3)

	w := get(h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"cache":"cache miss"}}`, w.Body.String())
	assert.False(t, h.IsReady())
}

func TestCustomThresholds(t *testing.T) {
	failing := true
	h := New()
	h.Add(Check{
		Name:             "flaky",
		Target:           Readiness,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Func: func(context.Context) error {
			if failing {
				return errors.New("down")
			}
			return nil
		},
	})
	h.SetReady(true)
	s := h.checks[0]

	runN(s, 1)
	assert.False(t, h.IsReady())

	failing = false
	runN(s, 1)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	runN(s, 1)
	assert.True(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	var (
		mu   sync.Mutex
		runs int
	)
	h := New()
	h.AddLivenessCheck("counter", time.Second, func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 2
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()

	mu.Lock()
	stopped := runs
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, stopped, runs, "no runs after Stop returns")
	mu.Unlock()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, failingCheck("err"))
	h.AddReadinessCheck("ready", time.Second, passingCheck())
	h.SetReady(true)

	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				get(h.LiveEndpoint, "/livez")
				get(h.ReadyEndpoint, "/readyz")
			}
		}()
	}
	wg.Wait()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, PingCheck(pinger{})(ctx))
	assert.ErrorContains(t, PingCheck(pinger{err: errors.New("refused")})(ctx), "refused")

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))
}
