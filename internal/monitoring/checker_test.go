package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/config"
)

type countingAlerts struct{ sent int }

func (c *countingAlerts) ObserveAlerts(sent int) { c.sent += sent }

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, FailingAuthorityThreshold: 0.1}
	checker := NewChecker(NewCollector(&mockRuns{}, nil), NewAlerter(cfg), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&mockRuns{}, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{}, nil)
	assert.NotNil(t, checker)

	// Start and immediately cancel to verify it doesn't panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_AlertsOncePerRun(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, FailingAuthorityThreshold: 0.25}
	runs := failingRun()
	obs := &countingAlerts{}
	checker := NewChecker(NewCollector(runs, nil), NewAlerter(cfg), cfg, obs)

	assert.Equal(t, 1, checker.Check(context.Background(), zap.NewNop()))
	assert.Equal(t, 0, checker.Check(context.Background(), zap.NewNop()), "same run is not re-alerted")

	runs.summary.RunID = 8
	assert.Equal(t, 1, checker.Check(context.Background(), zap.NewNop()))

	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 2, obs.sent)
}

func TestChecker_RetriesUndeliveredAlerts(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, FailingAuthorityThreshold: 0.25}
	checker := NewChecker(NewCollector(failingRun(), nil), NewAlerter(cfg), cfg, nil)

	assert.Equal(t, 0, checker.Check(context.Background(), zap.NewNop()))
	fail.Store(false)
	assert.Equal(t, 1, checker.Check(context.Background(), zap.NewNop()))
}
