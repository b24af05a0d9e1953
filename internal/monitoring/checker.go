package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/config"
)

// AlertObserver counts delivered alerts, e.g. for metrics.
type AlertObserver interface {
	ObserveAlerts(sent int)
}

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	observer  AlertObserver

	// alerted remembers which alert types already fired for which run, so a
	// failing run is reported once rather than on every tick.
	alerted map[AlertType]int64
}

// NewChecker creates a background alert checker. observer may be nil.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, observer AlertObserver) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		observer:  observer,
		alerted:   make(map[AlertType]int64),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Float64("failing_authority_threshold", c.cfg.FailingAuthorityThreshold),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check runs one collect/evaluate/send cycle and returns the alerts sent.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect snapshot", zap.Error(err))
		return 0
	}

	var fresh []Alert
	for _, a := range c.alerter.Evaluate(snap) {
		if last, ok := c.alerted[a.Type]; ok && last == snap.RunID {
			continue
		}
		fresh = append(fresh, a)
	}
	if len(fresh) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	if sent == len(fresh) {
		for _, a := range fresh {
			c.alerted[a.Type] = snap.RunID
		}
	}
	if c.observer != nil {
		c.observer.ObserveAlerts(sent)
	}
	log.Info("monitoring: alert check complete",
		zap.Int64("run_id", snap.RunID),
		zap.Int("alerts_triggered", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
