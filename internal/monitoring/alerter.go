package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailingAuthorities AlertType = "failing_authorities"
	AlertAuthorityDown      AlertType = "authority_down"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.RunID != 0 && snap.AuthorityCount > 0 && snap.FailingAuthorityRatio > a.cfg.FailingAuthorityThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailingAuthorities,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d of %d authorities failing in run %d (%.1f%%, threshold %.1f%%): %s",
				snap.FailingAuthorityCount, snap.AuthorityCount, snap.RunID,
				snap.FailingAuthorityRatio*100, a.cfg.FailingAuthorityThreshold*100,
				strings.Join(snap.FailingAuthorities, ", "),
			),
			Details: map[string]any{
				"run_id":           snap.RunID,
				"failing_ratio":    snap.FailingAuthorityRatio,
				"threshold":        a.cfg.FailingAuthorityThreshold,
				"failing":          snap.FailingAuthorities,
				"failing_scenario": snap.FailingScenarioCount,
			},
			Timestamp: now,
		})
	}

	if len(snap.DownAuthorities) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertAuthorityDown,
			Severity: "medium",
			Message: fmt.Sprintf("%d authorit%s down today: %s",
				len(snap.DownAuthorities), plural(len(snap.DownAuthorities)),
				strings.Join(snap.DownAuthorities, ", "),
			),
			Details: map[string]any{
				"down": snap.DownAuthorities,
			},
			Timestamp: now,
		})
	}

	return alerts
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
