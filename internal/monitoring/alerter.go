// Package monitoring raises webhook alerts when a deduplication run breaches
// configured health thresholds.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-resolver/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate      AlertType = "oracle_failure_rate"
	AlertCostOverrun      AlertType = "cost_overrun"
	AlertSuspiciousMerges AlertType = "suspicious_merges"
	AlertInterrupted      AlertType = "run_interrupted"
)

// minComparisons is the smallest run whose failure rate is meaningful.
const minComparisons = 5

// Config holds alert thresholds. A zero threshold disables its check.
type Config struct {
	WebhookURL           string
	FailureRateThreshold float64
	CostThresholdUSD     float64
	SuspiciousThreshold  int
}

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	RunID     string         `json:"run_id"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates run statistics against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter.
func NewAlerter(cfg Config) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate checks one run's stats against thresholds and returns any alerts.
func (a *Alerter) Evaluate(s model.Stats) []Alert {
	var alerts []Alert
	now := a.now().UTC()
	add := func(t AlertType, severity, msg string, details map[string]any) {
		alerts = append(alerts, Alert{
			Type:      t,
			Severity:  severity,
			RunID:     s.RunID,
			Message:   msg,
			Details:   details,
			Timestamp: now,
		})
	}

	if a.cfg.FailureRateThreshold > 0 && s.Comparisons >= minComparisons {
		rate := float64(s.FailedComparisons) / float64(s.Comparisons)
		if rate > a.cfg.FailureRateThreshold {
			add(AlertFailureRate, "high", fmt.Sprintf(
				"Oracle failure rate %.1f%% exceeds threshold %.1f%% (%d of %d comparisons undecided)",
				rate*100, a.cfg.FailureRateThreshold*100, s.FailedComparisons, s.Comparisons,
			), map[string]any{
				"failure_rate": rate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       s.FailedComparisons,
				"comparisons":  s.Comparisons,
			})
		}
	}

	if a.cfg.CostThresholdUSD > 0 && s.OracleUsage.EstimatedCostUSD > a.cfg.CostThresholdUSD {
		add(AlertCostOverrun, "high", fmt.Sprintf(
			"Oracle cost $%.2f exceeds threshold $%.2f",
			s.OracleUsage.EstimatedCostUSD, a.cfg.CostThresholdUSD,
		), map[string]any{
			"cost_usd":      s.OracleUsage.EstimatedCostUSD,
			"threshold_usd": a.cfg.CostThresholdUSD,
			"calls":         s.OracleUsage.Calls,
		})
	}

	if a.cfg.SuspiciousThreshold > 0 && s.SuspiciousMerges >= a.cfg.SuspiciousThreshold {
		add(AlertSuspiciousMerges, "medium", fmt.Sprintf(
			"%d accepted matches have conflicting first names",
			s.SuspiciousMerges,
		), map[string]any{
			"suspicious": s.SuspiciousMerges,
			"threshold":  a.cfg.SuspiciousThreshold,
		})
	}

	if s.Interrupted {
		add(AlertInterrupted, "medium", "Run was interrupted; outputs are partial", map[string]any{
			"comparisons": s.Comparisons,
			"batches":     s.OracleBatches,
		})
	}

	return alerts
}

// Check evaluates s and sends any alerts. It returns the number sent.
func (a *Alerter) Check(ctx context.Context, s model.Stats) int {
	alerts := a.Evaluate(s)
	if len(alerts) == 0 {
		return 0
	}
	return a.SendAlerts(ctx, alerts)
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
				zap.String("run_id", alert.RunID),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("run_id", alert.RunID),
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
