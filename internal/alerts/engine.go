package alerts

import (
	"errors"
	"fmt"
	"time"

	"cdnmon/internal/config"
	"cdnmon/internal/models"
	"cdnmon/internal/probe"
)

// Engine evaluates one normalized sample against the configured thresholds.
// It is a pure function of (sample, poll outcome, open alerts): the caller
// persists whatever comes back and forwards it to the notifier.
//
// De-duplication: while an open (unacknowledged) alert of the same
// (server, type) exists at equal or higher severity, the condition does not
// re-alert. A severity escalation emits a new alert even if the weaker one
// is still open. Acknowledging resets eligibility.
type Engine struct {
	cfg config.Thresholds
	now func() time.Time
}

func NewEngine(cfg config.Thresholds) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

func (e *Engine) Evaluate(server models.Server, m models.Metric, pollErr error, open []models.Alert) []models.Alert {
	var out []models.Alert
	emit := func(alertType, severity, message string) {
		if !shouldEmit(open, alertType, severity) {
			return
		}
		id := server.ID
		out = append(out, models.Alert{
			ServerID:  &id,
			AlertType: alertType,
			Severity:  severity,
			Message:   message,
			CreatedAt: e.now().UTC(),
		})
	}

	if pollErr != nil {
		var connectErr *probe.ConnectError
		if errors.As(pollErr, &connectErr) {
			emit(models.AlertConnectionFailed, models.SeverityError,
				fmt.Sprintf("Connection to %s failed: %v", server.Hostname, pollErr))
		} else {
			emit(models.AlertAPIError, models.SeverityWarning,
				fmt.Sprintf("API error on %s: %v", server.Hostname, pollErr))
		}
		return out
	}

	if m.CPUUsage != nil && *m.CPUUsage > e.cfg.CPUHighPct {
		emit(models.AlertCPUHigh, models.SeverityWarning,
			fmt.Sprintf("High CPU usage on %s: %.1f%%", server.Hostname, *m.CPUUsage))
	}

	if m.MemoryUsage != nil {
		switch {
		case *m.MemoryUsage > e.cfg.MemCriticalPct:
			emit(models.AlertMemoryHigh, models.SeverityCritical,
				fmt.Sprintf("Critical memory usage on %s: %.1f%%", server.Hostname, *m.MemoryUsage))
		case *m.MemoryUsage > e.cfg.MemErrorPct:
			emit(models.AlertMemoryHigh, models.SeverityError,
				fmt.Sprintf("High memory usage on %s: %.1f%%", server.Hostname, *m.MemoryUsage))
		}
	}

	if e.cfg.ResponseTimeMs > 0 && m.ResponseTime > e.cfg.ResponseTimeMs {
		emit(models.AlertAPIError, models.SeverityWarning,
			fmt.Sprintf("Slow response time on %s: %.0fms", server.Hostname, m.ResponseTime))
	}

	if e.cfg.MaxErrorCount > 0 && m.ErrorCount > e.cfg.MaxErrorCount {
		emit(models.AlertAPIError, models.SeverityWarning,
			fmt.Sprintf("Elevated error count on %s: %d", server.Hostname, m.ErrorCount))
	}

	return out
}

func shouldEmit(open []models.Alert, alertType, severity string) bool {
	for _, a := range open {
		if a.AlertType == alertType && models.SeverityRank(a.Severity) >= models.SeverityRank(severity) {
			return false
		}
	}
	return true
}
