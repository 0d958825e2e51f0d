package health

import (
	"errors"
	"fmt"
	"time"

	"cdnmon/internal/models"
	"cdnmon/internal/probe"
)

// Evaluator is the per-server health state machine over {up, down, unknown}.
// The previous state is whatever the registry last recorded; the initial
// state of a fresh server is unknown.
type Evaluator struct {
	now func() time.Time
}

func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// Result of one evaluation. DownAlert is non-nil exactly when this poll
// transitioned the server into the down state.
type Result struct {
	Status       string
	Transitioned bool
	DownAlert    *models.Alert
}

// Evaluate derives the new status from the poll outcome and detects the
// transition against the previously recorded status.
//
// A clean poll means up. A connect failure or timeout means down. A parse
// failure means unknown: the server responded, just not sensibly. An HTTP
// error depends on the code class: 5xx means the backend is broken enough to
// call down, anything else is unknown.
func (e *Evaluator) Evaluate(server models.Server, pollErr error) Result {
	next := StatusFor(pollErr)
	res := Result{Status: next, Transitioned: next != server.Status}
	if res.Transitioned && next == models.StatusDown {
		id := server.ID
		res.DownAlert = &models.Alert{
			ServerID:  &id,
			AlertType: models.AlertServerDown,
			Severity:  models.SeverityCritical,
			Message:   fmt.Sprintf("Server %s is down and not responding to health checks.", server.Hostname),
			CreatedAt: e.now().UTC(),
		}
	}
	return res
}

// StatusFor maps a poll outcome to a health state.
func StatusFor(pollErr error) string {
	if pollErr == nil {
		return models.StatusUp
	}
	var connectErr *probe.ConnectError
	if errors.As(pollErr, &connectErr) {
		return models.StatusDown
	}
	var httpErr *probe.HTTPError
	if errors.As(pollErr, &httpErr) {
		if httpErr.StatusCode >= 500 {
			return models.StatusDown
		}
		return models.StatusUnknown
	}
	return models.StatusUnknown
}
