package notifier

import (
	"context"
	"log/slog"

	"cdnmon/internal/models"
)

// Notifier delivers one alert over one channel. Delivery is best-effort:
// the alert is already persisted before Send is called, so a failed send
// loses nothing.
type Notifier interface {
	Name() string
	Send(ctx context.Context, alert models.Alert, server models.Server) error
}

// Fanout forwards an alert to every configured channel. Channel failures are
// logged and swallowed, never propagated to the polling pipeline.
type Fanout struct {
	channels []Notifier
	log      *slog.Logger
}

func NewFanout(logger *slog.Logger, channels ...Notifier) *Fanout {
	return &Fanout{channels: channels, log: logger}
}

func (f *Fanout) Send(ctx context.Context, alert models.Alert, server models.Server) {
	for _, ch := range f.channels {
		if err := ch.Send(ctx, alert, server); err != nil {
			f.log.Warn("notification failed",
				"channel", ch.Name(),
				"alert_type", alert.AlertType,
				"severity", alert.Severity,
				"err", err,
			)
		}
	}
}
