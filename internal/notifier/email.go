package notifier

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"cdnmon/internal/models"
)

var severityLabels = map[string]string{
	models.SeverityCritical: "CRITICAL",
	models.SeverityError:    "ERROR",
	models.SeverityWarning:  "WARNING",
	models.SeverityInfo:     "INFO",
}

// Email sends alert mail through SendGrid. Only alerts at error severity or
// above are mailed; warnings stay in-app.
type Email struct {
	client *sendgrid.Client
	from   string
	to     string
}

func NewEmail(apiKey, from, to string) *Email {
	return &Email{client: sendgrid.NewSendClient(apiKey), from: from, to: to}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, alert models.Alert, server models.Server) error {
	if models.SeverityRank(alert.Severity) < models.SeverityRank(models.SeverityError) {
		return nil
	}
	label, ok := severityLabels[alert.Severity]
	if !ok {
		label = alert.Severity
	}
	subject := fmt.Sprintf("%s Alert: %s - %s", label, server.Hostname, alert.AlertType)
	body := fmt.Sprintf(`CDN ALERT - %s

Server: %s (%s)
Role: %s
Alert: %s
Type: %s
Time: %s

Check server connectivity and acknowledge the alert once resolved.
`,
		label, server.Hostname, server.IPAddress, server.Role,
		alert.Message, alert.AlertType, alert.CreatedAt.Format("2006-01-02 15:04:05 UTC"))

	msg := mail.NewSingleEmail(
		mail.NewEmail("CDN Alert System", e.from),
		subject,
		mail.NewEmail("", e.to),
		body,
		"",
	)
	res, err := e.client.SendWithContext(ctx, msg)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
