package notifications

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/homefix/marketplace-api/events"
	"github.com/homefix/marketplace-api/services"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"formatTime": func(t time.Time) string { return t.UTC().Format("Mon, 02 Jan 2006 15:04 MST") },
	"formatDate": func(t time.Time) string { return t.UTC().Format("02 Jan 2006") },
	"formatAmount": func(amount int64, currency string) string {
		return fmt.Sprintf("%.2f %s", float64(amount)/100, strings.ToUpper(currency))
	},
}

type mailTemplate struct {
	file    string
	subject func(payload interface{}) string
}

var mailTemplates = map[string]mailTemplate{
	events.BookingCreated: {
		file: "booking_created.html",
		subject: func(p interface{}) string {
			return fmt.Sprintf("Booking #%d received", p.(*events.BookingPayload).BookingID)
		},
	},
	events.BookingStatusChanged: {
		file: "booking_status_changed.html",
		subject: func(p interface{}) string {
			b := p.(*events.BookingPayload)
			return fmt.Sprintf("Booking #%d is now %s", b.BookingID, b.Status)
		},
	},
	events.BookingReminder: {
		file: "booking_reminder.html",
		subject: func(p interface{}) string {
			return fmt.Sprintf("Reminder: booking #%d is coming up", p.(*events.BookingPayload).BookingID)
		},
	},
	events.SubscriptionActivated: {
		file: "subscription_activated.html",
		subject: func(p interface{}) string {
			return fmt.Sprintf("Your %s subscription is active", p.(*events.SubscriptionPayload).PlanType)
		},
	},
}

// Notifier turns marketplace events into e-mails. It is registered on the
// in-process bus or on the RabbitMQ consumer; delivery is best effort.
type Notifier struct {
	mailer    services.Mailer
	templates map[string]*template.Template
	log       logrus.FieldLogger
}

// NewNotifier parses the e-mail templates and creates a Notifier
func NewNotifier(mailer services.Mailer, log logrus.FieldLogger) (*Notifier, error) {
	parsed := make(map[string]*template.Template, len(mailTemplates))
	for key, mt := range mailTemplates {
		tmpl, err := template.New(mt.file).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+mt.file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", mt.file, err)
		}
		parsed[key] = tmpl
	}

	return &Notifier{
		mailer:    mailer,
		templates: parsed,
		log:       log.WithField("component", "notifications"),
	}, nil
}

func (n *Notifier) EventTypes() []string {
	return append([]string(nil), events.NotificationEvents...)
}

// Handle renders and sends the e-mail for event
func (n *Notifier) Handle(ctx context.Context, event *events.Event) error {
	mt, ok := mailTemplates[event.RoutingKey]
	if !ok {
		return nil
	}

	var (
		payload interface{}
		to      string
	)
	switch event.RoutingKey {
	case events.SubscriptionActivated:
		p := &events.SubscriptionPayload{}
		if err := event.Decode(p); err != nil {
			return err
		}
		payload, to = p, p.Email
	default:
		p := &events.BookingPayload{}
		if err := event.Decode(p); err != nil {
			return err
		}
		payload, to = p, p.CustomerEmail
	}

	logger := n.log.WithFields(logrus.Fields{"routing_key": event.RoutingKey, "event_id": event.EventID})
	if to == "" {
		logger.Warn("Event has no recipient address, skipping e-mail")
		return nil
	}

	var body bytes.Buffer
	if err := n.templates[event.RoutingKey].ExecuteTemplate(&body, "layout", payload); err != nil {
		return fmt.Errorf("failed to render %s: %w", mt.file, err)
	}

	if err := n.mailer.Send(ctx, services.Email{To: to, Subject: mt.subject(payload), HTML: body.String()}); err != nil {
		return err
	}

	logger.WithField("to", to).Info("Notification sent")
	return nil
}
