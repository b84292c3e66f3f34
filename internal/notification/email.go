package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smukkama/water-ingest/internal/protocol"
	"github.com/smukkama/water-ingest/pkg/config"
)

var raisedTemplate = template.Must(template.New("raised").Parse(`
Water Anomaly Raised
====================

Device: {{.DeviceID}}{{if .Location}} ({{.Location}}){{end}}
{{- if .SensorType}}
Sensor: {{.SensorType}}{{end}}
Anomaly: {{.Anomaly}}
Flow Rate: {{printf "%.2f" .FlowRate}} L/min
Daily Total: {{printf "%.3f" .DailyTotal}} L
Reading Time: {{.ReadingTime}}

{{.Description}}

---
Water Ingest Notification System
`))

var clearedTemplate = template.Must(template.New("cleared").Parse(`
Water Anomaly Cleared
=====================

Device: {{.DeviceID}}{{if .Location}} ({{.Location}}){{end}}
Anomaly: {{.Anomaly}}
Flow Rate: {{printf "%.2f" .FlowRate}} L/min
Daily Total: {{printf "%.3f" .DailyTotal}} L
Reading Time: {{.ReadingTime}}

The {{.Anomaly}} condition is no longer reported for this device.

---
Water Ingest Notification System
`))

var descriptions = map[string]string{
	"high_flow_rate":         "The flow rate is above 15 L/min. Check for an open tap or a burst pipe.",
	"high_daily_consumption": "Consumption today has passed 500 L.",
	"possible_leak":          "A small continuous flow below 0.5 L/min was measured. This often means a dripping tap or a running toilet.",
}

type emailData struct {
	*protocol.AnomalyNotification
	ReadingTime string
	Description string
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends anomaly notifications by email
type EmailNotifier struct {
	config *config.SMTPConfig
	send   SendFunc
	log    *logrus.Entry
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{
		config: cfg,
		send:   smtp.SendMail,
		log:    logrus.WithField("component", "email-notifier"),
	}
}

// Configured reports whether SMTP credentials are present
func (e *EmailNotifier) Configured() bool {
	return e.config.Username != "" && e.config.Password != ""
}

// SendAnomalyNotification emails one anomaly notification
func (e *EmailNotifier) SendAnomalyNotification(n *protocol.AnomalyNotification) error {
	subject, body, err := Render(n)
	if err != nil {
		return err
	}
	return e.sendEmail(subject, body)
}

// Render builds the subject and body for a notification
func Render(n *protocol.AnomalyNotification) (string, string, error) {
	var tmpl *template.Template
	var subject string

	switch n.Type {
	case protocol.AnomalyTypeRaised:
		tmpl = raisedTemplate
		subject = fmt.Sprintf("Water anomaly RAISED - %s on %s", n.Anomaly, n.DeviceID)
	case protocol.AnomalyTypeCleared:
		tmpl = clearedTemplate
		subject = fmt.Sprintf("Water anomaly CLEARED - %s on %s", n.Anomaly, n.DeviceID)
	default:
		return "", "", fmt.Errorf("unknown notification type: %s", n.Type)
	}

	data := emailData{
		AnomalyNotification: n,
		ReadingTime:         time.Unix(n.Timestamp, 0).UTC().Format(time.RFC3339),
		Description:         descriptions[string(n.Anomaly)],
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render email template: %w", err)
	}
	return subject, buf.String(), nil
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	if !e.Configured() {
		e.log.WithField("subject", subject).Info("SMTP not configured, skipping email\n" + body)
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", e.config.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.log.WithField("subject", subject).Info("Email sent")
	return nil
}

// TestConnection dials the SMTP server
func (e *EmailNotifier) TestConnection() error {
	if !e.Configured() {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	return nil
}
