// Package notify implements the outbound alert notification channel over
// SMTP. The channel may be unconfigured; the alert engine treats delivery
// failure as non-fatal either way.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"

	"github.com/buswatch/buswatch_core/internal/models"
)

// Config holds SMTP settings
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

// LoadConfigFromEnv loads SMTP configuration from environment variables
func LoadConfigFromEnv() *Config {
	port, _ := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	user := os.Getenv("SMTP_USER")

	return &Config{
		Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
		Port:     port,
		User:     user,
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     getEnv("ALERT_EMAIL_FROM", user),
		To:       os.Getenv("ALERT_EMAIL_TO"),
	}
}

// Enabled reports whether the channel has everything it needs to deliver
func (c *Config) Enabled() bool {
	return c.User != "" && c.Password != "" && c.To != ""
}

// Mailer delivers alert emails
type Mailer struct {
	cfg *Config
}

// NewMailer creates a Mailer, or nil when the channel is unconfigured so
// callers can hand the alert engine a plain nil Notifier.
func NewMailer(cfg *Config) *Mailer {
	if !cfg.Enabled() {
		log.Warn().Msg("Email alerts disabled, SMTP settings incomplete")
		return nil
	}
	log.Info().Str("to", cfg.To).Msg("Email alerts enabled")
	return &Mailer{cfg: cfg}
}

// Notify sends one alert email. Only warning and critical alerts are
// delivered; informational alerts stay in the store for API polling.
func (m *Mailer) Notify(ctx context.Context, alert models.Alert) error {
	if alert.Severity == models.SeverityInfo {
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("%w: %s", models.ErrNotificationFailure, err)
	}
	if err := msg.To(m.cfg.To); err != nil {
		return fmt.Errorf("%w: %s", models.ErrNotificationFailure, err)
	}
	msg.Subject(fmt.Sprintf("[%s] BusWatch Transport Alert", alert.Severity))
	msg.SetBodyString(mail.TypeTextPlain, formatBody(alert))

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.User),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("%w: %s", models.ErrNotificationFailure, err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: %s", models.ErrNotificationFailure, err)
	}

	log.Info().Int64("alert_id", alert.ID).Str("to", m.cfg.To).Msg("Alert email sent")
	return nil
}

func formatBody(alert models.Alert) string {
	var b strings.Builder

	b.WriteString("BusWatch Transport Intelligence Alert\n\n")
	fmt.Fprintf(&b, "Alert Type: %s\n", alert.Kind)
	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	fmt.Fprintf(&b, "Time: %s\n\n", alert.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Message:\n%s\n", alert.Message)

	if details := formatDetails(alert.Details); details != "" {
		fmt.Fprintf(&b, "\nDetails:\n%s\n", details)
	}

	b.WriteString("\n---\nThis is an automated alert from BusWatch.\n")
	return b.String()
}

func formatDetails(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  - %s: %v", strings.ReplaceAll(k, "_", " "), payload[k]))
	}
	return strings.Join(lines, "\n")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
