// Package mailer delivers window reports over SMTP or the Brevo API.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"netmon/internal/config"
	"netmon/internal/report"
	"netmon/pkg/logx"
)

const (
	subject    = "Network Monitoring Report"
	senderName = "Network Monitor"
)

// Mailer sends one report per window boundary. Sends are best-effort and
// at-most-once; a failed send is not retried before the next window.
// SendText carries short alert notifications with no attachments.
type Mailer interface {
	SendReport(ctx context.Context, rep *report.Report) error
	SendText(ctx context.Context, subject, body string) error
}

// New selects the provider from configuration.
func New(cfg config.MailConfig, log logx.Logger) (Mailer, error) {
	log = log.With(logx.String("component", "mailer"))
	switch strings.ToLower(cfg.Provider) {
	case "", "smtp":
		return newSMTP(cfg, log), nil
	case "brevo":
		return newBrevo(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown mail provider: %s", cfg.Provider)
	}
}

// emailBody renders the plain-text body shared by both providers.
func emailBody(rep *report.Report) string {
	var b strings.Builder
	b.WriteString("Network Monitoring Report\n")
	b.WriteString("Report Period: " + rep.PeriodString() + "\n\n")
	b.WriteString("Summary:\n")
	for _, line := range rep.SummaryLines() {
		b.WriteString("• " + line + "\n")
	}
	return b.String()
}
