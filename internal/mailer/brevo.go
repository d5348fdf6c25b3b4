package mailer

import (
	"context"
	"encoding/base64"
	"fmt"

	brevo "github.com/getbrevo/brevo-go/lib"

	"netmon/internal/config"
	"netmon/internal/report"
	"netmon/pkg/logx"
)

// brevoMailer sends through the Brevo transactional API instead of SMTP,
// which gets through networks that block outbound 587.
type brevoMailer struct {
	client *brevo.APIClient
	from   string
	to     string
	log    logx.Logger
}

func newBrevo(cfg config.MailConfig, log logx.Logger) *brevoMailer {
	bc := brevo.NewConfiguration()
	bc.AddDefaultHeader("api-key", cfg.BrevoAPIKey)
	return &brevoMailer{
		client: brevo.NewAPIClient(bc),
		from:   cfg.SMTPUser,
		to:     cfg.Recipient,
		log:    log,
	}
}

func (m *brevoMailer) SendReport(ctx context.Context, rep *report.Report) error {
	pdfData, err := rep.PDF()
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	csvData, err := rep.CSV()
	if err != nil {
		return fmt.Errorf("render csv: %w", err)
	}

	email := brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: senderName, Email: m.from},
		To:          []brevo.SendSmtpEmailTo{{Email: m.to}},
		Subject:     subject,
		TextContent: emailBody(rep),
		Attachment: []brevo.SendSmtpEmailAttachment{
			{Name: rep.PDFName(), Content: base64.StdEncoding.EncodeToString(pdfData)},
			{Name: rep.CSVName(), Content: base64.StdEncoding.EncodeToString(csvData)},
		},
	}

	if _, _, err := m.client.TransactionalEmailsApi.SendTransacEmail(ctx, email); err != nil {
		return fmt.Errorf("send report via brevo: %w", err)
	}
	m.log.Info("report mail sent",
		logx.String("kind", string(rep.Window.Kind)),
		logx.String("to", m.to))
	return nil
}

func (m *brevoMailer) SendText(ctx context.Context, subj, body string) error {
	email := brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: senderName, Email: m.from},
		To:          []brevo.SendSmtpEmailTo{{Email: m.to}},
		Subject:     subj,
		TextContent: body,
	}
	if _, _, err := m.client.TransactionalEmailsApi.SendTransacEmail(ctx, email); err != nil {
		return fmt.Errorf("send mail via brevo: %w", err)
	}
	return nil
}
