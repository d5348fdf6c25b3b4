package mailer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"netmon/internal/config"
	"netmon/internal/report"
	"netmon/pkg/logx"
)

// smtpMailer speaks STARTTLS with plain auth, the usual submission setup on
// port 587.
type smtpMailer struct {
	cfg config.MailConfig
	log logx.Logger
}

func newSMTP(cfg config.MailConfig, log logx.Logger) *smtpMailer {
	return &smtpMailer{cfg: cfg, log: log}
}

func (m *smtpMailer) SendReport(ctx context.Context, rep *report.Report) error {
	msg, err := m.buildMsg(rep)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(m.cfg.SMTPServer,
		mail.WithPort(m.cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.SMTPUser),
		mail.WithPassword(m.cfg.SMTPPassword),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send report mail: %w", err)
	}
	m.log.Info("report mail sent",
		logx.String("kind", string(rep.Window.Kind)),
		logx.String("to", m.cfg.Recipient))
	return nil
}

func (m *smtpMailer) SendText(ctx context.Context, subj, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.SMTPUser); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.cfg.Recipient); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject(subj)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(m.cfg.SMTPServer,
		mail.WithPort(m.cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.SMTPUser),
		mail.WithPassword(m.cfg.SMTPPassword),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// buildMsg assembles the report mail: plain-text summary body plus the PDF
// and CSV artifacts.
func (m *smtpMailer) buildMsg(rep *report.Report) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.SMTPUser); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.cfg.Recipient); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, emailBody(rep))

	pdfData, err := rep.PDF()
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	csvData, err := rep.CSV()
	if err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}

	if err := msg.AttachReader(rep.PDFName(), bytes.NewReader(pdfData),
		mail.WithFileContentType("application/pdf")); err != nil {
		return nil, fmt.Errorf("attach pdf: %w", err)
	}
	if err := msg.AttachReader(rep.CSVName(), bytes.NewReader(csvData),
		mail.WithFileContentType("text/csv")); err != nil {
		return nil, fmt.Errorf("attach csv: %w", err)
	}
	return msg, nil
}
