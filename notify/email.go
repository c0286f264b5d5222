// Package notify delivers the consolidated batch message by SMTP
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/bill-scraper/automation"
	"github.com/bill-scraper/config"
)

const pdfContentType mail.ContentType = "application/pdf"

// ErrNoRecipients is returned when neither an override nor a default recipient exists
var ErrNoRecipients = errors.New("no email recipients configured")

// Mailer sends one message per batch with every successful bill attached
type Mailer struct {
	cfg    config.EmailConfig
	logger *slog.Logger

	send func(ctx context.Context, msg *mail.Msg) error
	now  func() time.Time
}

// New creates a mailer for the SMTP settings in cfg
func New(cfg config.EmailConfig, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mailer{cfg: cfg, logger: logger, now: time.Now}
	m.send = m.dialAndSend
	return m
}

func (m *Mailer) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
		mail.WithTimeout(30 * time.Second),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	c, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return c, nil
}

func (m *Mailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// SendBatch sends the batch summary. A disabled mailer logs and returns nil.
func (m *Mailer) SendBatch(ctx context.Context, files []string, results []automation.RunResult, override string) error {
	if !m.cfg.Enabled {
		m.logger.Info("email disabled, skipping batch notification", "files", len(files))
		return nil
	}

	msg, err := m.Compose(files, results, override)
	if err != nil {
		return err
	}
	if err := m.send(ctx, msg); err != nil {
		return err
	}
	m.logger.Info("batch email sent", "to", m.recipients(override), "attachments", len(files))
	return nil
}

func (m *Mailer) recipients(override string) []string {
	if override != "" {
		return []string{override}
	}
	return m.cfg.To
}

// Compose builds the batch message: a summary body, a failure section when
// any unit failed, and one attachment per successful file.
func (m *Mailer) Compose(files []string, results []automation.RunResult, override string) (*mail.Msg, error) {
	to := m.recipients(override)
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}

	failed := failures(results)
	subject := fmt.Sprintf("Invoices - %d downloaded", len(files))
	if len(failed) > 0 {
		subject += fmt.Sprintf(", %d failed", len(failed))
	}
	msg.Subject(subject)
	msg.SetDate()

	msg.SetBodyString(mail.TypeTextPlain, body(files, failed, m.now()))

	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			m.logger.Warn("skipping missing attachment", "file", f, "error", err)
			continue
		}
		msg.AttachFile(f, mail.WithFileName(filepath.Base(f)), mail.WithFileContentType(pdfContentType))
	}
	return msg, nil
}

func failures(results []automation.RunResult) []automation.RunResult {
	var out []automation.RunResult
	for _, r := range results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}

func body(files []string, failed []automation.RunResult, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoice run finished %s.\n\n", now.Format("2006-01-02 15:04"))

	if len(files) > 0 {
		fmt.Fprintf(&b, "Downloaded (%d):\n", len(files))
		for _, f := range files {
			fmt.Fprintf(&b, "  - %s\n", filepath.Base(f))
		}
	} else {
		b.WriteString("No invoices were downloaded.\n")
	}

	if len(failed) > 0 {
		fmt.Fprintf(&b, "\nFailed (%d):\n", len(failed))
		for _, r := range failed {
			fmt.Fprintf(&b, "  - Vendor: %s\n", strings.ToUpper(r.Vendor))
			fmt.Fprintf(&b, "    Account: #%d\n", r.AccountIndex+1)
			fmt.Fprintf(&b, "    Error: %s\n", r.Reason)
			if r.Stage != "" {
				fmt.Fprintf(&b, "    Stage: %s\n", r.Stage)
			}
		}
		b.WriteString("\nFailed accounts need a manual download.\n")
	}
	return b.String()
}

// TestConnection dials the server and authenticates without sending
func (m *Mailer) TestConnection(ctx context.Context) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	if err := c.DialWithContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	if err := c.Close(); err != nil {
		m.logger.Warn("failed to close smtp connection", "error", err)
	}
	m.logger.Info("email connection successful", "server", fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port), "from", m.cfg.From)
	return nil
}

// ValidateAddress checks an optional recipient override. Empty input is
// valid and returns "". Only the shape is checked: a local part, an '@'
// and a dotted domain.
func ValidateAddress(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "", errors.New("email must contain '@'")
	}
	local, domain := email[:at], email[at+1:]
	if local == "" {
		return "", errors.New("email must have characters before '@'")
	}
	if !strings.Contains(domain, ".") {
		return "", errors.New("email domain must contain '.'")
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", errors.New("email domain cannot start or end with '.'")
	}
	return email, nil
}
