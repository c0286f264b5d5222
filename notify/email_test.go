package notify

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/bill-scraper/automation"
	"github.com/bill-scraper/config"
	"github.com/bill-scraper/logger"
	"github.com/bill-scraper/vendors"
)

func testConfig() config.EmailConfig {
	return config.EmailConfig{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "invoices@example.com",
		To:      []string{"ap@example.com"},
	}
}

func writeBill(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0644))
	return path
}

func render(t *testing.T, msg *mail.Msg) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func newTestMailer(cfg config.EmailConfig) (*Mailer, *[]*mail.Msg) {
	var sent []*mail.Msg
	m := New(cfg, logger.Discard())
	m.now = func() time.Time { return time.Date(2025, 12, 3, 6, 0, 0, 0, time.UTC) }
	m.send = func(ctx context.Context, msg *mail.Msg) error {
		sent = append(sent, msg)
		return nil
	}
	return m, &sent
}

func TestSendBatch_AttachesEverySuccess(t *testing.T) {
	dir := t.TempDir()
	a := writeBill(t, dir, "ROGE04_3509_2-Dec-2025_68050-YYT-11-410.pdf")
	b := writeBill(t, dir, "MANI03_7950_1-Dec-2025_68100-YWG-10-410.pdf")
	results := []automation.RunResult{
		{Vendor: "rogers", AccountIndex: 0, Success: true, FilePath: a},
		{Vendor: "mhydro", AccountIndex: 0, Success: true, FilePath: b},
	}

	m, sent := newTestMailer(testConfig())
	require.NoError(t, m.SendBatch(context.Background(), []string{a, b}, results, ""))
	require.Len(t, *sent, 1)

	msg := (*sent)[0]
	assert.Len(t, msg.GetAttachments(), 2)
	assert.Equal(t, []string{"<ap@example.com>"}, msg.GetToString())

	raw := render(t, msg)
	assert.Contains(t, raw, "Invoices - 2 downloaded")
	assert.Contains(t, raw, "ROGE04_3509_2-Dec-2025_68050-YYT-11-410.pdf")
	assert.NotContains(t, raw, "Failed (")
}

func TestSendBatch_FailureSection(t *testing.T) {
	dir := t.TempDir()
	a := writeBill(t, dir, "ROGE04_3509_2-Dec-2025_68050-YYT-11-410.pdf")
	results := []automation.RunResult{
		{Vendor: "rogers", AccountIndex: 0, Success: true, FilePath: a},
		{Vendor: "rogers", AccountIndex: 1, Stage: vendors.StageNavigate, Reason: "navigation failed: timeout"},
	}

	m, sent := newTestMailer(testConfig())
	require.NoError(t, m.SendBatch(context.Background(), []string{a}, results, "ops@example.com"))
	require.Len(t, *sent, 1)

	msg := (*sent)[0]
	assert.Equal(t, []string{"<ops@example.com>"}, msg.GetToString(), "override replaces defaults")
	assert.Len(t, msg.GetAttachments(), 1)

	raw := render(t, msg)
	assert.Contains(t, raw, "Invoices - 1 downloaded, 1 failed")
	assert.Contains(t, raw, "Failed (1):")
	assert.Contains(t, raw, "Vendor: ROGERS")
	assert.Contains(t, raw, "Account: #2")
	assert.Contains(t, raw, "Error: navigation failed: timeout")
}

func TestSendBatch_OnlyFailures(t *testing.T) {
	results := []automation.RunResult{{Vendor: "hwater", AccountIndex: 1, Reason: "authentication failed"}}

	m, sent := newTestMailer(testConfig())
	require.NoError(t, m.SendBatch(context.Background(), nil, results, ""))
	require.Len(t, *sent, 1)
	assert.Empty(t, (*sent)[0].GetAttachments())
	assert.Contains(t, render(t, (*sent)[0]), "No invoices were downloaded.")
}

func TestSendBatch_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	m, sent := newTestMailer(cfg)

	require.NoError(t, m.SendBatch(context.Background(), []string{"x.pdf"}, nil, ""))
	assert.Empty(t, *sent)
}

func TestSendBatch_NoRecipients(t *testing.T) {
	cfg := testConfig()
	cfg.To = nil
	m, _ := newTestMailer(cfg)

	err := m.SendBatch(context.Background(), nil, nil, "")
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestSendBatch_TransportError(t *testing.T) {
	m, _ := newTestMailer(testConfig())
	m.send = func(ctx context.Context, msg *mail.Msg) error { return errors.New("connection refused") }

	err := m.SendBatch(context.Background(), nil, []automation.RunResult{{Vendor: "rogers"}}, "")
	assert.EqualError(t, err, "connection refused")
}

func TestCompose_SkipsMissingFile(t *testing.T) {
	m, _ := newTestMailer(testConfig())
	msg, err := m.Compose([]string{filepath.Join(t.TempDir(), "gone.pdf")}, nil, "")
	require.NoError(t, err)
	assert.Empty(t, msg.GetAttachments())
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr string
	}{
		{in: "", want: ""},
		{in: "   ", want: ""},
		{in: " ap@example.com ", want: "ap@example.com"},
		{in: "apexample.com", wantErr: "must contain '@'"},
		{in: "@example.com", wantErr: "before '@'"},
		{in: "ap@localhost", wantErr: "must contain '.'"},
		{in: "ap@example.", wantErr: "cannot start or end"},
		{in: "ap@.example", wantErr: "cannot start or end"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ValidateAddress(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
