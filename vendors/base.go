package vendors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bill-scraper/config"
)

// base carries what every vendor session shares: the browser, the state
// machine, jitter and the resolved profile.
type base struct {
	machine

	profile *config.VendorProfile
	d       driver
	human   *humanizer
	opts    Options
	logger  *slog.Logger

	accountIndex int
}

func newBase(profile *config.VendorProfile, d driver, opts Options) *base {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &base{
		profile: profile,
		d:       d,
		human:   newHumanizer(opts.Humanize, time.Now().UnixNano()),
		opts:    opts,
		logger:  opts.Logger,
	}
}

// typeHuman clears sel and types text one character at a time
func (b *base) typeHuman(ctx context.Context, sel, text string) error {
	if err := b.d.Clear(ctx, sel); err != nil {
		return fmt.Errorf("failed to clear %s: %w", sel, err)
	}
	for _, r := range text {
		if err := b.d.SendKeys(ctx, sel, string(r)); err != nil {
			return fmt.Errorf("failed to type into %s: %w", sel, err)
		}
		if err := b.human.Keystroke(ctx); err != nil {
			return err
		}
	}
	return nil
}

// openLogin navigates to the login page and waits for the page to settle
func (b *base) openLogin(ctx context.Context) error {
	b.logger.Info("navigating to login page", "url", b.profile.Credentials.LoginURL)
	if err := b.d.Navigate(ctx, b.profile.Credentials.LoginURL); err != nil {
		return err
	}
	if err := b.human.Pause(ctx); err != nil {
		return err
	}
	b.d.Screenshot(ctx, "01_login_page")
	return nil
}

// failed captures a screenshot for the stage and moves to StateFailed
func (b *base) failed(ctx context.Context, label string, err error) error {
	b.logger.Error("stage failed", "label", label, "error", err)
	b.d.Screenshot(context.WithoutCancel(ctx), label)
	return b.fail(err)
}

// selectIndex records the account to operate on after checking its bounds
func (b *base) selectIndex(ctx context.Context, accountIndex int) error {
	if err := b.enter(StateNavigating, StateNavigating); err != nil {
		return selectError(err)
	}
	if _, ok := b.profile.Account(accountIndex); !ok {
		return b.failed(ctx, "error_select_account", selectError(
			fmt.Errorf("account index %d out of range (0..%d)", accountIndex, b.profile.MaxAccounts()-1)))
	}
	b.accountIndex = accountIndex
	return nil
}

func (b *base) Close() error {
	return b.d.Close()
}

var pdfMagic = []byte("%PDF")

// checkPDF rejects empty bodies and HTML error pages served in place of a bill
func checkPDF(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty document")
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return fmt.Errorf("document is not a pdf (%d bytes)", len(data))
	}
	return nil
}

// fetchFromTab opens the bill in a new tab via trigger and downloads the
// tab's URL through the session so cookies apply.
func (b *base) fetchFromTab(ctx context.Context, trigger func(context.Context) error) (*Bill, error) {
	url, err := b.d.ExpectTab(ctx, trigger, b.opts.Browser.DownloadTimeout)
	if err != nil {
		return nil, err
	}

	status, data, err := b.d.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("failed to download pdf: HTTP %d", status)
	}
	if err := checkPDF(data); err != nil {
		return nil, err
	}

	b.logger.Info("bill fetched", "url", url, "bytes", len(data))
	return &Bill{Data: data, SourceURL: url}, nil
}
