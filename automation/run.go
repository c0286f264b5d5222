// Package automation runs one (vendor, account) unit end to end: drive the
// vendor session, save the bill and give it its final name.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/naming"
	"github.com/bill-scraper/vendors"
)

// RunResult is the outcome of one unit. It is recorded exactly once and
// never changed afterwards.
type RunResult struct {
	Vendor       string        `json:"vendor"`
	AccountIndex int           `json:"account_index"`
	Success      bool          `json:"success"`
	FilePath     string        `json:"file_path,omitempty"`
	Stage        vendors.Stage `json:"stage,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	DateFallback bool          `json:"date_fallback,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// Label is the human name of the unit, e.g. "ROGERS - Account #2"
func (r RunResult) Label() string {
	return UnitLabel(r.Vendor, r.AccountIndex)
}

// UnitLabel formats a vendor/account pair the way operators see it
func UnitLabel(vendor string, accountIndex int) string {
	return fmt.Sprintf("%s - Account #%d", strings.ToUpper(vendor), accountIndex+1)
}

// SessionFactory opens an exclusive vendor session for a profile
type SessionFactory func(ctx context.Context, profile *config.VendorProfile) (vendors.Session, error)

// DateExtractor reads the invoice date from a saved bill
type DateExtractor interface {
	ExtractFile(path string, profile *config.VendorProfile) (time.Time, bool)
}

// BrowserSessions returns a factory that launches a real browser per unit
func BrowserSessions(opts vendors.Options) SessionFactory {
	return func(ctx context.Context, profile *config.VendorProfile) (vendors.Session, error) {
		return vendors.New(ctx, profile, opts)
	}
}

// Runner executes units. It holds no per-unit state and may be reused.
type Runner struct {
	dir        string
	newSession SessionFactory
	dates      DateExtractor
	logger     *slog.Logger

	now func() time.Time
}

// NewRunner creates a runner that writes bills into dir
func NewRunner(dir string, newSession SessionFactory, dates DateExtractor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dir:        dir,
		newSession: newSession,
		dates:      dates,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute runs every stage for one account and always returns a result.
// The session is closed on every path, including panics.
func (r *Runner) Execute(ctx context.Context, profile *config.VendorProfile, accountIndex int) (result RunResult) {
	logger := r.logger.With("vendor", profile.Name, "account", accountIndex+1)
	result = RunResult{Vendor: profile.Name, AccountIndex: accountIndex, StartedAt: r.now()}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("unit panic recovered", "panic", rec)
			result = r.failure(result, vendors.StageUnexpected, fmt.Errorf("panic: %v", rec))
		}
		result.FinishedAt = r.now()
	}()

	meta, ok := profile.Account(accountIndex)
	if !ok {
		return r.failure(result, vendors.StageSelect,
			fmt.Errorf("account index %d out of range for %s", accountIndex, profile.Name))
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return r.failure(result, vendors.StageSave, fmt.Errorf("failed to create download dir: %w", err))
	}

	logger.Info("unit starting")
	session, err := r.newSession(ctx, profile)
	if err != nil {
		logger.Error("failed to open session", "error", err)
		return r.failure(result, vendors.StageOf(err, vendors.StageLaunch), err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close session", "error", err)
		}
	}()

	bill, stage, err := r.drive(ctx, session, accountIndex)
	if err != nil {
		logger.Error("unit failed", "stage", stage, "error", err)
		return r.failure(result, stage, err)
	}

	path, fallback, err := r.save(profile, meta, accountIndex, bill.Data, logger)
	if err != nil {
		logger.Error("failed to save bill", "error", err)
		return r.failure(result, vendors.StageSave, err)
	}

	logger.Info("unit complete", "file", path)
	result.Success = true
	result.FilePath = path
	result.DateFallback = fallback
	return result
}

// drive walks the session through its stages, checking for shutdown between them
func (r *Runner) drive(ctx context.Context, s vendors.Session, accountIndex int) (*vendors.Bill, vendors.Stage, error) {
	stages := []struct {
		stage vendors.Stage
		run   func() error
	}{
		{vendors.StageAuth, func() error { return s.Authenticate(ctx) }},
		{vendors.StageSelect, func() error { return s.SelectAccount(ctx, accountIndex) }},
		{vendors.StageNavigate, func() error { return s.LocateBill(ctx) }},
	}
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, st.stage, err
		}
		if err := st.run(); err != nil {
			return nil, vendors.StageOf(err, st.stage), err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, vendors.StageRetrieve, err
	}
	bill, err := s.RetrieveBill(ctx)
	if err != nil {
		return nil, vendors.StageOf(err, vendors.StageRetrieve), err
	}
	if bill == nil || len(bill.Data) == 0 {
		return nil, vendors.StageRetrieve, errors.New("session returned an empty bill")
	}
	return bill, "", nil
}

// save writes data under a temp name, reads its date and renames it to the final name
func (r *Runner) save(profile *config.VendorProfile, meta config.AccountMetadata, accountIndex int, data []byte, logger *slog.Logger) (string, bool, error) {
	now := r.now()
	tmp := filepath.Join(r.dir, naming.TempName(profile.Name, accountIndex, now))
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", false, fmt.Errorf("failed to write temp file: %w", err)
	}

	date, ok := r.dates.ExtractFile(tmp, profile)
	if !ok {
		logger.Warn("invoice date not found, using current date", "file", filepath.Base(tmp))
		date = now
	}

	final := filepath.Join(r.dir, naming.Build(meta, date))
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", false, fmt.Errorf("failed to rename %s: %w", filepath.Base(tmp), err)
	}
	return final, !ok, nil
}

func (r *Runner) failure(result RunResult, stage vendors.Stage, err error) RunResult {
	result.Success = false
	result.FilePath = ""
	result.Stage = stage
	result.Reason = reason(err)
	return result
}

// reason is the message shown for a failed unit: the error kind and its cause
func reason(err error) string {
	var se *vendors.StageError
	if errors.As(err, &se) {
		return fmt.Sprintf("%v: %s", se.Kind, se.Reason())
	}
	return err.Error()
}
