package automation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/logger"
	"github.com/bill-scraper/naming"
	"github.com/bill-scraper/vendors"
)

type fakeSession struct {
	failAt  vendors.Stage
	err     error
	panicAt vendors.Stage
	data    []byte

	calls  []vendors.Stage
	closed bool
}

func (s *fakeSession) step(stage vendors.Stage) error {
	s.calls = append(s.calls, stage)
	if s.panicAt == stage {
		panic("driver crashed")
	}
	if s.failAt == stage {
		return s.err
	}
	return nil
}

func (s *fakeSession) Authenticate(ctx context.Context) error { return s.step(vendors.StageAuth) }
func (s *fakeSession) SelectAccount(ctx context.Context, i int) error {
	return s.step(vendors.StageSelect)
}
func (s *fakeSession) LocateBill(ctx context.Context) error { return s.step(vendors.StageNavigate) }
func (s *fakeSession) RetrieveBill(ctx context.Context) (*vendors.Bill, error) {
	if err := s.step(vendors.StageRetrieve); err != nil {
		return nil, err
	}
	return &vendors.Bill{Data: s.data}, nil
}
func (s *fakeSession) Close() error                 { s.closed = true; return nil }
func (s *fakeSession) State() vendors.SessionState { return vendors.StateStart }

type fixedDate struct {
	date time.Time
	ok   bool
	seen string
}

func (f *fixedDate) ExtractFile(path string, profile *config.VendorProfile) (time.Time, bool) {
	f.seen = filepath.Base(path)
	return f.date, f.ok
}

func profile() *config.VendorProfile {
	return &config.VendorProfile{
		Name: "rogers",
		Kind: "rogers",
		Accounts: []config.AccountMetadata{
			{VendorCode: "ROGE04", AccountNumber: "3509", GLAccount: "68050-YYT-11-410"},
			{VendorCode: "ROGE04", AccountNumber: "7803", GLAccount: "68050-YYT-16-412"},
		},
	}
}

func newTestRunner(t *testing.T, s *fakeSession, dates DateExtractor) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	factory := func(ctx context.Context, p *config.VendorProfile) (vendors.Session, error) {
		return s, nil
	}
	r := NewRunner(dir, factory, dates, logger.Discard())
	r.now = func() time.Time { return time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) }
	return r, dir
}

func TestExecute_Success(t *testing.T) {
	s := &fakeSession{data: []byte("%PDF-1.4 bill")}
	dates := &fixedDate{date: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), ok: true}
	r, dir := newTestRunner(t, s, dates)

	res := r.Execute(context.Background(), profile(), 1)

	require.True(t, res.Success, res.Reason)
	assert.Equal(t, filepath.Join(dir, "ROGE04_7803_5-Jan-2025_68050-YYT-16-412.pdf"), res.FilePath)
	assert.False(t, res.DateFallback)
	assert.True(t, naming.IsTemp(dates.seen), "date read from the temp file")
	assert.True(t, s.closed)

	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, s.data, data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file renamed away")
}

func TestExecute_DateFallback(t *testing.T) {
	s := &fakeSession{data: []byte("%PDF-1.4")}
	r, dir := newTestRunner(t, s, &fixedDate{})

	res := r.Execute(context.Background(), profile(), 0)

	require.True(t, res.Success)
	assert.True(t, res.DateFallback)
	assert.Equal(t, filepath.Join(dir, "ROGE04_3509_4-Mar-2025_68050-YYT-11-410.pdf"), res.FilePath)
}

func TestExecute_StageFailure(t *testing.T) {
	tests := []struct {
		name   string
		failAt vendors.Stage
		err    error
		want   vendors.Stage
		calls  int
	}{
		{
			name:   "auth",
			failAt: vendors.StageAuth,
			err:    &vendors.StageError{Stage: vendors.StageAuth, Kind: vendors.ErrAuth, Err: errors.New("bad password")},
			want:   vendors.StageAuth,
			calls:  1,
		},
		{
			name:   "navigation",
			failAt: vendors.StageNavigate,
			err:    &vendors.StageError{Stage: vendors.StageNavigate, Kind: vendors.ErrNavigation, Err: errors.New("timeout")},
			want:   vendors.StageNavigate,
			calls:  3,
		},
		{
			name:   "plain error keeps the calling stage",
			failAt: vendors.StageRetrieve,
			err:    errors.New("tab closed"),
			want:   vendors.StageRetrieve,
			calls:  4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSession{failAt: tt.failAt, err: tt.err, data: []byte("%PDF")}
			r, dir := newTestRunner(t, s, &fixedDate{ok: true})

			res := r.Execute(context.Background(), profile(), 0)

			assert.False(t, res.Success)
			assert.Empty(t, res.FilePath)
			assert.Equal(t, tt.want, res.Stage)
			assert.NotEmpty(t, res.Reason)
			assert.Len(t, s.calls, tt.calls, "later stages skipped")
			assert.True(t, s.closed, "session released on failure")

			entries, _ := os.ReadDir(dir)
			assert.Empty(t, entries)
		})
	}
}

func TestExecute_ReasonCarriesKind(t *testing.T) {
	s := &fakeSession{
		failAt: vendors.StageNavigate,
		err:    &vendors.StageError{Stage: vendors.StageNavigate, Kind: vendors.ErrNavigation, Err: errors.New("bill link missing")},
	}
	r, _ := newTestRunner(t, s, &fixedDate{})

	res := r.Execute(context.Background(), profile(), 0)
	assert.Equal(t, "navigation failed: bill link missing", res.Reason)
}

func TestExecute_PanicIsRecovered(t *testing.T) {
	s := &fakeSession{panicAt: vendors.StageSelect}
	r, _ := newTestRunner(t, s, &fixedDate{})

	var res RunResult
	require.NotPanics(t, func() { res = r.Execute(context.Background(), profile(), 0) })
	assert.False(t, res.Success)
	assert.Equal(t, vendors.StageUnexpected, res.Stage)
	assert.Contains(t, res.Reason, "driver crashed")
	assert.True(t, s.closed)
	assert.False(t, res.FinishedAt.IsZero())
}

func TestExecute_SessionOpenFails(t *testing.T) {
	dir := t.TempDir()
	factory := func(ctx context.Context, p *config.VendorProfile) (vendors.Session, error) {
		return nil, &vendors.StageError{Stage: vendors.StageLaunch, Kind: vendors.ErrAuth, Err: errors.New("chrome not found")}
	}
	r := NewRunner(dir, factory, &fixedDate{}, logger.Discard())

	res := r.Execute(context.Background(), profile(), 0)
	assert.False(t, res.Success)
	assert.Equal(t, vendors.StageLaunch, res.Stage)
	assert.Contains(t, res.Reason, "chrome not found")
}

func TestExecute_AccountOutOfRange(t *testing.T) {
	s := &fakeSession{}
	r, _ := newTestRunner(t, s, &fixedDate{})

	res := r.Execute(context.Background(), profile(), 7)
	assert.False(t, res.Success)
	assert.Equal(t, vendors.StageSelect, res.Stage)
	assert.Empty(t, s.calls, "no session opened")
}

func TestExecute_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &fakeSession{}
	r, _ := newTestRunner(t, s, &fixedDate{})
	cancel()

	res := r.Execute(ctx, profile(), 0)
	assert.False(t, res.Success)
	assert.Equal(t, vendors.StageAuth, res.Stage)
	assert.Empty(t, s.calls)
	assert.True(t, s.closed)
}

func TestUnitLabel(t *testing.T) {
	assert.Equal(t, "HWATER - Account #2", UnitLabel("hwater", 1))
	assert.Equal(t, "ROGERS - Account #1", RunResult{Vendor: "rogers"}.Label())
}
