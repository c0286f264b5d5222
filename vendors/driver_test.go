package vendors

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/logger"
)

// fakeDriver is a scripted browser. Selectors in visible are found,
// everything else times out. Location walks through locations and then
// repeats the last entry.
type fakeDriver struct {
	mu sync.Mutex

	visible   map[string]bool
	texts     map[string]bool // sel + "|" + text
	clickErrs map[string]error
	locations []string
	content   string

	center    Point
	centerErr error

	download    *download
	downloadErr error
	tabURL      string
	tabErr      error
	fetchStatus int
	fetchBody   []byte

	calls       []string
	screenshots []string
	moves       []Point
	clicksAt    []Point
	wheels      []float64
	typed       map[string]string
	closed      bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		visible:   map[string]bool{},
		texts:     map[string]bool{},
		clickErrs: map[string]error{},
		typed:     map[string]string{},
	}
}

func (f *fakeDriver) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeDriver) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeDriver) hasScreenshot(label string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.screenshots {
		if s == label {
			return true
		}
	}
	return false
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate %s", url)
	return nil
}

func (f *fakeDriver) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("wait %s", sel)
	if !f.visible[sel] {
		return fmt.Errorf("%s not visible within %s: %w", sel, timeout, context.DeadlineExceeded)
	}
	return nil
}

func (f *fakeDriver) WaitText(ctx context.Context, sel, text string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("waittext %s|%s", sel, text)
	if !f.texts[sel+"|"+text] {
		return fmt.Errorf("%s did not show %q: %w", sel, text, context.DeadlineExceeded)
	}
	return nil
}

func (f *fakeDriver) Clear(ctx context.Context, sel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[sel] = ""
	return nil
}

func (f *fakeDriver) SendKeys(ctx context.Context, sel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[sel] += text
	return nil
}

func (f *fakeDriver) Click(ctx context.Context, sel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("click %s", sel)
	return f.clickErrs[sel]
}

func (f *fakeDriver) ClickNth(ctx context.Context, sel string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("clicknth %s %d", sel, n)
	return f.clickErrs[sel]
}

func (f *fakeDriver) ClickText(ctx context.Context, sel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("clicktext %s|%s", sel, text)
	if err := f.clickErrs[text]; err != nil {
		return err
	}
	return nil
}

func (f *fakeDriver) ScrollIntoView(ctx context.Context, sel string) error {
	return nil
}

func (f *fakeDriver) Location(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("location")
	if len(f.locations) == 0 {
		return "https://portal.example.com/", nil
	}
	loc := f.locations[0]
	if len(f.locations) > 1 {
		f.locations = f.locations[1:]
	}
	return loc, nil
}

func (f *fakeDriver) Content(ctx context.Context) (string, error) {
	return f.content, nil
}

func (f *fakeDriver) MoveMouse(ctx context.Context, p Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, p)
	return nil
}

func (f *fakeDriver) Wheel(ctx context.Context, deltaY float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wheels = append(f.wheels, deltaY)
	return nil
}

func (f *fakeDriver) ClickAt(ctx context.Context, p Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicksAt = append(f.clicksAt, p)
	return nil
}

func (f *fakeDriver) Center(ctx context.Context, sel string) (Point, error) {
	return f.center, f.centerErr
}

func (f *fakeDriver) ExpectDownload(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (*download, error) {
	if err := trigger(ctx); err != nil {
		return nil, err
	}
	return f.download, f.downloadErr
}

func (f *fakeDriver) ExpectTab(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (string, error) {
	if err := trigger(ctx); err != nil {
		return "", err
	}
	return f.tabURL, f.tabErr
}

func (f *fakeDriver) Fetch(ctx context.Context, url string) (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch %s", url)
	return f.fetchStatus, f.fetchBody, nil
}

func (f *fakeDriver) Screenshot(ctx context.Context, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots = append(f.screenshots, label)
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ driver = (*fakeDriver)(nil)

// zeroJitter keeps every count fixed and every delay at zero
func zeroJitter() config.HumanizeConfig {
	return config.HumanizeConfig{
		WaypointsMin: 3,
		WaypointsMax: 3,
		ScrollsMin:   2,
		ScrollsMax:   2,
		ScrollDelta:  0,
		ClicksMin:    1,
		ClicksMax:    1,
		ApproachMin:  3,
		ApproachMax:  3,
	}
}

func testOptions() Options {
	return Options{
		Browser: config.BrowserConfig{
			NavigateTimeout: time.Second,
			ElementTimeout:  time.Second,
			LoginTimeout:    time.Second,
			DownloadTimeout: time.Second,
		},
		Humanize: zeroJitter(),
		Recovery: config.RecoveryConfig{MaxAttempts: 2},
		Logger:   logger.Discard(),
	}
}

func testProfile(kind string, accounts ...config.AccountMetadata) *config.VendorProfile {
	if len(accounts) == 0 {
		accounts = []config.AccountMetadata{{VendorCode: "ROGE04", AccountNumber: "3509", GLAccount: "68050-YYT-11-410"}}
	}
	return &config.VendorProfile{
		Name: kind,
		Kind: kind,
		Credentials: config.Credentials{
			LoginURL: "https://portal.example.com/login",
			Username: "user",
			Password: "pw",
		},
		DateRegion: config.Region{X0: 1, Y0: 1, X1: 2, Y1: 2},
		DateFormat: "%b %d, %Y",
		Accounts:   accounts,
	}
}

var pdfBytes = []byte("%PDF-1.7\n%fake\n")
