package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/logger"
)

var errNotFound = errors.New("element not found")

var _ driver = (*chrome)(nil)

// chrome is the chromedp implementation of driver. Each instance owns one
// browser process and one private download directory.
type chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	vendor       string
	cfg          config.BrowserConfig
	logger       *slog.Logger
	downloadPath string
	downloadDone chan string

	closeOnce sync.Once
}

func launchChrome(ctx context.Context, vendor string, opts Options) (*chrome, error) {
	log := opts.Logger
	log.Info("initializing browser", "headless", opts.Browser.Headless)

	if err := os.MkdirAll(opts.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	absDownloadDir, err := filepath.Abs(opts.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	// chrome saves under GUID names; keep them out of the final directory
	sessionDir, err := os.MkdirTemp(absDownloadDir, ".session-"+vendor+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create session download directory: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Browser.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(opts.Browser.WindowWidth, opts.Browser.WindowHeight),
	)
	if opts.Browser.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.Browser.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Printf(log, slog.LevelDebug)),
		chromedp.WithErrorf(logger.Printf(log, slog.LevelDebug)),
	)

	c := &chrome{
		ctx:          browserCtx,
		cancel:       cancel,
		allocCancel:  allocCancel,
		vendor:       vendor,
		cfg:          opts.Browser,
		logger:       log,
		downloadPath: sessionDir,
		downloadDone: make(chan string, 1),
	}

	// the first Run starts the browser and must not carry a deadline
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx,
			browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
				WithDownloadPath(sessionDir).
				WithEventsEnabled(true),
		)
	}()
	select {
	case err = <-started:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	chromedp.ListenBrowser(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			log.Debug("download started", "guid", e.GUID, "filename", e.SuggestedFilename)
		case *browser.EventDownloadProgress:
			if e.State == browser.DownloadProgressStateCompleted {
				log.Debug("download completed", "guid", e.GUID)
				select {
				case c.downloadDone <- e.GUID:
				default:
				}
			}
		}
	})

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			log.Info("accepting dialog", "message", e.Message)
			go chromedp.Run(browserCtx, page.HandleJavaScriptDialog(true))
		}
	})

	log.Info("browser initialized", "download_path", sessionDir)
	return c, nil
}

// run executes actions on the session tab, bounded by timeout and by ctx
func (c *chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	rctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx, actions...)
}

func (c *chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, c.cfg.NavigateTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (c *chrome) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if err := c.run(ctx, timeout, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("%s not visible within %s: %w", sel, timeout, err)
	}
	return nil
}

func (c *chrome) WaitText(ctx context.Context, sel, text string, timeout time.Duration) error {
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).some(e => e.textContent.includes(%s))`,
		jsString(sel), jsString(text))
	var ok bool
	if err := c.run(ctx, timeout, chromedp.Poll(expr, &ok, chromedp.WithPollingInterval(250*time.Millisecond))); err != nil {
		return fmt.Errorf("%s did not show %q within %s: %w", sel, text, timeout, err)
	}
	return nil
}

func (c *chrome) Clear(ctx context.Context, sel string) error {
	return c.run(ctx, c.cfg.ElementTimeout, chromedp.SetValue(sel, "", chromedp.ByQuery))
}

func (c *chrome) SendKeys(ctx context.Context, sel, text string) error {
	return c.run(ctx, c.cfg.ElementTimeout, chromedp.SendKeys(sel, text, chromedp.ByQuery))
}

func (c *chrome) Click(ctx context.Context, sel string) error {
	if err := c.run(ctx, c.cfg.ElementTimeout, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to click %s: %w", sel, err)
	}
	return nil
}

func (c *chrome) ClickNth(ctx context.Context, sel string, n int) error {
	err := c.run(ctx, c.cfg.ElementTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll).Do(ctx); err != nil {
			return err
		}
		if n < 0 || n >= len(nodes) {
			return fmt.Errorf("%w: %s has %d matches, want index %d", errNotFound, sel, len(nodes), n)
		}
		return chromedp.MouseClickNode(nodes[n]).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to click %s[%d]: %w", sel, n, err)
	}
	return nil
}

func (c *chrome) ClickText(ctx context.Context, sel, text string) error {
	expr := fmt.Sprintf(`(() => {
		const el = Array.from(document.querySelectorAll(%s)).find(e => e.textContent.includes(%s));
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.click();
		return true;
	})()`, jsString(sel), jsString(text))

	var clicked bool
	if err := c.run(ctx, c.cfg.ElementTimeout, chromedp.Poll(expr, &clicked, chromedp.WithPollingInterval(250*time.Millisecond))); err != nil {
		return fmt.Errorf("failed to click %s containing %q: %w", sel, text, err)
	}
	return nil
}

func (c *chrome) ScrollIntoView(ctx context.Context, sel string) error {
	return c.run(ctx, c.cfg.ElementTimeout, chromedp.ScrollIntoView(sel, chromedp.ByQuery))
}

func (c *chrome) Location(ctx context.Context) (string, error) {
	var url string
	err := c.run(ctx, c.cfg.ElementTimeout, chromedp.Location(&url))
	return url, err
}

func (c *chrome) Content(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, c.cfg.ElementTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (c *chrome) MoveMouse(ctx context.Context, p Point) error {
	return c.run(ctx, c.cfg.ElementTimeout, chromedp.MouseEvent(input.MouseMoved, p.X, p.Y))
}

func (c *chrome) Wheel(ctx context.Context, deltaY float64) error {
	return c.run(ctx, c.cfg.ElementTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		w, h := float64(c.cfg.WindowWidth)/2, float64(c.cfg.WindowHeight)/2
		return input.DispatchMouseEvent(input.MouseWheel, w, h).
			WithDeltaX(0).
			WithDeltaY(deltaY).
			Do(ctx)
	}))
}

func (c *chrome) ClickAt(ctx context.Context, p Point) error {
	return c.run(ctx, c.cfg.ElementTimeout, chromedp.MouseClickXY(p.X, p.Y))
}

func (c *chrome) Center(ctx context.Context, sel string) (Point, error) {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) return null;
		return {x: r.x + r.width / 2, y: r.y + r.height / 2};
	})()`, jsString(sel))

	var p *Point
	if err := c.run(ctx, c.cfg.ElementTimeout, chromedp.Evaluate(expr, &p)); err != nil {
		return Point{}, fmt.Errorf("failed to locate %s: %w", sel, err)
	}
	if p == nil {
		return Point{}, fmt.Errorf("%w: %s", errNotFound, sel)
	}
	return *p, nil
}

func (c *chrome) ExpectDownload(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (*download, error) {
	for drained := false; !drained; {
		select {
		case <-c.downloadDone:
		default:
			drained = true
		}
	}

	if err := trigger(ctx); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	sizes := map[string]int64{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("no download completed within %s", timeout)
		case guid := <-c.downloadDone:
			return c.readDownload(filepath.Join(c.downloadPath, guid))
		case <-ticker.C:
			// fallback when the completion event is missed: a file whose
			// size held steady across two polls
			if path := c.settledDownload(sizes); path != "" {
				return c.readDownload(path)
			}
		}
	}
}

func (c *chrome) settledDownload(sizes map[string]int64) string {
	files, _ := filepath.Glob(filepath.Join(c.downloadPath, "*"))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || info.IsDir() || info.Size() == 0 || strings.HasSuffix(f, ".crdownload") {
			continue
		}
		if prev, ok := sizes[f]; ok && prev == info.Size() {
			return f
		}
		sizes[f] = info.Size()
	}
	return ""
}

func (c *chrome) readDownload(path string) (*download, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %w", err)
	}
	c.logger.Info("download received", "path", path, "bytes", len(data))
	return &download{Path: path, Data: data}, nil
}

func (c *chrome) ExpectTab(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (string, error) {
	newTab := chromedp.WaitNewTarget(c.ctx, func(info *target.Info) bool {
		return info.Type == "page"
	})

	if err := trigger(ctx); err != nil {
		return "", err
	}

	var id target.ID
	select {
	case id = <-newTab:
	case <-time.After(timeout):
		return "", fmt.Errorf("no new tab opened within %s", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	tabCtx, cancel := chromedp.NewContext(c.ctx, chromedp.WithTargetID(id))
	defer cancel()
	tctx, tcancel := context.WithTimeout(tabCtx, timeout)
	defer tcancel()

	var url string
	err := chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for {
			if err := chromedp.Location(&url).Do(ctx); err != nil {
				return err
			}
			if url != "" && url != "about:blank" {
				return nil
			}
			if err := sleepContext(ctx, 250*time.Millisecond); err != nil {
				return err
			}
		}
	}))
	if err != nil {
		return "", fmt.Errorf("new tab did not load: %w", err)
	}

	if err := chromedp.Run(tabCtx, page.Close()); err != nil {
		c.logger.Debug("failed to close tab", "error", err)
	}
	c.logger.Info("new tab loaded", "url", url)
	return url, nil
}

// Fetch downloads url outside the page with the session's cookies, so the
// request is not subject to the page's CORS policy
func (c *chrome) Fetch(ctx context.Context, url string) (int, []byte, error) {
	var (
		cookies   []*network.Cookie
		userAgent string
	)
	err := c.run(ctx, 10*time.Second,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithUrls([]string{url}).Do(ctx)
			return err
		}),
		chromedp.Evaluate(`navigator.userAgent`, &userAgent),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read session cookies: %w", err)
	}

	client := newFetchClient(c.cfg.DownloadTimeout, c.logger)
	return fetchWithCookies(ctx, client, url, userAgent, cookies)
}

func (c *chrome) Screenshot(ctx context.Context, label string) {
	if c.cfg.ScreenshotDir == "" {
		return
	}

	var buf []byte
	if err := c.run(ctx, 10*time.Second, chromedp.CaptureScreenshot(&buf)); err != nil {
		c.logger.Warn("failed to capture screenshot", "label", label, "error", err)
		return
	}
	if err := os.MkdirAll(c.cfg.ScreenshotDir, 0755); err != nil {
		c.logger.Warn("failed to create screenshot dir", "error", err)
		return
	}

	name := fmt.Sprintf("%s_%s_%s.png", c.vendor, label, time.Now().Format("20060102_150405"))
	path := filepath.Join(c.cfg.ScreenshotDir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		c.logger.Warn("failed to save screenshot", "path", path, "error", err)
		return
	}
	c.logger.Debug("screenshot saved", "path", path)
}

func (c *chrome) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.allocCancel != nil {
			c.allocCancel()
		}
		err = os.RemoveAll(c.downloadPath)
		c.logger.Info("browser closed")
	})
	return err
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
