package vendors

import (
	"context"
	"time"
)

// download is a file the browser saved on its own
type download struct {
	Path string
	Data []byte
}

// driver is the browser surface the vendor flows are written against.
// Selectors are CSS selectors; coordinates are viewport pixels.
type driver interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	// WaitText waits until an element matching sel contains text
	WaitText(ctx context.Context, sel, text string, timeout time.Duration) error
	Clear(ctx context.Context, sel string) error
	SendKeys(ctx context.Context, sel, text string) error
	Click(ctx context.Context, sel string) error
	ClickNth(ctx context.Context, sel string, n int) error
	// ClickText clicks the first element matching sel whose text contains text
	ClickText(ctx context.Context, sel, text string) error
	ScrollIntoView(ctx context.Context, sel string) error
	Location(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)

	MoveMouse(ctx context.Context, p Point) error
	Wheel(ctx context.Context, deltaY float64) error
	ClickAt(ctx context.Context, p Point) error
	// Center returns the midpoint of the first element matching sel
	Center(ctx context.Context, sel string) (Point, error)

	// ExpectDownload runs trigger and waits for the browser to finish a download
	ExpectDownload(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (*download, error)
	// ExpectTab runs trigger and returns the URL the resulting new tab loads.
	// The tab is closed before returning.
	ExpectTab(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (string, error)
	// Fetch requests url with the session's cookies
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)

	// Screenshot saves a best-effort capture keyed by label
	Screenshot(ctx context.Context, label string)
	Close() error
}
