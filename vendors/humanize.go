package vendors

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/bill-scraper/config"
)

// Point is a viewport coordinate in CSS pixels
type Point struct {
	X, Y float64
}

// humanizer draws the randomized delays and pointer offsets used to make
// input look less scripted. Equal min and max bounds make it deterministic.
type humanizer struct {
	cfg config.HumanizeConfig

	mu  sync.Mutex
	rnd *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

func newHumanizer(cfg config.HumanizeConfig, seed int64) *humanizer {
	return &humanizer{
		cfg:   cfg,
		rnd:   rand.New(rand.NewSource(seed)),
		sleep: sleepContext,
	}
}

// intn returns a value in [lo, hi]
func (h *humanizer) intn(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo + h.rnd.Intn(hi-lo+1)
}

// between returns a duration in [lo, hi], or zero when humanizing is disabled
func (h *humanizer) between(lo, hi time.Duration) time.Duration {
	if h.cfg.Disabled {
		return 0
	}
	return h.span(lo, hi)
}

// span returns a duration in [lo, hi]
func (h *humanizer) span(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo + time.Duration(h.rnd.Int63n(int64(hi-lo)+1))
}

func (h *humanizer) wait(ctx context.Context, lo, hi time.Duration) error {
	return h.sleep(ctx, h.between(lo, hi))
}

// Pause is the short wait before interacting with a page
func (h *humanizer) Pause(ctx context.Context) error {
	return h.wait(ctx, h.cfg.PauseMin, h.cfg.PauseMax)
}

// Step is the wait between pointer actions
func (h *humanizer) Step(ctx context.Context) error {
	return h.wait(ctx, h.cfg.StepDelayMin, h.cfg.StepDelayMax)
}

// Dwell is the "reading the page" wait
func (h *humanizer) Dwell(ctx context.Context) error {
	return h.wait(ctx, h.cfg.DwellMin, h.cfg.DwellMax)
}

// Keystroke is the wait between typed characters
func (h *humanizer) Keystroke(ctx context.Context) error {
	return h.wait(ctx, h.cfg.TypingDelayMin, h.cfg.TypingDelayMax)
}

// Waypoints returns random pointer targets inside the content area
func (h *humanizer) Waypoints() []Point {
	n := h.intn(h.cfg.WaypointsMin, h.cfg.WaypointsMax)
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{X: float64(h.intn(100, 1000)), Y: float64(h.intn(100, 600))}
	}
	return points
}

// Scrolls returns vertical wheel deltas in [-ScrollDelta, ScrollDelta]
func (h *humanizer) Scrolls() []float64 {
	n := h.intn(h.cfg.ScrollsMin, h.cfg.ScrollsMax)
	deltas := make([]float64, n)
	for i := range deltas {
		deltas[i] = float64(h.intn(-h.cfg.ScrollDelta, h.cfg.ScrollDelta))
	}
	return deltas
}

var safeZones = []Point{{X: 300, Y: 400}, {X: 500, Y: 300}, {X: 700, Y: 500}}

// IdleClicks picks distinct neutral regions to click, each offset by the wobble
func (h *humanizer) IdleClicks() []Point {
	n := h.intn(h.cfg.ClicksMin, h.cfg.ClicksMax)
	if n > len(safeZones) {
		n = len(safeZones)
	}

	h.mu.Lock()
	order := h.rnd.Perm(len(safeZones))
	h.mu.Unlock()

	w := h.cfg.ClickWobble
	clicks := make([]Point, n)
	for i := range clicks {
		z := safeZones[order[i]]
		clicks[i] = Point{X: z.X + float64(h.intn(-w, w)), Y: z.Y + float64(h.intn(-w, w))}
	}
	return clicks
}

// Approach returns the intermediate points of a pointer move toward target,
// ending exactly on it.
func (h *humanizer) Approach(target Point) []Point {
	from := Point{X: float64(h.intn(200, 400)), Y: float64(h.intn(200, 400))}
	steps := h.intn(h.cfg.ApproachMin, h.cfg.ApproachMax)
	w := h.cfg.ApproachWobble

	path := interpolate(from, target, steps)
	for i := range path {
		path[i].X += float64(h.intn(-w, w))
		path[i].Y += float64(h.intn(-w, w))
	}
	return append(path, target)
}

// interpolate returns steps evenly spaced points from just after from up to to
func interpolate(from, to Point, steps int) []Point {
	if steps < 1 {
		return nil
	}
	points := make([]Point, steps)
	for i := range points {
		progress := float64(i+1) / float64(steps)
		points[i] = Point{
			X: from.X + (to.X-from.X)*progress,
			Y: from.Y + (to.Y-from.Y)*progress,
		}
	}
	return points
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
