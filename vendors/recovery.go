package vendors

import (
	"context"
	"fmt"
	"strings"
)

// blockedSignature reports whether a page shows the rc01 "automation
// blocked" error, either in its URL or in its content.
func blockedSignature(url, content string) bool {
	if strings.Contains(url, "error=rc01") {
		return true
	}
	lower := strings.ToLower(content)
	return strings.Contains(lower, "rc01") || strings.Contains(lower, "something went wrong")
}

// isBlocked inspects the current page. Read failures count as not blocked
// so the normal readiness wait reports the real problem.
func (b *base) isBlocked(ctx context.Context) bool {
	url, err := b.d.Location(ctx)
	if err != nil {
		b.logger.Warn("failed to read location", "error", err)
		return false
	}
	content, err := b.d.Content(ctx)
	if err != nil {
		b.logger.Warn("failed to read page content", "error", err)
		content = ""
	}
	if blockedSignature(url, content) {
		b.logger.Warn("detected rc01 error page", "url", url)
		return true
	}
	return false
}

// recoverBlock behaves like a confused visitor on the error page, then
// steers the pointer to the retry control and clicks it. It returns an
// error when the retry control cannot be found or clicked.
func (b *base) recoverBlock(ctx context.Context, retrySelector string) error {
	log := b.logger.With("phase", "rc01_recovery")
	log.Info("recovering from rc01")
	b.d.Screenshot(ctx, "rc01_error_detected")

	if err := b.human.Dwell(ctx); err != nil {
		return err
	}

	waypoints := b.human.Waypoints()
	log.Debug("moving pointer", "waypoints", len(waypoints))
	for _, p := range waypoints {
		if err := b.d.MoveMouse(ctx, p); err != nil {
			return fmt.Errorf("failed to move pointer: %w", err)
		}
		if err := b.human.Step(ctx); err != nil {
			return err
		}
	}

	scrolls := b.human.Scrolls()
	log.Debug("scrolling", "count", len(scrolls))
	for _, dy := range scrolls {
		if err := b.d.Wheel(ctx, dy); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := b.human.Step(ctx); err != nil {
			return err
		}
	}

	clicks := b.human.IdleClicks()
	log.Debug("clicking neutral regions", "count", len(clicks))
	for _, p := range clicks {
		if err := b.d.ClickAt(ctx, p); err != nil {
			return fmt.Errorf("failed to click neutral region: %w", err)
		}
		if err := b.human.Step(ctx); err != nil {
			return err
		}
	}

	if err := b.human.Pause(ctx); err != nil {
		return err
	}

	target, err := b.d.Center(ctx, retrySelector)
	if err != nil {
		b.d.Screenshot(ctx, "error_recovery_failed")
		return fmt.Errorf("retry control not found: %w", err)
	}

	path := b.human.Approach(target)
	log.Debug("approaching retry control", "steps", len(path), "x", target.X, "y", target.Y)
	for _, p := range path {
		if err := b.d.MoveMouse(ctx, p); err != nil {
			return fmt.Errorf("failed to move pointer: %w", err)
		}
		if err := b.human.Step(ctx); err != nil {
			return err
		}
	}

	if err := b.d.ClickAt(ctx, target); err != nil {
		b.d.Screenshot(ctx, "error_recovery_failed")
		return fmt.Errorf("failed to click retry control: %w", err)
	}
	if err := b.human.Pause(ctx); err != nil {
		return err
	}

	b.d.Screenshot(ctx, "recovery_clicked_try_again")
	log.Info("recovery complete, returning to login")
	return nil
}

// cooldown is the long wait after a recovery before the next login attempt
func (b *base) cooldown(ctx context.Context) error {
	d := b.human.span(b.opts.Recovery.CooldownMin, b.opts.Recovery.CooldownMax)
	b.logger.Info("cooling down before retrying login", "wait", d)
	return b.human.sleep(ctx, d)
}
