// Package updater replaces the running binary with the latest GitHub release
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/creativeprojects/go-selfupdate"
)

// Candidate is a newer release waiting to be applied
type Candidate struct {
	Version string
	release *selfupdate.Release
}

// Updater checks for and applies updates
type Updater struct {
	config Config
	logger *slog.Logger

	startupDelay time.Duration
	check        func(ctx context.Context) (*Candidate, error)
	apply        func(ctx context.Context, c *Candidate) error
}

// New creates a new Updater
func New(config Config, logger *slog.Logger) *Updater {
	u := &Updater{
		config:       config,
		logger:       logger.With("component", "updater"),
		startupDelay: StartupDelay,
	}
	u.check = u.CheckForUpdate
	u.apply = u.Update
	return u
}

func (u *Updater) newSelfUpdater() (*selfupdate.Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{Source: source})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}
	return updater, nil
}

// CheckForUpdate returns the newer release, or nil when up to date
func (u *Updater) CheckForUpdate(ctx context.Context) (*Candidate, error) {
	u.logger.Info("checking for updates", "current", u.config.CurrentVersion)

	updater, err := u.newSelfUpdater()
	if err != nil {
		return nil, err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(u.config.Slug()))
	if err != nil {
		return nil, fmt.Errorf("failed to detect latest version: %w", err)
	}
	if !found {
		u.logger.Info("no release found", "os", runtime.GOOS, "arch", runtime.GOARCH)
		return nil, nil
	}

	if latest.LessOrEqual(normalizeVersion(u.config.CurrentVersion)) {
		u.logger.Info("current version is up to date", "version", u.config.CurrentVersion)
		return nil, nil
	}

	u.logger.Info("new version available", "latest", latest.Version(), "current", u.config.CurrentVersion)
	return &Candidate{Version: latest.Version(), release: latest}, nil
}

// Update downloads the candidate and replaces the executable
func (u *Updater) Update(ctx context.Context, c *Candidate) error {
	u.logger.Info("downloading update", "version", c.Version)

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	updater, err := u.newSelfUpdater()
	if err != nil {
		return err
	}
	if err := updater.UpdateTo(ctx, c.release, exe); err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}

	u.logger.Info("successfully updated", "version", c.Version)
	return nil
}

// CheckAndUpdate applies a newer release if there is one
func (u *Updater) CheckAndUpdate(ctx context.Context) (bool, error) {
	c, err := u.check(ctx)
	if err != nil || c == nil {
		return false, err
	}
	if err := u.apply(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

// Run checks periodically until ctx is cancelled. An update found while
// busy reports true is held back until the next idle check; after it is
// applied, onUpdated is called and Run returns.
func (u *Updater) Run(ctx context.Context, busy func() bool, onUpdated func()) error {
	select {
	case <-time.After(u.startupDelay):
	case <-ctx.Done():
		return nil
	}

	ticker := time.NewTicker(u.config.CheckInterval)
	defer ticker.Stop()

	var pending *Candidate
	for {
		if pending == nil {
			c, err := u.check(ctx)
			if err != nil {
				u.logger.Warn("update check failed", "error", err)
			}
			pending = c
		}

		if pending != nil {
			if busy != nil && busy() {
				u.logger.Info("update deferred, a job is running", "version", pending.Version)
			} else if err := u.apply(ctx, pending); err != nil {
				u.logger.Error("failed to apply update", "version", pending.Version, "error", err)
				pending = nil
			} else {
				if onUpdated != nil {
					onUpdated()
				}
				return nil
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			u.logger.Info("periodic update check stopped")
			return nil
		}
	}
}

// LatestVersion returns the newest release version, or the current one when up to date
func (u *Updater) LatestVersion(ctx context.Context) (string, error) {
	c, err := u.check(ctx)
	if err != nil {
		return "", err
	}
	if c == nil {
		return u.config.CurrentVersion, nil
	}
	return c.Version, nil
}

func normalizeVersion(v string) string {
	if v != "" && !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
