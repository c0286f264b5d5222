package updater

import (
	"time"

	"github.com/bill-scraper/config"
)

const (
	RepoOwner = "bill-scraper"
	RepoName  = "bill-scraper"

	DefaultCheckInterval = 1 * time.Hour

	// StartupDelay lets the service settle before the first check
	StartupDelay = 30 * time.Second
)

// Config holds the updater configuration
type Config struct {
	Owner          string
	Repo           string
	CheckInterval  time.Duration
	CurrentVersion string
}

// FromConfig builds the updater configuration from the update section
func FromConfig(cfg config.UpdateConfig, version string) Config {
	c := Config{
		Owner:          cfg.Owner,
		Repo:           cfg.Repo,
		CheckInterval:  cfg.Interval,
		CurrentVersion: version,
	}
	if c.Owner == "" {
		c.Owner = RepoOwner
	}
	if c.Repo == "" {
		c.Repo = RepoName
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// Slug is the owner/repo pair releases are looked up under
func (c Config) Slug() string {
	return c.Owner + "/" + c.Repo
}
