package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultPath is used when neither a flag nor BILL_SCRAPER_CONFIG is set
	DefaultPath = "configs/config.yaml"
	// PathEnv names the environment variable that overrides DefaultPath
	PathEnv = "BILL_SCRAPER_CONFIG"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Logging  LoggingConfig  `yaml:"logging"`
	Browser  BrowserConfig  `yaml:"browser"`
	Download DownloadConfig `yaml:"download"`
	Humanize HumanizeConfig `yaml:"humanize"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Email    EmailConfig    `yaml:"email"`
	Schedule ScheduleConfig `yaml:"schedule"`
	History  HistoryConfig  `yaml:"history"`
	Update   UpdateConfig   `yaml:"update"`
	Vendors  []VendorConfig `yaml:"vendors"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name         string `yaml:"name"`
	Environment  string `yaml:"environment"`
	SettingsFile string `yaml:"settings_file"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GRPCConfig holds gRPC server configuration. Port 0 disables the listener.
type GRPCConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// BrowserConfig controls the Chrome instance each automation run launches
type BrowserConfig struct {
	Headless        bool          `yaml:"headless"`
	WindowWidth     int           `yaml:"window_width"`
	WindowHeight    int           `yaml:"window_height"`
	ExecPath        string        `yaml:"exec_path"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	ElementTimeout  time.Duration `yaml:"element_timeout"`
	LoginTimeout    time.Duration `yaml:"login_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	ScreenshotDir   string        `yaml:"screenshot_dir"`
}

// DownloadConfig controls where bills are written
type DownloadConfig struct {
	Dir          string        `yaml:"dir"`
	PauseBetween time.Duration `yaml:"pause_between"`
}

// HumanizeConfig holds the jitter parameters for humanlike input.
// A zero range (min == max) makes the corresponding behaviour deterministic.
type HumanizeConfig struct {
	PauseMin       time.Duration `yaml:"pause_min"`
	PauseMax       time.Duration `yaml:"pause_max"`
	TypingDelayMin time.Duration `yaml:"typing_delay_min"`
	TypingDelayMax time.Duration `yaml:"typing_delay_max"`
	DwellMin       time.Duration `yaml:"dwell_min"`
	DwellMax       time.Duration `yaml:"dwell_max"`
	StepDelayMin   time.Duration `yaml:"step_delay_min"`
	StepDelayMax   time.Duration `yaml:"step_delay_max"`
	WaypointsMin   int           `yaml:"waypoints_min"`
	WaypointsMax   int           `yaml:"waypoints_max"`
	ScrollsMin     int           `yaml:"scrolls_min"`
	ScrollsMax     int           `yaml:"scrolls_max"`
	ScrollDelta    int           `yaml:"scroll_delta"`
	ClicksMin      int           `yaml:"clicks_min"`
	ClicksMax      int           `yaml:"clicks_max"`
	ClickWobble    int           `yaml:"click_wobble"`
	ApproachMin    int           `yaml:"approach_steps_min"`
	ApproachMax    int           `yaml:"approach_steps_max"`
	ApproachWobble int           `yaml:"approach_wobble"`
	Disabled       bool          `yaml:"disabled"`
}

// RecoveryConfig bounds the anti-automation recovery protocol
type RecoveryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	CooldownMin time.Duration `yaml:"cooldown_min"`
	CooldownMax time.Duration `yaml:"cooldown_max"`
}

// EmailConfig holds SMTP settings for batch notifications
type EmailConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`

	Password string `yaml:"-"`
}

// ScheduleConfig holds the optional cron spec for unattended "all" batches
type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

// HistoryConfig holds the sqlite archive location. Empty disables archiving.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// UpdateConfig controls the self-updater
type UpdateConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Owner    string        `yaml:"owner"`
	Repo     string        `yaml:"repo"`
}

// VendorConfig is the raw per-vendor YAML block. Credentials are referenced
// by environment variable name and resolved by Resolve.
type VendorConfig struct {
	Name        string          `yaml:"name"`
	Kind        string          `yaml:"kind"`
	LoginURLEnv string          `yaml:"login_url_env"`
	UsernameEnv string          `yaml:"username_env"`
	PasswordEnv string          `yaml:"password_env"`
	DateRegion  []float64       `yaml:"date_region"`
	DateFormat  string          `yaml:"date_format"`
	DateCleanup string          `yaml:"date_cleanup"`
	Accounts    []AccountConfig `yaml:"accounts"`
}

// AccountConfig is one account row of a vendor
type AccountConfig struct {
	VendorCode    string `yaml:"vendor_code"`
	AccountNumber string `yaml:"account_number"`
	GLAccount     string `yaml:"gl_account"`
	DisplayLabel  string `yaml:"display_label"`
}

// Load reads .env (when present) and parses the configuration file
func Load(configPath string) (*Config, error) {
	if err := LoadEnv(".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// LoadEnv loads an env file into the process environment. A missing file is not an error.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// ResolvePath picks the config path from the flag value, then PathEnv, then DefaultPath
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// ApplyDefaults fills zero values with the tuned defaults
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bill-scraper"
	}
	if c.App.SettingsFile == "" {
		c.App.SettingsFile = "settings.json"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	b := &c.Browser
	if b.WindowWidth == 0 {
		b.WindowWidth = 1920
	}
	if b.WindowHeight == 0 {
		b.WindowHeight = 1080
	}
	if b.NavigateTimeout == 0 {
		b.NavigateTimeout = 60 * time.Second
	}
	if b.ElementTimeout == 0 {
		b.ElementTimeout = 10 * time.Second
	}
	if b.LoginTimeout == 0 {
		b.LoginTimeout = 20 * time.Second
	}
	if b.DownloadTimeout == 0 {
		b.DownloadTimeout = 30 * time.Second
	}
	if b.ScreenshotDir == "" {
		b.ScreenshotDir = "logs/screenshots"
	}

	if c.Download.Dir == "" {
		c.Download.Dir = "invoices"
	}
	if c.Download.PauseBetween == 0 {
		c.Download.PauseBetween = 2 * time.Second
	}

	if !c.Humanize.Disabled && c.Humanize == (HumanizeConfig{}) {
		c.Humanize = DefaultHumanize()
	}

	if c.Recovery.MaxAttempts == 0 {
		c.Recovery.MaxAttempts = 2
	}
	if c.Recovery.CooldownMin == 0 && c.Recovery.CooldownMax == 0 {
		c.Recovery.CooldownMin = 25 * time.Second
		c.Recovery.CooldownMax = 50 * time.Second
	}

	if c.Email.Port == 0 {
		c.Email.Port = 587
	}

	if c.Update.Interval == 0 {
		c.Update.Interval = time.Hour
	}
}

// DefaultHumanize returns the jitter ranges the recovery protocol was tuned with
func DefaultHumanize() HumanizeConfig {
	return HumanizeConfig{
		PauseMin:       1 * time.Second,
		PauseMax:       3 * time.Second,
		TypingDelayMin: 100 * time.Millisecond,
		TypingDelayMax: 300 * time.Millisecond,
		DwellMin:       2 * time.Second,
		DwellMax:       4 * time.Second,
		StepDelayMin:   300 * time.Millisecond,
		StepDelayMax:   800 * time.Millisecond,
		WaypointsMin:   3,
		WaypointsMax:   6,
		ScrollsMin:     2,
		ScrollsMax:     4,
		ScrollDelta:    200,
		ClicksMin:      1,
		ClicksMax:      2,
		ClickWobble:    50,
		ApproachMin:    3,
		ApproachMax:    5,
		ApproachWobble: 10,
	}
}

// Resolve reads the secrets referenced by the config from lookup (normally os.LookupEnv)
func (c *Config) Resolve(lookup func(string) (string, bool)) {
	if c.Email.PasswordEnv != "" {
		c.Email.Password, _ = lookup(c.Email.PasswordEnv)
	}
}

var strftimeDirective = regexp.MustCompile(`%[a-zA-Z]`)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.GRPC.Port != 0 && (c.GRPC.Port < MinPort || c.GRPC.Port > MaxPort) {
		return fmt.Errorf("invalid grpc port: %d (must be between %d and %d)", c.GRPC.Port, MinPort, MaxPort)
	}

	if c.Download.Dir == "" {
		return fmt.Errorf("download dir is required")
	}

	if c.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("recovery max_attempts must be at least 1")
	}

	if c.Recovery.CooldownMax < c.Recovery.CooldownMin {
		return fmt.Errorf("recovery cooldown_max must not be less than cooldown_min")
	}

	if c.Email.Enabled {
		if c.Email.Host == "" {
			return fmt.Errorf("email host is required")
		}
		if c.Email.From == "" {
			return fmt.Errorf("email from is required")
		}
		if len(c.Email.To) == 0 {
			return fmt.Errorf("email to requires at least one recipient")
		}
	}

	if len(c.Vendors) == 0 {
		return fmt.Errorf("at least one vendor is required")
	}

	seen := make(map[string]bool, len(c.Vendors))
	for i, v := range c.Vendors {
		if v.Name == "" {
			return fmt.Errorf("vendor %d: name is required", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("vendor %s: duplicate name", v.Name)
		}
		seen[v.Name] = true

		if v.Kind == "" {
			return fmt.Errorf("vendor %s: kind is required", v.Name)
		}
		if v.LoginURLEnv == "" || v.UsernameEnv == "" || v.PasswordEnv == "" {
			return fmt.Errorf("vendor %s: login_url_env, username_env and password_env are required", v.Name)
		}
		if len(v.DateRegion) != 4 {
			return fmt.Errorf("vendor %s: date_region must have 4 coordinates", v.Name)
		}
		if v.DateRegion[2] <= v.DateRegion[0] || v.DateRegion[3] <= v.DateRegion[1] {
			return fmt.Errorf("vendor %s: date_region must have x1 > x0 and y1 > y0", v.Name)
		}
		if !strftimeDirective.MatchString(v.DateFormat) {
			return fmt.Errorf("vendor %s: date_format %q has no strftime directive", v.Name, v.DateFormat)
		}
		if len(v.Accounts) == 0 {
			return fmt.Errorf("vendor %s: at least one account is required", v.Name)
		}
		for j, a := range v.Accounts {
			if a.VendorCode == "" || a.AccountNumber == "" || a.GLAccount == "" {
				return fmt.Errorf("vendor %s account %d: vendor_code, account_number and gl_account are required", v.Name, j)
			}
			if strings.Contains(a.VendorCode, "_") || strings.Contains(a.AccountNumber, "_") {
				return fmt.Errorf("vendor %s account %d: vendor_code and account_number must not contain '_'", v.Name, j)
			}
		}
	}

	return nil
}
