package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
			assert.Equal(t, 50051, cfg.GRPC.Port)
			assert.Equal(t, 5*time.Second, cfg.Browser.ElementTimeout)
			assert.Equal(t, 2, cfg.Recovery.MaxAttempts)
			assert.Equal(t, 25*time.Second, cfg.Recovery.CooldownMin)
			require.Len(t, cfg.Vendors, 2)
			assert.Equal(t, "rogers", cfg.Vendors[0].Name)
			assert.Len(t, cfg.Vendors[0].Accounts, 3)
			assert.Equal(t, "438 CYGNET DR", cfg.Vendors[1].Accounts[1].DisplayLabel)
			assert.Equal(t, "strip-month-token", cfg.Vendors[1].DateCleanup)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 1920, cfg.Browser.WindowWidth)
	assert.Equal(t, 2, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 25*time.Second, cfg.Recovery.CooldownMin)
	assert.Equal(t, 50*time.Second, cfg.Recovery.CooldownMax)
	assert.Equal(t, DefaultHumanize(), cfg.Humanize)
	assert.Equal(t, 2*time.Second, cfg.Download.PauseBetween)

	disabled := &Config{Humanize: HumanizeConfig{Disabled: true}}
	disabled.ApplyDefaults()
	assert.Equal(t, HumanizeConfig{Disabled: true}, disabled.Humanize)
}

func validConfig() *Config {
	cfg := &Config{
		Vendors: []VendorConfig{
			{
				Name:        "rogers",
				Kind:        "rogers",
				LoginURLEnv: "ROGERS_LOGIN_URL",
				UsernameEnv: "ROGERS_USERNAME",
				PasswordEnv: "ROGERS_PASSWORD",
				DateRegion:  []float64{118, 44, 168, 54},
				DateFormat:  "%b %d, %Y",
				Accounts: []AccountConfig{
					{VendorCode: "ROGE04", AccountNumber: "3509", GLAccount: "68050-YYT-11-410"},
				},
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "invalid grpc port",
			mutate:    func(c *Config) { c.GRPC.Port = -1 },
			errString: "invalid grpc port",
		},
		{
			name:      "no vendors",
			mutate:    func(c *Config) { c.Vendors = nil },
			errString: "at least one vendor",
		},
		{
			name:      "duplicate vendor",
			mutate:    func(c *Config) { c.Vendors = append(c.Vendors, c.Vendors[0]) },
			errString: "duplicate name",
		},
		{
			name:      "missing kind",
			mutate:    func(c *Config) { c.Vendors[0].Kind = "" },
			errString: "kind is required",
		},
		{
			name:      "bad region",
			mutate:    func(c *Config) { c.Vendors[0].DateRegion = []float64{10, 10, 5, 20} },
			errString: "x1 > x0",
		},
		{
			name:      "region arity",
			mutate:    func(c *Config) { c.Vendors[0].DateRegion = []float64{1, 2} },
			errString: "4 coordinates",
		},
		{
			name:      "format without directive",
			mutate:    func(c *Config) { c.Vendors[0].DateFormat = "Jan 2 2006" },
			errString: "no strftime directive",
		},
		{
			name:      "incomplete account",
			mutate:    func(c *Config) { c.Vendors[0].Accounts[0].GLAccount = "" },
			errString: "gl_account are required",
		},
		{
			name:      "email without recipients",
			mutate:    func(c *Config) { c.Email = EmailConfig{Enabled: true, Host: "smtp", From: "a@b.c"} },
			errString: "at least one recipient",
		},
		{
			name:      "cooldown inverted",
			mutate:    func(c *Config) { c.Recovery.CooldownMax = time.Second },
			errString: "cooldown_max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestProfiles(t *testing.T) {
	env := map[string]string{
		"ROGERS_LOGIN_URL": "https://example.com/login",
		"ROGERS_USERNAME":  "user",
		"ROGERS_PASSWORD":  "secret",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := validConfig()
	profiles, err := cfg.Profiles(lookup)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	p := profiles[0]
	assert.Equal(t, "ROGERS", p.DisplayName())
	assert.Equal(t, 1, p.MaxAccounts())
	assert.Equal(t, Region{X0: 118, Y0: 44, X1: 168, Y1: 54}, p.DateRegion)
	assert.Equal(t, "secret", p.Credentials.Password)

	meta, ok := p.Account(0)
	require.True(t, ok)
	assert.Equal(t, "3509", meta.AccountNumber)

	_, ok = p.Account(1)
	assert.False(t, ok)
	_, ok = p.Account(-1)
	assert.False(t, ok)

	delete(env, "ROGERS_PASSWORD")
	_, err = cfg.Profiles(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROGERS_PASSWORD")
}

func TestLoadEnv(t *testing.T) {
	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BILL_SCRAPER_TEST_VALUE=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("BILL_SCRAPER_TEST_VALUE") })

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "loaded", os.Getenv("BILL_SCRAPER_TEST_VALUE"))
}

func TestResolvePath(t *testing.T) {
	t.Setenv(PathEnv, "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
	assert.Equal(t, "x.yaml", ResolvePath("x.yaml"))

	t.Setenv(PathEnv, "env.yaml")
	assert.Equal(t, "env.yaml", ResolvePath(""))
}
