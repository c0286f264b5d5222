package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/bill-scraper/automation"
	"github.com/bill-scraper/config"
	"github.com/bill-scraper/history"
	"github.com/bill-scraper/jobs"
	"github.com/bill-scraper/naming"
	"github.com/bill-scraper/notify"
	"github.com/bill-scraper/pdfdate"
	"github.com/bill-scraper/schedule"
	"github.com/bill-scraper/server"
	"github.com/bill-scraper/updater"
	"github.com/bill-scraper/vendors"
	"github.com/bill-scraper/web"
)

// App is the assembled bill scraper: one orchestrator and the front ends
// that feed it
type App struct {
	Config       *config.Config
	Orchestrator *jobs.Orchestrator
	Mailer       *notify.Mailer

	logger  *slog.Logger
	version string
	history *history.Store
}

// LoadConfig reads, resolves and validates the configuration at path
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Resolve(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewApp wires the components described by cfg. Every vendor must have a
// registered kind, resolvable credentials and a date format and cleanup
// the extractor understands.
func NewApp(cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	profiles, err := cfg.Profiles(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	kinds := vendors.Kinds()
	for _, p := range profiles {
		if !slices.Contains(kinds, p.Kind) {
			return nil, fmt.Errorf("vendor %s: unknown kind %q (known: %v)", p.Name, p.Kind, kinds)
		}
		if _, err := pdfdate.Layout(p.DateFormat); err != nil {
			return nil, fmt.Errorf("vendor %s: %w", p.Name, err)
		}
		if _, err := pdfdate.LookupCleanup(p.DateCleanup); err != nil {
			return nil, fmt.Errorf("vendor %s: %w", p.Name, err)
		}
		for i, meta := range p.Accounts {
			if err := naming.ValidateMetadata(meta); err != nil {
				return nil, fmt.Errorf("vendor %s account %d: %w", p.Name, i+1, err)
			}
		}
	}

	sessions := automation.BrowserSessions(vendors.Options{
		Browser:     cfg.Browser,
		Humanize:    cfg.Humanize,
		Recovery:    cfg.Recovery,
		DownloadDir: cfg.Download.Dir,
		Logger:      logger,
	})
	runner := automation.NewRunner(cfg.Download.Dir, sessions, pdfdate.NewExtractor(logger), logger)
	mailer := notify.New(cfg.Email, logger)

	app := &App{
		Config:  cfg,
		Mailer:  mailer,
		logger:  logger,
		version: version,
	}

	opts := jobs.Options{
		PauseBetween: cfg.Download.PauseBetween,
		Notifier:     mailer,
		Logger:       logger,
	}
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		app.history = store
		opts.Archiver = store
	}

	app.Orchestrator = jobs.New(profiles, runner, opts)
	return app, nil
}

// Close releases the history database
func (a *App) Close() error {
	if a.history == nil {
		return nil
	}
	return a.history.Close()
}

// RunWorker runs only the job worker, for one-shot batches
func (a *App) RunWorker(ctx context.Context) error {
	return a.Orchestrator.Run(ctx)
}

// Serve runs the worker, the HTTP and gRPC servers, the scheduler and the
// updater until ctx is cancelled or one of them fails. onUpdated is called
// after a new binary was installed.
func (a *App) Serve(ctx context.Context, onUpdated func()) error {
	cfg := a.Config
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Orchestrator.Run(ctx) })

	deps := &web.Dependencies{
		Logger:      a.logger,
		Jobs:        a.Orchestrator,
		Settings:    web.NewSettingsStore(cfg.App.SettingsFile),
		DownloadDir: cfg.Download.Dir,
	}
	if a.history != nil {
		deps.History = a.history
	}
	httpServer := web.NewServer(cfg.Server, deps)
	g.Go(func() error { return httpServer.Run(ctx) })

	if cfg.GRPC.Port != 0 {
		grpcServer := server.NewServer(cfg.GRPC.Port, &server.BillScraper{
			Jobs:    a.Orchestrator,
			Logger:  a.logger,
			Version: a.version,
		})
		g.Go(func() error { return grpcServer.Run(ctx) })
	}

	if cfg.Schedule.Cron != "" {
		scheduler, err := schedule.New(cfg.Schedule.Cron, a.Orchestrator, a.logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return scheduler.Run(ctx) })
	}

	if cfg.Update.Enabled {
		u := updater.New(updater.FromConfig(cfg.Update, a.version), a.logger)
		busy := func() bool {
			_, active := a.Orchestrator.Active()
			return active
		}
		g.Go(func() error { return u.Run(ctx, busy, onUpdated) })
	}

	a.logger.Info("bill scraper started",
		"version", a.version,
		"http_port", cfg.Server.Port,
		"grpc_port", cfg.GRPC.Port,
		"download_dir", cfg.Download.Dir,
		"vendors", len(a.Orchestrator.Profiles()),
	)
	return g.Wait()
}
