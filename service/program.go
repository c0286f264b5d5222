// Package service runs the bill scraper under the OS service manager and
// assembles the components every entry point shares.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kardianos/service"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/logger"
	"github.com/bill-scraper/updater"
)

// Program implements service.Interface
type Program struct {
	ConfigPath string
	Version    string

	logger *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start is called when the service starts
func (p *Program) Start(s service.Service) error {
	svcLogger, _ := s.Logger(nil)

	if err := p.setupLogger(); err != nil {
		if svcLogger != nil {
			svcLogger.Error("Failed to setup file logger: " + err.Error())
		}
		p.logger = logger.NewDefault()
	}
	if svcLogger != nil {
		svcLogger.Info("Service starting, config " + p.ConfigPath)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.run(service.Interactive())
	return nil
}

// Stop is called when the service stops. It waits for the running unit,
// if any, to reach a stage boundary.
func (p *Program) Stop(s service.Service) error {
	p.logger.Info("service stopping")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("service stopped")
	return p.logger.Close()
}

// setupLogger tees logs to logs/bill-scraper.log next to the executable
func (p *Program) setupLogger() error {
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	l, err := logger.New(&logger.Config{
		Level:  "info",
		Format: "console",
		Output: filepath.Join(filepath.Dir(exePath), "logs", "bill-scraper.log"),
	})
	if err != nil {
		return err
	}
	p.logger = l
	return nil
}

func (p *Program) run(interactive bool) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("run() panic recovered", "panic", r)
		}
	}()

	// the service manager starts us outside the install directory
	if !interactive {
		if exePath, err := os.Executable(); err == nil {
			if err := os.Chdir(filepath.Dir(exePath)); err != nil {
				p.logger.Warn("failed to change to install directory", "error", err)
			}
		}
	}

	cfg, err := LoadConfig(p.ConfigPath)
	if err != nil {
		p.logger.Error("failed to load configuration", "path", p.ConfigPath, "error", err)
		return
	}
	log := p.logger.With("app", cfg.App.Name)

	app, err := NewApp(cfg, p.Version, log)
	if err != nil {
		log.Error("failed to start", "error", err)
		return
	}
	defer app.Close()

	onUpdated := func() { p.restart(interactive, log) }
	if err := app.Serve(p.ctx, onUpdated); err != nil {
		log.Error("service stopped with error", "error", err)
	}
}

func (p *Program) restart(interactive bool, log *slog.Logger) {
	if interactive {
		if err := updater.RestartSelf(log); err != nil {
			log.Error("failed to restart", "error", err)
		}
		return
	}
	updater.RestartService(p.ctx.Done(), log)
}

// ServiceArgs are the arguments the installed service is started with
func ServiceArgs(configPath string) []string {
	if abs, err := filepath.Abs(config.ResolvePath(configPath)); err == nil {
		configPath = abs
	}
	return []string{"service", "run", "--config=" + configPath}
}
