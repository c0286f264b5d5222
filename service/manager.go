package service

import (
	"fmt"
	"log/slog"

	svc "github.com/kardianos/service"
)

// Commands lists the accepted service commands
var Commands = []string{"install", "uninstall", "start", "stop", "restart", "status", "run"}

// Manager handles service management operations
type Manager struct {
	service svc.Service
	program *Program
}

// NewManager creates a service manager for prg
func NewManager(prg *Program) (*Manager, error) {
	s, err := svc.New(prg, NewServiceConfig(ServiceArgs(prg.ConfigPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return &Manager{service: s, program: prg}, nil
}

// RunCommand performs one service command
func (m *Manager) RunCommand(cmd string, logger *slog.Logger) error {
	switch cmd {
	case "install":
		if err := m.service.Install(); err != nil {
			return fmt.Errorf("failed to install service: %w", err)
		}
		logger.Info("service installed", "name", ServiceName, "config", m.program.ConfigPath)
		logger.Info("to start the service, run: bill-scraper service start")

	case "uninstall":
		_ = m.service.Stop()
		if err := m.service.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall service: %w", err)
		}
		logger.Info("service uninstalled")

	case "start":
		if err := m.service.Start(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
		logger.Info("service started")

	case "stop":
		if err := m.service.Stop(); err != nil {
			return fmt.Errorf("failed to stop service: %w", err)
		}
		logger.Info("service stopped")

	case "restart":
		if err := m.service.Restart(); err != nil {
			return fmt.Errorf("failed to restart service: %w", err)
		}
		logger.Info("service restarted")

	case "status":
		status, err := m.service.Status()
		if err != nil {
			return fmt.Errorf("failed to get service status: %w", err)
		}
		logger.Info("service status", "status", StatusText(status))

	case "run":
		// called by the service manager, or in the foreground
		return m.service.Run()

	default:
		return fmt.Errorf("unknown service command: %s (valid: %v)", cmd, Commands)
	}
	return nil
}

// StatusText names a service status
func StatusText(status svc.Status) string {
	switch status {
	case svc.StatusRunning:
		return "running"
	case svc.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
