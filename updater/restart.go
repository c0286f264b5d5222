package updater

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// ExitCodeRestart is the status a service exits with after replacing its
// binary. The service is registered to restart on failure, so the service
// manager brings the new version up.
const ExitCodeRestart = 3

// settle lets in-flight responses reach their clients before the process goes away
var settle = 2 * time.Second

// RestartService exits with ExitCodeRestart after a short delay. It only
// returns when the delay is cut short by shutdown.
func RestartService(done <-chan struct{}, logger *slog.Logger) {
	logger.Info("exiting so the service manager starts the updated binary", "code", ExitCodeRestart)
	select {
	case <-done:
		logger.Warn("shutdown during restart; the new binary starts on the next service start")
		return
	case <-time.After(settle):
	}
	os.Exit(ExitCodeRestart)
}

// RestartSelf starts the new binary with the same arguments and exits
func RestartSelf(logger *slog.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	logger.Info("restarting application", "exe", exe)

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout, cmd.Stderr, cmd.Stdin = os.Stdout, os.Stderr, os.Stdin
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to restart: %w", err)
	}

	os.Exit(0)
	return nil
}
