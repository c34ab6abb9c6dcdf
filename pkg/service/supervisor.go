package service

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Supervisor is the OS service manager that owns the daemon process.
// Crash restarts are its job; the controller only drives intentional
// transitions.
type Supervisor interface {
	DaemonReload(ctx context.Context) error
	Enable(ctx context.Context, unit string) error
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	IsRunning(ctx context.Context, unit string) (bool, error)
}

// Systemd drives units through systemctl
type Systemd struct {
	// Path is the systemctl executable (default: "systemctl")
	Path string
}

// NewSystemd creates a systemctl-backed supervisor
func NewSystemd() *Systemd {
	return &Systemd{Path: "systemctl"}
}

func (s *Systemd) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, s.Path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", s.Path, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (s *Systemd) DaemonReload(ctx context.Context) error {
	return s.run(ctx, "daemon-reload")
}

func (s *Systemd) Enable(ctx context.Context, unit string) error {
	return s.run(ctx, "enable", unit)
}

func (s *Systemd) Start(ctx context.Context, unit string) error {
	return s.run(ctx, "start", unit)
}

func (s *Systemd) Stop(ctx context.Context, unit string) error {
	return s.run(ctx, "stop", unit)
}

func (s *Systemd) Restart(ctx context.Context, unit string) error {
	return s.run(ctx, "restart", unit)
}

// IsRunning maps `systemctl is-active` exit status to a bool. A non-zero
// exit means inactive, failed or unknown; only a failure to run systemctl is
// an error.
func (s *Systemd) IsRunning(ctx context.Context, unit string) (bool, error) {
	err := exec.CommandContext(ctx, s.Path, "is-active", "--quiet", unit).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("%s is-active %s: %w", s.Path, unit, err)
}
