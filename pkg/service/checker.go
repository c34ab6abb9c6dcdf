package service

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ConfigChecker validates a configuration file before it goes live
type ConfigChecker interface {
	CheckConfig(ctx context.Context, path string) error
}

// Promtool runs `promtool check config`
type Promtool struct {
	Path    string
	Timeout time.Duration
}

// NewPromtool creates a checker for the promtool binary at path
func NewPromtool(path string) *Promtool {
	return &Promtool{Path: path, Timeout: 30 * time.Second}
}

func (p *Promtool) CheckConfig(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, p.Path, "check", "config", "--syntax-only", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("promtool rejected configuration: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
