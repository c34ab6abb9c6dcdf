package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"

	"github.com/cuemby/promagent/pkg/render"
	"github.com/cuemby/promagent/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the agent looks for its configuration file
const DefaultPath = "/etc/promagent/promagent.yaml"

// Config is the agent configuration. Settings is the operator-facing block
// that drives convergence; everything else locates files and servers.
type Config struct {
	// StateDir holds the agent's bbolt state file
	StateDir string `yaml:"state-dir"`

	// BinDir receives the prometheus and promtool executables
	BinDir string `yaml:"bin-dir"`

	// ConfigFile is the daemon's live configuration document
	ConfigFile string `yaml:"config-file"`

	// UnitFile and UnitName locate the systemd unit
	UnitFile string `yaml:"unit-file"`
	UnitName string `yaml:"unit-name"`

	// DataDir is the daemon's TSDB directory
	DataDir string `yaml:"data-dir"`

	// User and Group run the daemon and own DataDir
	User  string `yaml:"user"`
	Group string `yaml:"group"`

	// ReleaseURL is the release download root
	ReleaseURL string `yaml:"release-url"`

	// CheckConfig runs promtool against every document before it goes live
	CheckConfig bool `yaml:"check-config"`

	// RelationsDir is watched by `promagent run`; each <id>.yaml file is
	// one relation's payload
	RelationsDir string `yaml:"relations-dir"`

	// APIAddress serves /health, /ready, /status and /metrics
	APIAddress string `yaml:"api-address"`

	// APIRateLimit is the per-client request rate on APIAddress; 0 disables it
	APIRateLimit float64 `yaml:"api-rate-limit"`

	// GRPCAddress serves grpc.health.v1; empty disables it
	GRPCAddress string `yaml:"grpc-address"`

	// AdvertiseHost is published to peers in the daemon endpoint. Empty
	// means the listen host, or the machine hostname for a wildcard listen.
	AdvertiseHost string `yaml:"advertise-host"`

	Log LogConfig `yaml:"log"`

	Settings types.Settings `yaml:"settings"`
}

// LogConfig configures the agent's own logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	paths := render.DefaultPaths()
	return &Config{
		StateDir:     "/var/lib/promagent",
		BinDir:       filepath.Dir(paths.BinaryPath),
		ConfigFile:   paths.ConfigFile,
		UnitFile:     "/etc/systemd/system/prometheus.service",
		UnitName:     "prometheus.service",
		DataDir:      paths.DataDir,
		User:         paths.User,
		Group:        paths.Group,
		CheckConfig:  true,
		RelationsDir: "/etc/promagent/relations.d",
		APIAddress:   "127.0.0.1:9465",
		APIRateLimit: 10,
		GRPCAddress:  "127.0.0.1:9466",
		Log: LogConfig{
			Level: "info",
		},
		Settings: types.DefaultSettings(),
	}
}

// Load reads path over Default. A missing file yields the defaults. The unit
// name follows the unit file unless set explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.UnitName = ""

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.StateDir == "" {
		c.StateDir = d.StateDir
	}
	if c.BinDir == "" {
		c.BinDir = d.BinDir
	}
	if c.ConfigFile == "" {
		c.ConfigFile = d.ConfigFile
	}
	if c.UnitFile == "" {
		c.UnitFile = d.UnitFile
	}
	if c.UnitName == "" {
		c.UnitName = filepath.Base(c.UnitFile)
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.User == "" {
		c.User = d.User
	}
	if c.Group == "" {
		c.Group = d.Group
	}
	if c.RelationsDir == "" {
		c.RelationsDir = d.RelationsDir
	}
	if c.APIAddress == "" {
		c.APIAddress = d.APIAddress
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	c.Settings = c.Settings.WithDefaults()
}

// Validate checks the agent fields. Settings are validated by the renderer
// each cycle so that a bad operator value fails the cycle, not startup.
func (c *Config) Validate() error {
	for name, p := range map[string]string{
		"state-dir":   c.StateDir,
		"bin-dir":     c.BinDir,
		"config-file": c.ConfigFile,
		"unit-file":   c.UnitFile,
		"data-dir":    c.DataDir,
	} {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%s must be an absolute path, got %q", name, p)
		}
	}
	if _, _, err := net.SplitHostPort(c.APIAddress); err != nil {
		return fmt.Errorf("invalid api-address %q: %w", c.APIAddress, err)
	}
	if c.GRPCAddress != "" {
		if _, _, err := net.SplitHostPort(c.GRPCAddress); err != nil {
			return fmt.Errorf("invalid grpc-address %q: %w", c.GRPCAddress, err)
		}
	}
	return nil
}

// RenderPaths returns the host paths baked into rendered artifacts
func (c *Config) RenderPaths() render.Paths {
	return render.Paths{
		BinaryPath: filepath.Join(c.BinDir, "prometheus"),
		ConfigFile: c.ConfigFile,
		DataDir:    c.DataDir,
		User:       c.User,
		Group:      c.Group,
	}
}

// PromtoolPath is the promtool executable installed next to the daemon
func (c *Config) PromtoolPath() string {
	return filepath.Join(c.BinDir, "promtool")
}
