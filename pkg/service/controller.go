package service

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	agenterrors "github.com/cuemby/promagent/pkg/errors"
	"github.com/cuemby/promagent/pkg/log"
	"github.com/cuemby/promagent/pkg/render"
	"github.com/cuemby/promagent/pkg/types"
	"github.com/rs/zerolog"
)

// StateStore persists ServiceState
type StateStore interface {
	GetServiceState() (types.ServiceState, error)
	SaveServiceState(state types.ServiceState) error
}

// Config locates the artifacts the controller owns
type Config struct {
	ConfigFile string
	UnitFile   string
	UnitName   string
	DataDir    string

	// User and Group own DataDir when the agent runs as root
	User  string
	Group string
}

// DefaultConfig returns the standard systemd layout for paths
func DefaultConfig(paths render.Paths) Config {
	return Config{
		ConfigFile: paths.ConfigFile,
		UnitFile:   "/etc/systemd/system/prometheus.service",
		UnitName:   "prometheus.service",
		DataDir:    paths.DataDir,
		User:       paths.User,
		Group:      paths.Group,
	}
}

// Action is a side effect performed by Apply or Stop
type Action string

const (
	ActionWriteConfig  Action = "write-config"
	ActionWriteUnit    Action = "write-unit"
	ActionDaemonReload Action = "daemon-reload"
	ActionStart        Action = "start"
	ActionRestart      Action = "restart"
	ActionStop         Action = "stop"
)

// ApplyOptions adjust a single Apply
type ApplyOptions struct {
	// BinaryChanged forces a restart of a running daemon even when the
	// fingerprint is unchanged, so a new executable is picked up
	BinaryChanged bool
}

// Controller is the only writer of the live configuration file, the unit
// file and the daemon's run state
type Controller struct {
	cfg        Config
	supervisor Supervisor
	checker    ConfigChecker
	store      StateStore
	logger     zerolog.Logger
}

// NewController creates a service controller. checker may be nil.
func NewController(cfg Config, supervisor Supervisor, checker ConfigChecker, store StateStore) *Controller {
	return &Controller{
		cfg:        cfg,
		supervisor: supervisor,
		checker:    checker,
		store:      store,
		logger:     log.WithComponent("service"),
	}
}

// Apply makes the daemon run rendered. The config and unit are replaced
// atomically; the daemon is started if stopped and restarted if its applied
// fingerprint differs. When the supervisor action fails the previous files
// are put back, so the live config always matches what the daemon last
// loaded successfully. ServiceState is saved only on success.
func (c *Controller) Apply(ctx context.Context, rendered *render.RenderedConfig, opts ApplyOptions) ([]Action, error) {
	var actions []Action

	state, err := c.store.GetServiceState()
	if err != nil {
		return nil, agenterrors.New(agenterrors.StateFailed, "load service state", err)
	}

	if err := c.ensureDirs(); err != nil {
		return nil, agenterrors.New(agenterrors.ApplyFailed, "prepare directories", err)
	}

	running, err := c.supervisor.IsRunning(ctx, c.cfg.UnitName)
	if err != nil {
		return nil, agenterrors.New(agenterrors.ApplyFailed, "query service", err)
	}

	prevConfig, err := snapshot(c.cfg.ConfigFile)
	if err != nil {
		return nil, agenterrors.New(agenterrors.ApplyFailed, "read config", err)
	}
	prevUnit, err := snapshot(c.cfg.UnitFile)
	if err != nil {
		return nil, agenterrors.New(agenterrors.ApplyFailed, "read unit", err)
	}

	configChanged := !prevConfig.unchanged(rendered.Document)
	unitChanged := !prevUnit.unchanged(rendered.Unit)

	rollback := func(cause error) error {
		if configChanged {
			if err := prevConfig.restore(0644); err != nil {
				c.logger.Error().Err(err).Str("path", c.cfg.ConfigFile).Msg("Failed to restore previous config")
			}
		}
		if unitChanged {
			if err := prevUnit.restore(0644); err != nil {
				c.logger.Error().Err(err).Str("path", c.cfg.UnitFile).Msg("Failed to restore previous unit")
			} else if err := c.supervisor.DaemonReload(ctx); err != nil {
				c.logger.Error().Err(err).Msg("Failed to reload unit files after restore")
			}
		}
		return cause
	}

	if configChanged {
		if err := c.writeConfig(ctx, rendered.Document); err != nil {
			return actions, agenterrors.New(agenterrors.ApplyFailed, "write config", err)
		}
		actions = append(actions, ActionWriteConfig)
	}

	if unitChanged {
		if err := writeFileAtomic(c.cfg.UnitFile, rendered.Unit, 0644); err != nil {
			return actions, rollback(agenterrors.New(agenterrors.ApplyFailed, "write unit", err))
		}
		actions = append(actions, ActionWriteUnit)
		if err := c.supervisor.DaemonReload(ctx); err != nil {
			return actions, rollback(agenterrors.New(agenterrors.ApplyFailed, "daemon-reload", err))
		}
		actions = append(actions, ActionDaemonReload)
	}

	switch {
	case !running:
		if err := c.supervisor.Enable(ctx, c.cfg.UnitName); err != nil {
			return actions, rollback(agenterrors.New(agenterrors.ApplyFailed, "enable service", err))
		}
		if err := c.supervisor.Start(ctx, c.cfg.UnitName); err != nil {
			return actions, rollback(agenterrors.New(agenterrors.ApplyFailed, "start service", err))
		}
		actions = append(actions, ActionStart)
		c.logger.Info().Str("fingerprint", short(rendered.Fingerprint)).Msg("Service started")

	case state.AppliedConfigFingerprint != rendered.Fingerprint || unitChanged || opts.BinaryChanged:
		if err := c.supervisor.Restart(ctx, c.cfg.UnitName); err != nil {
			return actions, rollback(agenterrors.New(agenterrors.ApplyFailed, "restart service", err))
		}
		actions = append(actions, ActionRestart)
		c.logger.Info().
			Str("from", short(state.AppliedConfigFingerprint)).
			Str("to", short(rendered.Fingerprint)).
			Bool("binary_changed", opts.BinaryChanged).
			Msg("Service restarted")
	}

	next := types.ServiceState{Running: true, AppliedConfigFingerprint: rendered.Fingerprint}
	if next != state {
		if err := c.store.SaveServiceState(next); err != nil {
			return actions, agenterrors.New(agenterrors.StateFailed, "save service state", err)
		}
	}
	return actions, nil
}

// writeConfig stages the document, runs the checker against the staged file
// and only then renames it over the live path
func (c *Controller) writeConfig(ctx context.Context, document []byte) error {
	staged, err := stageFile(c.cfg.ConfigFile, document, 0644)
	if err != nil {
		return err
	}
	if c.checker != nil {
		if err := c.checker.CheckConfig(ctx, staged); err != nil {
			os.Remove(staged)
			return err
		}
	}
	return commitFile(staged, c.cfg.ConfigFile)
}

// Status reports whether the daemon runs and what it was last started with
func (c *Controller) Status(ctx context.Context) (types.ServiceState, error) {
	state, err := c.store.GetServiceState()
	if err != nil {
		return state, agenterrors.New(agenterrors.StateFailed, "load service state", err)
	}
	running, err := c.supervisor.IsRunning(ctx, c.cfg.UnitName)
	if err != nil {
		return state, agenterrors.New(agenterrors.ApplyFailed, "query service", err)
	}
	state.Running = running
	return state, nil
}

// Stop stops the daemon. The applied fingerprint is kept so a later start of
// the same configuration is recognized.
func (c *Controller) Stop(ctx context.Context) ([]Action, error) {
	state, err := c.store.GetServiceState()
	if err != nil {
		return nil, agenterrors.New(agenterrors.StateFailed, "load service state", err)
	}
	running, err := c.supervisor.IsRunning(ctx, c.cfg.UnitName)
	if err != nil {
		return nil, agenterrors.New(agenterrors.ApplyFailed, "query service", err)
	}

	var actions []Action
	if running {
		if err := c.supervisor.Stop(ctx, c.cfg.UnitName); err != nil {
			return nil, agenterrors.New(agenterrors.ApplyFailed, "stop service", err)
		}
		actions = append(actions, ActionStop)
		c.logger.Info().Msg("Service stopped")
	}

	if state.Running {
		state.Running = false
		if err := c.store.SaveServiceState(state); err != nil {
			return actions, agenterrors.New(agenterrors.StateFailed, "save service state", err)
		}
	}
	return actions, nil
}

func (c *Controller) ensureDirs() error {
	if err := os.MkdirAll(filepath.Dir(c.cfg.ConfigFile), 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.UnitFile), 0755); err != nil {
		return err
	}
	if c.cfg.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cfg.DataDir, 0755); err != nil {
		return err
	}
	if c.cfg.User == "" || os.Geteuid() != 0 {
		return nil
	}
	return chown(c.cfg.DataDir, c.cfg.User, c.cfg.Group)
}

func chown(path, userName, groupName string) error {
	u, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("lookup user %q: %w", userName, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parse uid of %q: %w", userName, err)
	}

	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("parse gid of %q: %w", userName, err)
	}
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return fmt.Errorf("parse gid of %q: %w", groupName, err)
		}
	}
	return os.Chown(path, uid, gid)
}

func snapshot(path string) (fileSnapshot, error) {
	data, existed, err := readExisting(path)
	return fileSnapshot{path: path, data: data, existed: existed}, err
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
