package main

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/cuemby/promagent/pkg/config"
	"github.com/cuemby/promagent/pkg/health"
	"github.com/cuemby/promagent/pkg/install"
	"github.com/cuemby/promagent/pkg/log"
	"github.com/cuemby/promagent/pkg/metrics"
	"github.com/cuemby/promagent/pkg/reconciler"
	"github.com/cuemby/promagent/pkg/render"
	"github.com/cuemby/promagent/pkg/service"
	"github.com/cuemby/promagent/pkg/storage"
	"github.com/cuemby/promagent/pkg/types"
)

// agent holds the components of one promagent process
type agent struct {
	store      *storage.BoltStore
	installer  *install.Manager
	controller *service.Controller
	probe      *health.TargetsProbe
	reconciler *reconciler.Reconciler
	daemonURL  string
}

// newAgent opens the state store and wires the reconciler from c. Settings
// are re-read from configPath on every cycle.
func newAgent(c *config.Config) (*agent, error) {
	store, err := storage.NewBoltStore(c.StateDir)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")

	installer := install.NewManager(install.Config{
		BinDir:     c.BinDir,
		StagingDir: c.StateDir,
		Daemon:     "prometheus",
		Extra:      []string{"promtool"},
	}, install.NewHTTPFetcher(c.ReleaseURL), store)

	var checker service.ConfigChecker
	if c.CheckConfig {
		checker = service.NewPromtool(c.PromtoolPath())
	}
	controller := service.NewController(service.Config{
		ConfigFile: c.ConfigFile,
		UnitFile:   c.UnitFile,
		UnitName:   c.UnitName,
		DataDir:    c.DataDir,
		User:       c.User,
		Group:      c.Group,
	}, service.NewSystemd(), checker, store)

	daemonURL := localURL(c.Settings)
	probe, err := health.NewTargetsProbe(daemonURL, render.SelfJobName)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rec := reconciler.NewReconciler(reconciler.Config{
		Renderer:      render.NewRenderer(c.RenderPaths()),
		Store:         store,
		Installer:     installer,
		Service:       controller,
		Settings:      settingsFrom(configPath),
		Counter:       probe,
		AdvertiseHost: c.AdvertiseHost,
	})

	return &agent{
		store:      store,
		installer:  installer,
		controller: controller,
		probe:      probe,
		reconciler: rec,
		daemonURL:  daemonURL,
	}, nil
}

func (a *agent) Close() error {
	return a.store.Close()
}

// settingsFrom reloads the operator settings from path
func settingsFrom(path string) reconciler.SettingsFunc {
	return func() (types.Settings, error) {
		c, err := config.Load(path)
		if err != nil {
			log.Logger.Warn().Err(err).Str("path", path).Msg("Failed to reload settings")
			return types.Settings{}, err
		}
		return c.Settings, nil
	}
}

// localURL is the daemon's HTTP API as seen from this host. A wildcard
// listen address is reached over loopback, and the route prefix follows the
// external URL path the way the daemon does.
func localURL(s types.Settings) string {
	s = s.WithDefaults()
	host, port, err := net.SplitHostPort(s.ListenAddress)
	if err != nil {
		host, port = "", "9090"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	base := "http://" + net.JoinHostPort(host, port)
	if s.ExternalURL != "" {
		if u, err := url.Parse(s.ExternalURL); err == nil {
			base += strings.TrimSuffix(u.Path, "/")
		}
	}
	return base
}
