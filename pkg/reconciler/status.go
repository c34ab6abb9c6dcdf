package reconciler

import (
	"context"
	"net"
	"os"

	"github.com/cuemby/promagent/pkg/types"
	"github.com/rs/zerolog"
)

// Status is the agent's introspection report
type Status struct {
	InstalledVersion   string                 `json:"installed_version" yaml:"installed_version"`
	Running            bool                   `json:"running" yaml:"running"`
	Applied            types.LastAppliedState `json:"applied" yaml:"applied"`
	DesiredVersion     string                 `json:"desired_version,omitempty" yaml:"desired_version,omitempty"`
	DesiredFingerprint string                 `json:"desired_fingerprint,omitempty" yaml:"desired_fingerprint,omitempty"`
	Converged          bool                   `json:"converged" yaml:"converged"`
	Endpoint           string                 `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	LastCycle          types.CycleStatus      `json:"last_cycle" yaml:"last_cycle"`

	// DesiredError explains why the desired state could not be computed
	DesiredError string `json:"desired_error,omitempty" yaml:"desired_error,omitempty"`
}

// Status reports the converged version and fingerprint, the desired ones,
// and the outcome of the most recent cycle. It performs no actions.
func (r *Reconciler) Status(ctx context.Context) (*Status, error) {
	installed, err := r.store.GetInstalledState()
	if err != nil {
		return nil, err
	}
	applied, err := r.store.GetLastApplied()
	if err != nil {
		return nil, err
	}
	cycle, err := r.store.GetCycleStatus()
	if err != nil {
		return nil, err
	}

	st := &Status{
		InstalledVersion: installed.InstalledVersion,
		Applied:          applied,
		LastCycle:        cycle,
	}

	if svc, err := r.service.Status(ctx); err == nil {
		st.Running = svc.Running
	} else {
		r.logger.Debug().Err(err).Msg("Service status unavailable")
	}

	settings, rendered, _, err := r.desired(&Result{}, zerolog.Nop())
	if err != nil {
		st.DesiredError = err.Error()
		return st, nil
	}
	st.DesiredVersion = settings.Version
	st.DesiredFingerprint = rendered.Fingerprint
	st.Endpoint = r.endpoint(settings)
	st.Converged = st.Running &&
		applied.AppliedConfigFingerprint == rendered.Fingerprint &&
		applied.InstalledVersion == settings.Version &&
		installed.InstalledVersion == settings.Version
	return st, nil
}

// Endpoint returns the URL peers use to reach the daemon, such as a Grafana
// datasource
func (r *Reconciler) Endpoint() (string, error) {
	settings, err := r.settings()
	if err != nil {
		return "", err
	}
	return r.endpoint(settings.WithDefaults()), nil
}

func (r *Reconciler) endpoint(settings types.Settings) string {
	if settings.ExternalURL != "" {
		return settings.ExternalURL
	}
	host, port, err := net.SplitHostPort(settings.ListenAddress)
	if err != nil {
		return ""
	}
	switch {
	case r.advertiseHost != "":
		host = r.advertiseHost
	case host == "" || host == "0.0.0.0" || host == "::":
		if name, err := os.Hostname(); err == nil {
			host = name
		} else {
			host = "localhost"
		}
	}
	return "http://" + net.JoinHostPort(host, port)
}
