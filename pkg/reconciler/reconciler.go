package reconciler

import (
	"context"
	"fmt"
	"time"

	agenterrors "github.com/cuemby/promagent/pkg/errors"
	"github.com/cuemby/promagent/pkg/events"
	"github.com/cuemby/promagent/pkg/log"
	"github.com/cuemby/promagent/pkg/metrics"
	"github.com/cuemby/promagent/pkg/relation"
	"github.com/cuemby/promagent/pkg/render"
	"github.com/cuemby/promagent/pkg/service"
	"github.com/cuemby/promagent/pkg/targets"
	"github.com/cuemby/promagent/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persisted state the reconciler reads and commits
type Store interface {
	GetInstalledState() (types.InstalledState, error)
	GetLastApplied() (types.LastAppliedState, error)
	SaveLastApplied(state types.LastAppliedState) error
	GetCycleStatus() (types.CycleStatus, error)
	SaveCycleStatus(status types.CycleStatus) error
	PutRelation(relationID int, payload []byte) error
	DeleteRelation(relationID int) error
	ListRelations() (map[int][]byte, error)
}

// Installer ensures the daemon binary is at a version
type Installer interface {
	EnsureVersion(ctx context.Context, version string) (types.InstalledState, bool, error)
}

// Service drives the daemon's config and run state
type Service interface {
	Apply(ctx context.Context, rendered *render.RenderedConfig, opts service.ApplyOptions) ([]service.Action, error)
	Status(ctx context.Context) (types.ServiceState, error)
	Stop(ctx context.Context) ([]service.Action, error)
}

// TargetCounter reports how many targets the daemon is actively scraping
type TargetCounter interface {
	ActiveTargets(ctx context.Context) (int, error)
}

// SettingsFunc returns the operator settings for a cycle. It is called once
// per cycle so edits are picked up without a restart.
type SettingsFunc func() (types.Settings, error)

// Config wires a Reconciler
type Config struct {
	Renderer  *render.Renderer
	Store     Store
	Installer Installer
	Service   Service
	Settings  SettingsFunc

	// Counter is optional; without it update-status reports no target count
	Counter TargetCounter

	// AdvertiseHost overrides the host published in Endpoint
	AdvertiseHost string
}

// Result describes one cycle
type Result struct {
	CycleID          string
	Event            events.EventType
	Actions          []string
	Fingerprint      string
	InstalledVersion string

	// Rejected lists relation entries that were skipped as malformed
	Rejected []error

	// ActiveTargets is filled by update-status when a counter is configured
	ActiveTargets int
}

// Reconciler converges the daemon with the desired state, one event at a
// time
type Reconciler struct {
	renderer      *render.Renderer
	store         Store
	installer     Installer
	service       Service
	settings      SettingsFunc
	counter       TargetCounter
	advertiseHost string
	logger        zerolog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(cfg Config) *Reconciler {
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = render.NewRenderer(render.DefaultPaths())
	}
	return &Reconciler{
		renderer:      renderer,
		store:         cfg.Store,
		installer:     cfg.Installer,
		service:       cfg.Service,
		settings:      cfg.Settings,
		counter:       cfg.Counter,
		advertiseHost: cfg.AdvertiseHost,
		logger:        log.WithComponent("reconciler"),
	}
}

// Reconcile runs one cycle for ev. Relation events first update the stored
// relation payloads; every converging event then runs the same algorithm.
// On error, InstalledState, ServiceState and LastAppliedState are exactly as
// they were before the cycle; only the cycle status is recorded.
func (r *Reconciler) Reconcile(ctx context.Context, ev *events.Event) (*Result, error) {
	res := &Result{CycleID: uuid.NewString(), Event: ev.Type}
	logger := log.WithCycle(r.logger, res.CycleID).With().Str("event", string(ev.Type)).Logger()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CycleDuration, string(ev.Type))

	logger.Debug().Msg("Cycle started")

	var err error
	switch {
	case ev.Type == events.EventStop:
		err = r.stop(ctx, res)
	case ev.Type == events.EventUpdateStatus:
		err = r.updateStatus(ctx, res, logger)
	default:
		if err = r.refreshRelation(ev, res); err == nil {
			err = r.converge(ctx, res, logger)
		}
	}

	r.record(res, err, logger)
	return res, err
}

// refreshRelation applies a relation event to the stored payloads
func (r *Reconciler) refreshRelation(ev *events.Event, res *Result) error {
	switch ev.Type {
	case events.EventRelationChanged:
		if err := r.store.PutRelation(ev.RelationID, ev.Payload); err != nil {
			return agenterrors.New(agenterrors.StateFailed, "store relation", err)
		}
		res.Actions = append(res.Actions, fmt.Sprintf("store-relation:%d", ev.RelationID))
	case events.EventRelationDeparted, events.EventRelationBroken:
		if err := r.store.DeleteRelation(ev.RelationID); err != nil {
			return agenterrors.New(agenterrors.StateFailed, "delete relation", err)
		}
		res.Actions = append(res.Actions, fmt.Sprintf("delete-relation:%d", ev.RelationID))
	}
	return nil
}

// desired computes the rendered config for the current inputs
func (r *Reconciler) desired(res *Result, logger zerolog.Logger) (types.Settings, *render.RenderedConfig, int, error) {
	settings, err := r.settings()
	if err != nil {
		return settings, nil, 0, agenterrors.New(agenterrors.InvalidSettings, "load settings", err)
	}
	settings = settings.WithDefaults()

	payloads, err := r.store.ListRelations()
	if err != nil {
		return settings, nil, 0, agenterrors.New(agenterrors.StateFailed, "list relations", err)
	}

	parsed := make(map[int][]types.ScrapeTarget, len(payloads))
	for _, id := range relation.SortedRelationIDs(payloads) {
		list, rejected, err := relation.Parse(payloads[id])
		relLogger := log.WithRelation(logger, id)
		if err != nil {
			relLogger.Warn().Err(err).Msg("Ignoring unreadable relation payload")
			res.Rejected = append(res.Rejected, fmt.Errorf("relation %d: %w", id, err))
			continue
		}
		for _, rej := range rejected {
			relLogger.Warn().Err(rej).Msg("Skipping malformed scrape job")
			res.Rejected = append(res.Rejected, fmt.Errorf("relation %d: %w", id, rej))
		}
		parsed[id] = list
	}

	registry := targets.FromRelations(parsed)
	rendered, err := r.renderer.Render(settings, registry.Snapshot())
	if err != nil {
		return settings, nil, 0, err
	}
	return settings, rendered, registry.Len(), nil
}

func (r *Reconciler) converge(ctx context.Context, res *Result, logger zerolog.Logger) error {
	// Render first: invalid settings must abort before any side effect
	settings, rendered, jobs, err := r.desired(res, logger)
	if err != nil {
		return err
	}
	res.Fingerprint = rendered.Fingerprint

	installed, binaryChanged, err := r.installer.EnsureVersion(ctx, settings.Version)
	if err != nil {
		return err
	}
	res.InstalledVersion = installed.InstalledVersion
	if binaryChanged {
		res.Actions = append(res.Actions, "install:"+installed.InstalledVersion)
		metrics.ActionsTotal.WithLabelValues("install").Inc()
	}
	metrics.SetInstalledVersion(installed.InstalledVersion)

	last, err := r.store.GetLastApplied()
	if err != nil {
		return agenterrors.New(agenterrors.StateFailed, "load last applied", err)
	}
	svc, err := r.service.Status(ctx)
	if err != nil {
		return err
	}

	versionChanged := binaryChanged || last.InstalledVersion != installed.InstalledVersion
	if rendered.Fingerprint == last.AppliedConfigFingerprint && svc.Running && !versionChanged {
		logger.Debug().Str("fingerprint", rendered.Fingerprint).Msg("Already converged")
		metrics.ScrapeJobs.Set(float64(jobs))
		return nil
	}

	actions, err := r.service.Apply(ctx, rendered, service.ApplyOptions{BinaryChanged: versionChanged})
	for _, a := range actions {
		res.Actions = append(res.Actions, string(a))
		metrics.ActionsTotal.WithLabelValues(string(a)).Inc()
	}
	if err != nil {
		return err
	}

	commit := types.LastAppliedState{
		InstalledVersion:         installed.InstalledVersion,
		AppliedConfigFingerprint: rendered.Fingerprint,
		AppliedAt:                time.Now().UTC(),
	}
	if err := r.store.SaveLastApplied(commit); err != nil {
		return agenterrors.New(agenterrors.StateFailed, "commit last applied", err)
	}

	metrics.ScrapeJobs.Set(float64(jobs))
	logger.Info().
		Str("version", commit.InstalledVersion).
		Str("fingerprint", commit.AppliedConfigFingerprint).
		Int("jobs", jobs).
		Strs("actions", res.Actions).
		Msg("Converged")
	return nil
}

func (r *Reconciler) stop(ctx context.Context, res *Result) error {
	actions, err := r.service.Stop(ctx)
	for _, a := range actions {
		res.Actions = append(res.Actions, string(a))
		metrics.ActionsTotal.WithLabelValues(string(a)).Inc()
	}
	return err
}

func (r *Reconciler) updateStatus(ctx context.Context, res *Result, logger zerolog.Logger) error {
	svc, err := r.service.Status(ctx)
	if err != nil {
		return err
	}
	if !svc.Running || r.counter == nil {
		return nil
	}

	n, err := r.counter.ActiveTargets(ctx)
	if err != nil {
		// The daemon may still be loading; this is not a cycle failure
		logger.Debug().Err(err).Msg("Could not count active targets")
		return nil
	}
	res.ActiveTargets = n
	metrics.ActiveTargets.Set(float64(n))
	return nil
}

// record persists the cycle outcome and updates metrics. A failure to save
// the status is logged; it does not change the cycle result.
func (r *Reconciler) record(res *Result, cycleErr error, logger zerolog.Logger) {
	status := types.CycleStatus{
		CycleID:    res.CycleID,
		Event:      string(res.Event),
		FinishedAt: time.Now().UTC(),
		Actions:    res.Actions,
	}

	result := "success"
	if cycleErr != nil {
		result = "error"
		kind := agenterrors.KindOf(cycleErr)
		status.LastError = cycleErr.Error()
		status.ErrorKind = string(kind)

		kindLabel := string(kind)
		if kindLabel == "" {
			kindLabel = "unclassified"
		}
		metrics.ErrorsTotal.WithLabelValues(kindLabel).Inc()
		metrics.Converged.Set(0)
		metrics.UpdateComponent(metrics.ComponentReconciler, false, status.LastError)

		logger.Error().
			Err(cycleErr).
			Str("kind", kindLabel).
			Bool("retryable", kind.Retryable()).
			Strs("actions", res.Actions).
			Msg("Cycle aborted")
	} else {
		if res.Event.Converges() {
			metrics.Converged.Set(1)
		}
		metrics.UpdateComponent(metrics.ComponentReconciler, true, "")
	}
	metrics.CyclesTotal.WithLabelValues(string(res.Event), result).Inc()

	if err := r.store.SaveCycleStatus(status); err != nil {
		logger.Warn().Err(err).Msg("Failed to record cycle status")
	}
}
