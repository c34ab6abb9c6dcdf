package storage

import (
	"github.com/cuemby/promagent/pkg/types"
)

// Store defines the persisted state of the agent. Each record has a single
// owner; the store only guarantees that a save is atomic and durable.
type Store interface {
	// Installed binary (owned by pkg/install)
	GetInstalledState() (types.InstalledState, error)
	SaveInstalledState(state types.InstalledState) error

	// Service run state (owned by pkg/service)
	GetServiceState() (types.ServiceState, error)
	SaveServiceState(state types.ServiceState) error

	// Commit record (owned by pkg/reconciler)
	GetLastApplied() (types.LastAppliedState, error)
	SaveLastApplied(state types.LastAppliedState) error

	// Outcome of the most recent cycle
	GetCycleStatus() (types.CycleStatus, error)
	SaveCycleStatus(status types.CycleStatus) error

	// Raw relation payloads, the source of truth for scrape targets
	PutRelation(relationID int, payload []byte) error
	DeleteRelation(relationID int) error
	ListRelations() (map[int][]byte, error)

	// Utility
	Close() error
}
