/*
Package types defines the data model shared by every promagent component.

Settings is the operator's desired configuration for one reconciliation
cycle. ScrapeTarget values come from related peers and are keyed by
TargetKey, the pair of relation ID and job name.

Three records are persisted between cycles, each owned by one component:

	InstalledState    written by pkg/install after a binary rename succeeds
	ServiceState      written by pkg/service after a start or restart succeeds
	LastAppliedState  written by pkg/reconciler after a whole cycle succeeds

The records are plain structs so tests can construct them directly without a
running daemon or store.
*/
package types
