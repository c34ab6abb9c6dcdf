/*
Package reconciler converges the local Prometheus daemon with the desired
state, one event at a time.

Desired state is the operator settings plus the scrape jobs contributed by
related peers. Actual state is what the storage package records about the
installed binary, the applied configuration and the daemon.

# Cycle

Every converging event (install, config-changed, start and the relation
events) runs the same algorithm:

	┌──────────────────────────┐
	│ relation event?          │── store or delete the raw payload
	└────────────┬─────────────┘
	             ▼
	┌──────────────────────────┐
	│ load settings            │
	│ parse relation payloads  │── malformed jobs are skipped and reported
	│ render + validate        │── invalid settings abort, nothing touched
	└────────────┬─────────────┘
	             ▼
	┌──────────────────────────┐
	│ EnsureVersion            │── download, verify, swap binary if needed
	└────────────┬─────────────┘
	             ▼
	┌──────────────────────────┐
	│ fingerprint == applied?  │── yes, running, same binary: done
	│ Apply                    │── write changed files, start or restart
	└────────────┬─────────────┘
	             ▼
	     commit LastAppliedState

stop only stops the daemon. update-status never converges; it counts the
targets the daemon is actively scraping.

# Failure

A cycle that fails leaves InstalledState, ServiceState and LastAppliedState
as they were. The error carries a kind from the errors package and is
recorded in CycleStatus. There is no internal retry: the next event starts
again from the last commit, which is enough because every step is
idempotent.

# Loop

Loop consumes events from a broker subscription and runs cycles serially:

	broker := events.NewBroker()
	broker.Start()
	sub := broker.Subscribe()

	go rec.Loop(ctx, sub, func(res *reconciler.Result, err error) {
		// observe
	})

	broker.Publish(events.New(events.EventConfigChanged))
*/
package reconciler
