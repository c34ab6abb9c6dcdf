/*
Package storage persists the agent's state records in a single BoltDB file.

Three records describe what is on the host, and one describes the most
recent cycle. Relation payloads are kept verbatim so a later cycle can
re-parse them.

# Layout

	promagent.db
	├── state
	│   ├── installed      InstalledState (JSON)
	│   ├── service        ServiceState (JSON)
	│   ├── last_applied   LastAppliedState (JSON)
	│   └── cycle_status   CycleStatus (JSON)
	└── relations
	    ├── "1"            raw payload of relation 1
	    └── "7"            raw payload of relation 7

A missing key reads as the zero value of its record, so a fresh host looks
like "nothing installed, nothing applied".

# Ownership

Each record has a single writer:

  - InstalledState: the install manager, after the binary is renamed into place
  - ServiceState: the service controller, after a successful apply or stop
  - LastAppliedState: the reconciler, after the whole cycle succeeded
  - CycleStatus: the reconciler, at the end of every cycle

Every Save is its own bbolt transaction. Callers order their writes so that
a crash between two of them leaves a record that understates progress, never
one that overstates it.

# Locking

bbolt takes an exclusive file lock. A second process opening the same data
directory waits up to five seconds and then fails, which keeps two agents
from running cycles against the same host at once.

# Usage

	store, err := storage.NewBoltStore("/var/lib/promagent")
	if err != nil {
		return err
	}
	defer store.Close()

	installed, err := store.GetInstalledState()
	if err != nil {
		return err
	}
	if installed.InstalledVersion == "" {
		// nothing installed yet
	}

	if err := store.PutRelation(3, payload); err != nil {
		return err
	}
*/
package storage
