/*
Package events carries triggering events to the reconcile loop.

An event is one of the hook names the agent reacts to:

	install  config-changed  start  stop  update-status
	relation-changed  relation-departed  relation-broken

Relation events carry the relation ID and, for relation-changed, the raw
payload the peer published.

In `promagent run` the file watchers publish to a Broker and the reconciler's
Loop is its only subscriber:

	watcher ──► Publish ──► eventCh (100) ──► broadcast ──► Subscriber (50) ──► Loop

Unlike a notification bus, broadcast blocks on a full subscriber rather than
dropping the event, since every event may change the desired state. Cycles
stay serial because the Loop handles one event at a time.
*/
package events
