/*
Package log provides structured logging for promagent using zerolog.

A single global Logger is configured once by Init from the agent
configuration (level, JSON or console output). Components take a child
logger with WithComponent and tag per-cycle work with WithCycle so every
line of one reconciliation cycle can be grepped by its cycle_id:

	logger := log.WithComponent("reconciler")
	cycleLog := log.WithCycle(logger, cycleID)
	cycleLog.Info().Str("event", "config-changed").Msg("Reconciliation started")

Until Init runs the global Logger discards output, which keeps package tests
quiet without any setup.

Levels follow the daemon's own vocabulary (debug, info, warn, error) so the
same setting names are used for the agent and for the managed daemon.
*/
package log
