// Package service owns the daemon's live configuration file, its systemd
// unit and its run state.
//
// Controller.Apply replaces the files atomically, then starts a stopped
// daemon or restarts a running one whose applied fingerprint differs. If the
// supervisor action fails the previous files are written back so the live
// config keeps matching what the daemon last loaded. Crash restarts are left
// to systemd (Restart=on-failure in the unit).
package service
