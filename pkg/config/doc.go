// Package config loads the agent configuration file and watches files for
// changes.
//
// Load reads YAML, fills every unset field from Default and validates the
// agent paths and addresses. The operator settings block is only defaulted
// here; it is validated by the renderer at the start of each cycle.
//
// Watch and WatchFile use fsnotify on the parent directory so that
// rename-over saves from editors and config management tools are seen, and
// debounce bursts into one callback per file.
package config
