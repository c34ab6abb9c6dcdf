package types

import (
	"fmt"
	"time"
)

// LogLevel is the daemon's --log.level value
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Valid reports whether l is one of the levels the daemon accepts
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// Settings is the operator-supplied snapshot used for one reconciliation cycle.
// Durations are kept in Prometheus notation ("15s", "1m", "15d") so they render
// back byte-for-byte.
type Settings struct {
	Version            string   `yaml:"version" json:"version"`
	ListenAddress      string   `yaml:"listen-address" json:"listen_address"`
	RetentionTime      string   `yaml:"retention-time" json:"retention_time"`
	RetentionSize      string   `yaml:"retention-size" json:"retention_size"`
	ExternalURL        string   `yaml:"external-url" json:"external_url"`
	LogLevel           LogLevel `yaml:"log-level" json:"log_level"`
	AdminAPIEnabled    bool     `yaml:"enable-admin-api" json:"admin_api_enabled"`
	ScrapeInterval     string   `yaml:"scrape-interval" json:"scrape_interval"`
	ScrapeTimeout      string   `yaml:"scrape-timeout" json:"scrape_timeout"`
	EvaluationInterval string   `yaml:"evaluation-interval" json:"evaluation_interval"`
}

// DefaultSettings returns the settings used when the operator leaves a field unset
func DefaultSettings() Settings {
	return Settings{
		Version:            "2.53.0",
		ListenAddress:      "0.0.0.0:9090",
		RetentionTime:      "15d",
		RetentionSize:      "0",
		LogLevel:           LogLevelInfo,
		ScrapeInterval:     "1m",
		ScrapeTimeout:      "10s",
		EvaluationInterval: "1m",
	}
}

// WithDefaults fills every empty field of s from DefaultSettings
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.Version == "" {
		s.Version = d.Version
	}
	if s.ListenAddress == "" {
		s.ListenAddress = d.ListenAddress
	}
	if s.RetentionTime == "" {
		s.RetentionTime = d.RetentionTime
	}
	if s.RetentionSize == "" {
		s.RetentionSize = d.RetentionSize
	}
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
	if s.ScrapeInterval == "" {
		s.ScrapeInterval = d.ScrapeInterval
	}
	if s.ScrapeTimeout == "" {
		s.ScrapeTimeout = d.ScrapeTimeout
	}
	if s.EvaluationInterval == "" {
		s.EvaluationInterval = d.EvaluationInterval
	}
	return s
}

// DefaultMetricsPath is used when a peer does not declare one
const DefaultMetricsPath = "/metrics"

// TargetGroup is one static_configs entry: addresses sharing a label set
type TargetGroup struct {
	Addresses []string          `json:"targets" yaml:"targets"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// RelabelRule is one relabel_configs or metric_relabel_configs entry. Values
// are strings, ints or string slices once the relation boundary has
// validated them.
type RelabelRule map[string]any

// Clone returns a deep copy of the rule
func (r RelabelRule) Clone() RelabelRule {
	if r == nil {
		return nil
	}
	c := make(RelabelRule, len(r))
	for k, v := range r {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		c[k] = v
	}
	return c
}

// ScrapeTarget is one job contributed by a related peer
type ScrapeTarget struct {
	JobName              string        `json:"job_name" yaml:"job_name"`
	MetricsPath          string        `json:"metrics_path,omitempty" yaml:"metrics_path,omitempty"`
	Groups               []TargetGroup `json:"static_configs" yaml:"static_configs"`
	RelabelConfigs       []RelabelRule `json:"relabel_configs,omitempty" yaml:"relabel_configs,omitempty"`
	MetricRelabelConfigs []RelabelRule `json:"metric_relabel_configs,omitempty" yaml:"metric_relabel_configs,omitempty"`
}

// Addresses returns every address of every group, in group order
func (t ScrapeTarget) Addresses() []string {
	var out []string
	for _, g := range t.Groups {
		out = append(out, g.Addresses...)
	}
	return out
}

// Clone returns a deep copy of the target
func (t ScrapeTarget) Clone() ScrapeTarget {
	c := ScrapeTarget{
		JobName:              t.JobName,
		MetricsPath:          t.MetricsPath,
		RelabelConfigs:       cloneRules(t.RelabelConfigs),
		MetricRelabelConfigs: cloneRules(t.MetricRelabelConfigs),
	}
	if t.Groups != nil {
		c.Groups = make([]TargetGroup, len(t.Groups))
		for i, g := range t.Groups {
			c.Groups[i].Addresses = append([]string(nil), g.Addresses...)
			if g.Labels != nil {
				c.Groups[i].Labels = make(map[string]string, len(g.Labels))
				for k, v := range g.Labels {
					c.Groups[i].Labels[k] = v
				}
			}
		}
	}
	return c
}

func cloneRules(rules []RelabelRule) []RelabelRule {
	if rules == nil {
		return nil
	}
	out := make([]RelabelRule, len(rules))
	for i, r := range rules {
		out[i] = r.Clone()
	}
	return out
}

// TargetKey identifies a ScrapeTarget across relations
type TargetKey struct {
	RelationID int
	JobName    string
}

func (k TargetKey) String() string {
	return fmt.Sprintf("%d/%s", k.RelationID, k.JobName)
}

// Less orders keys by job name, then relation ID
func (k TargetKey) Less(o TargetKey) bool {
	if k.JobName != o.JobName {
		return k.JobName < o.JobName
	}
	return k.RelationID < o.RelationID
}

// InstalledState records the binary currently on disk. Only the install
// manager writes it, and only after the binary was renamed into place.
type InstalledState struct {
	InstalledVersion string    `json:"installed_version" yaml:"installed_version"`
	BinaryPath       string    `json:"binary_path" yaml:"binary_path"`
	ChecksumVerified bool      `json:"checksum_verified" yaml:"checksum_verified"`
	Checksum         string    `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	InstalledAt      time.Time `json:"installed_at,omitempty" yaml:"installed_at,omitempty"`
}

// ServiceState records what the supervised daemon was last started with
type ServiceState struct {
	Running                  bool   `json:"running" yaml:"running"`
	AppliedConfigFingerprint string `json:"applied_config_fingerprint" yaml:"applied_config_fingerprint"`
}

// LastAppliedState is the reconciler's commit record
type LastAppliedState struct {
	InstalledVersion         string    `json:"installed_version" yaml:"installed_version"`
	AppliedConfigFingerprint string    `json:"applied_config_fingerprint" yaml:"applied_config_fingerprint"`
	AppliedAt                time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
}

// CycleStatus is the outcome of the most recent reconciliation cycle
type CycleStatus struct {
	CycleID    string    `json:"cycle_id" yaml:"cycle_id"`
	Event      string    `json:"event" yaml:"event"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Actions    []string  `json:"actions,omitempty" yaml:"actions,omitempty"`
	LastError  string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}
