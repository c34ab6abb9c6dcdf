// Package render turns settings and scrape targets into the daemon's
// configuration document and systemd unit.
//
// Rendering is a pure function: identical inputs produce byte-identical
// output. Targets arrive pre-sorted from the registry, label and relabel rule
// keys are sorted by the YAML encoder and nothing time-dependent is emitted. The fingerprint
// is a hash of the document bytes and is the only signal the reconciler uses
// to decide whether a restart is needed, so a cosmetic change also restarts
// the daemon.
package render

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	agenterrors "github.com/cuemby/promagent/pkg/errors"
	"github.com/cuemby/promagent/pkg/targets"
	"github.com/cuemby/promagent/pkg/types"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// SelfJobName is the job that scrapes the daemon itself
const SelfJobName = targets.SelfJobName

// Paths are the host locations baked into the rendered artifacts
type Paths struct {
	BinaryPath string
	ConfigFile string
	DataDir    string
	User       string
	Group      string
}

// DefaultPaths returns the standard install layout
func DefaultPaths() Paths {
	return Paths{
		BinaryPath: "/usr/local/bin/prometheus",
		ConfigFile: "/etc/prometheus/prometheus.yml",
		DataDir:    "/var/lib/prometheus",
		User:       "prometheus",
		Group:      "prometheus",
	}
}

// RenderedConfig is the output of one render. It is regenerated every cycle
// and never mutated.
type RenderedConfig struct {
	Document    []byte
	Unit        []byte
	Fingerprint string
}

// Renderer renders documents for a fixed set of host paths
type Renderer struct {
	paths Paths
}

// NewRenderer creates a renderer
func NewRenderer(paths Paths) *Renderer {
	return &Renderer{paths: paths}
}

// Render renders with DefaultPaths
func Render(settings types.Settings, entries []targets.Entry) (*RenderedConfig, error) {
	return NewRenderer(DefaultPaths()).Render(settings, entries)
}

type document struct {
	Global        globalConfig   `yaml:"global"`
	ScrapeConfigs []scrapeConfig `yaml:"scrape_configs"`
}

type globalConfig struct {
	ScrapeInterval     string `yaml:"scrape_interval"`
	ScrapeTimeout      string `yaml:"scrape_timeout"`
	EvaluationInterval string `yaml:"evaluation_interval"`
}

type scrapeConfig struct {
	JobName              string              `yaml:"job_name"`
	MetricsPath          string              `yaml:"metrics_path,omitempty"`
	StaticConfigs        []staticConfig      `yaml:"static_configs"`
	RelabelConfigs       []types.RelabelRule `yaml:"relabel_configs,omitempty"`
	MetricRelabelConfigs []types.RelabelRule `yaml:"metric_relabel_configs,omitempty"`
}

type staticConfig struct {
	Targets []string          `yaml:"targets"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// Render validates its inputs and renders the document, unit and fingerprint
func (r *Renderer) Render(settings types.Settings, entries []targets.Entry) (*RenderedConfig, error) {
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	if err := ValidateEntries(entries); err != nil {
		return nil, err
	}

	flags := r.Flags(settings)

	doc := document{
		Global: globalConfig{
			ScrapeInterval:     settings.ScrapeInterval,
			ScrapeTimeout:      settings.ScrapeTimeout,
			EvaluationInterval: settings.EvaluationInterval,
		},
		ScrapeConfigs: []scrapeConfig{selfJob(settings)},
	}

	for _, e := range entries {
		path := e.Target.MetricsPath
		if path == "" {
			path = types.DefaultMetricsPath
		}
		sc := scrapeConfig{
			JobName:              e.RenderedJobName(),
			MetricsPath:          path,
			RelabelConfigs:       e.Target.RelabelConfigs,
			MetricRelabelConfigs: e.Target.MetricRelabelConfigs,
		}
		for _, g := range e.Target.Groups {
			sc.StaticConfigs = append(sc.StaticConfigs, staticConfig{
				Targets: g.Addresses,
				Labels:  g.Labels,
			})
		}
		doc.ScrapeConfigs = append(doc.ScrapeConfigs, sc)
	}

	var buf bytes.Buffer
	buf.WriteString("# Managed by promagent. Local edits are overwritten.\n")
	buf.WriteString("# Daemon flags:\n")
	for _, f := range flags {
		fmt.Fprintf(&buf, "#   %s\n", f)
	}

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, agenterrors.New(agenterrors.InvalidSettings, "encode document", err)
	}
	if err := enc.Close(); err != nil {
		return nil, agenterrors.New(agenterrors.InvalidSettings, "encode document", err)
	}

	out := buf.Bytes()
	return &RenderedConfig{
		Document:    out,
		Unit:        r.unit(flags),
		Fingerprint: Fingerprint(out),
	}, nil
}

// Fingerprint returns the hex BLAKE3-256 digest of a document
func Fingerprint(document []byte) string {
	sum := blake3.Sum256(document)
	return hex.EncodeToString(sum[:])
}

// Flags returns the daemon command line for settings, in a fixed order
func (r *Renderer) Flags(s types.Settings) []string {
	flags := []string{
		"--config.file=" + r.paths.ConfigFile,
		"--storage.tsdb.path=" + r.paths.DataDir,
		"--web.listen-address=" + s.ListenAddress,
		"--storage.tsdb.retention.time=" + s.RetentionTime,
		"--log.level=" + string(s.LogLevel),
	}
	if s.RetentionSize != "" && s.RetentionSize != "0" {
		flags = append(flags, "--storage.tsdb.retention.size="+s.RetentionSize)
	}
	if s.ExternalURL != "" {
		flags = append(flags, "--web.external-url="+s.ExternalURL)
	}
	if s.AdminAPIEnabled {
		flags = append(flags, "--web.enable-admin-api")
	}
	return flags
}

func (r *Renderer) unit(flags []string) []byte {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=Prometheus\n")
	b.WriteString("Documentation=https://prometheus.io/docs/introduction/overview/\n")
	b.WriteString("Wants=network-online.target\n")
	b.WriteString("After=network-online.target\n\n")
	b.WriteString("[Service]\n")
	b.WriteString("Type=simple\n")
	fmt.Fprintf(&b, "User=%s\n", r.paths.User)
	fmt.Fprintf(&b, "Group=%s\n", r.paths.Group)
	fmt.Fprintf(&b, "ExecStart=%s", r.paths.BinaryPath)
	for _, f := range flags {
		fmt.Fprintf(&b, " \\\n    %s", f)
	}
	b.WriteString("\n")
	b.WriteString("ExecReload=/bin/kill -HUP $MAINPID\n")
	b.WriteString("Restart=on-failure\n")
	b.WriteString("RestartSec=5s\n\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return []byte(b.String())
}

func selfJob(s types.Settings) scrapeConfig {
	_, port, _ := net.SplitHostPort(s.ListenAddress)
	return scrapeConfig{
		JobName: SelfJobName,
		StaticConfigs: []staticConfig{{
			Targets: []string{net.JoinHostPort("localhost", port)},
		}},
	}
}
