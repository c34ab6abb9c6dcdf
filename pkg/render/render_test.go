package render

import (
	"strings"
	"testing"

	agenterrors "github.com/cuemby/promagent/pkg/errors"
	"github.com/cuemby/promagent/pkg/targets"
	"github.com/cuemby/promagent/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testSettings() types.Settings {
	return types.DefaultSettings()
}

func key(rel int, job string) types.TargetKey {
	return types.TargetKey{RelationID: rel, JobName: job}
}

func group(labels map[string]string, addrs ...string) []types.TargetGroup {
	return []types.TargetGroup{{Addresses: addrs, Labels: labels}}
}

func TestRenderDeterministicAcrossInsertionOrder(t *testing.T) {
	a := targets.NewRegistry()
	a.Upsert(key(1, "app1"), types.ScrapeTarget{Groups: group(map[string]string{"z": "1", "a": "2", "m": "3"}, "10.0.0.1:9100")})
	a.Upsert(key(2, "app2"), types.ScrapeTarget{Groups: group(nil, "10.0.0.2:9100")})
	a.Upsert(key(3, "app0"), types.ScrapeTarget{Groups: group(nil, "10.0.0.3:9100")})

	b := targets.NewRegistry()
	b.Upsert(key(3, "app0"), types.ScrapeTarget{Groups: group(nil, "10.0.0.3:9100")})
	b.Upsert(key(2, "app2"), types.ScrapeTarget{Groups: group(nil, "10.0.0.2:9100")})
	b.Upsert(key(1, "app1"), types.ScrapeTarget{Groups: group(map[string]string{"m": "3", "a": "2", "z": "1"}, "10.0.0.1:9100")})

	first, err := Render(testSettings(), a.Snapshot())
	require.NoError(t, err)
	second, err := Render(testSettings(), b.Snapshot())
	require.NoError(t, err)

	assert.Equal(t, string(first.Document), string(second.Document))
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Unit, second.Unit)
}

func TestRenderDocumentStructure(t *testing.T) {
	r := targets.NewRegistry()
	r.Upsert(key(1, "app1"), types.ScrapeTarget{Groups: group(map[string]string{"env": "prod"}, "10.0.0.1:9100")})
	r.Upsert(key(2, "db"), types.ScrapeTarget{Groups: group(nil, "10.0.0.5:9187"), MetricsPath: "/probe"})

	out, err := Render(testSettings(), r.Snapshot())
	require.NoError(t, err)

	var got document
	require.NoError(t, yaml.Unmarshal(out.Document, &got))

	want := document{
		Global: globalConfig{ScrapeInterval: "1m", ScrapeTimeout: "10s", EvaluationInterval: "1m"},
		ScrapeConfigs: []scrapeConfig{
			{JobName: "prometheus", StaticConfigs: []staticConfig{{Targets: []string{"localhost:9090"}}}},
			{JobName: "app1", MetricsPath: "/metrics", StaticConfigs: []staticConfig{{Targets: []string{"10.0.0.1:9100"}, Labels: map[string]string{"env": "prod"}}}},
			{JobName: "db", MetricsPath: "/probe", StaticConfigs: []staticConfig{{Targets: []string{"10.0.0.5:9187"}}}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rendered document mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderLabelKeysSorted(t *testing.T) {
	r := targets.NewRegistry()
	r.Upsert(key(1, "app"), types.ScrapeTarget{Groups: group(map[string]string{"zone": "z", "app": "a", "env": "e"}, "h:1")})

	out, err := Render(testSettings(), r.Snapshot())
	require.NoError(t, err)

	doc := string(out.Document)
	app := strings.Index(doc, "app: a")
	env := strings.Index(doc, "env: e")
	zone := strings.Index(doc, "zone: z")
	require.True(t, app > 0 && env > 0 && zone > 0)
	assert.Less(t, app, env)
	assert.Less(t, env, zone)
}

func TestRenderRejectsTimeoutAboveInterval(t *testing.T) {
	s := testSettings()
	s.ScrapeTimeout = "30s"
	s.ScrapeInterval = "10s"

	out, err := Render(s, nil)
	assert.Nil(t, out)
	require.Error(t, err)
	assert.True(t, agenterrors.Is(err, agenterrors.InvalidSettings))
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.Settings)
		ok     bool
	}{
		{"defaults", func(s *types.Settings) {}, true},
		{"equal timeout and interval", func(s *types.Settings) { s.ScrapeTimeout = "1m" }, true},
		{"day retention", func(s *types.Settings) { s.RetentionTime = "30d" }, true},
		{"retention size", func(s *types.Settings) { s.RetentionSize = "512MB" }, true},
		{"external url", func(s *types.Settings) { s.ExternalURL = "https://prom.example.com/" }, true},
		{"empty host listen", func(s *types.Settings) { s.ListenAddress = ":9090" }, true},
		{"v-prefixed version", func(s *types.Settings) { s.Version = "v2.53.0" }, false},
		{"garbage version", func(s *types.Settings) { s.Version = "latest" }, false},
		{"no port", func(s *types.Settings) { s.ListenAddress = "0.0.0.0" }, false},
		{"bad log level", func(s *types.Settings) { s.LogLevel = "trace" }, false},
		{"bad interval", func(s *types.Settings) { s.ScrapeInterval = "soon" }, false},
		{"zero timeout", func(s *types.Settings) { s.ScrapeTimeout = "0s" }, false},
		{"bad retention size", func(s *types.Settings) { s.RetentionSize = "lots" }, false},
		{"relative external url", func(s *types.Settings) { s.ExternalURL = "/prom" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			err := ValidateSettings(s)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, agenterrors.Is(err, agenterrors.InvalidSettings), "got %v", err)
			}
		})
	}
}

func TestRenderRejectsBadTargets(t *testing.T) {
	tests := []struct {
		name  string
		entry targets.Entry
	}{
		{"no addresses", targets.Entry{Key: key(1, "a"), Target: types.ScrapeTarget{}}},
		{"bad address", targets.Entry{Key: key(1, "a"), Target: types.ScrapeTarget{Groups: group(nil, "nope")}}},
		{"empty label key", targets.Entry{Key: key(1, "a"), Target: types.ScrapeTarget{Groups: group(map[string]string{"": "x"}, "h:1")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(testSettings(), []targets.Entry{tt.entry})
			assert.True(t, agenterrors.Is(err, agenterrors.InvalidSettings), "got %v", err)
		})
	}
}

func TestRetentionChangeChangesFingerprint(t *testing.T) {
	before, err := Render(testSettings(), nil)
	require.NoError(t, err)

	s := testSettings()
	s.RetentionTime = "30d"
	after, err := Render(s, nil)
	require.NoError(t, err)

	assert.NotEqual(t, before.Fingerprint, after.Fingerprint)
	assert.Contains(t, string(after.Document), "--storage.tsdb.retention.time=30d")
	assert.Contains(t, string(after.Unit), "--storage.tsdb.retention.time=30d")
}

func TestRenderCollisionsDisambiguated(t *testing.T) {
	r := targets.NewRegistry()
	r.Upsert(key(1, "node"), types.ScrapeTarget{Groups: group(nil, "10.0.0.1:9100")})
	r.Upsert(key(2, "node"), types.ScrapeTarget{Groups: group(nil, "10.0.0.2:9100")})
	r.Upsert(key(3, "prometheus"), types.ScrapeTarget{Groups: group(nil, "10.0.0.3:9090")})

	out, err := Render(testSettings(), r.Snapshot())
	require.NoError(t, err)

	var got document
	require.NoError(t, yaml.Unmarshal(out.Document, &got))

	names := make(map[string][]string)
	for _, sc := range got.ScrapeConfigs {
		names[sc.JobName] = sc.StaticConfigs[0].Targets
	}
	assert.Equal(t, []string{"10.0.0.1:9100"}, names["node-rel1"])
	assert.Equal(t, []string{"10.0.0.2:9100"}, names["node-rel2"])
	assert.Equal(t, []string{"10.0.0.3:9090"}, names["prometheus-rel3"])
	assert.Equal(t, []string{"localhost:9090"}, names["prometheus"])
	assert.Len(t, got.ScrapeConfigs, 4)
}

func TestRenderNeverDuplicatesJobNames(t *testing.T) {
	r := targets.NewRegistry()
	r.Upsert(key(1, "app"), types.ScrapeTarget{Groups: group(nil, "10.0.0.1:80")})
	r.Upsert(key(2, "app"), types.ScrapeTarget{Groups: group(nil, "10.0.0.2:80")})
	r.Upsert(key(3, "app-rel1"), types.ScrapeTarget{Groups: group(nil, "10.0.0.3:80")})
	r.Upsert(key(4, "prometheus"), types.ScrapeTarget{Groups: group(nil, "10.0.0.4:9090")})
	r.Upsert(key(5, "prometheus-rel4"), types.ScrapeTarget{Groups: group(nil, "10.0.0.5:9090")})

	out, err := Render(testSettings(), r.Snapshot())
	require.NoError(t, err)

	var got document
	require.NoError(t, yaml.Unmarshal(out.Document, &got))

	byName := make(map[string][]string)
	for _, sc := range got.ScrapeConfigs {
		_, dup := byName[sc.JobName]
		assert.False(t, dup, "job_name %q rendered twice", sc.JobName)
		byName[sc.JobName] = sc.StaticConfigs[0].Targets
	}
	assert.Len(t, got.ScrapeConfigs, 6)
	assert.Equal(t, []string{"10.0.0.3:80"}, byName["app-rel1"])
	assert.Equal(t, []string{"10.0.0.1:80"}, byName["app-rel1-2"])
	assert.Equal(t, []string{"10.0.0.5:9090"}, byName["prometheus-rel4"])
	assert.Equal(t, []string{"10.0.0.4:9090"}, byName["prometheus-rel4-2"])
	assert.Equal(t, []string{"localhost:9090"}, byName["prometheus"])
}

func TestValidateEntriesRejectsDuplicateNames(t *testing.T) {
	tests := []struct {
		name    string
		entries []targets.Entry
	}{
		{"same rendered name", []targets.Entry{
			{Key: key(1, "app"), Name: "app-x", Target: types.ScrapeTarget{Groups: group(nil, "h:1")}},
			{Key: key(2, "app-x"), Target: types.ScrapeTarget{Groups: group(nil, "h:2")}},
		}},
		{"shadows self job", []targets.Entry{
			{Key: key(1, "prometheus"), Target: types.ScrapeTarget{Groups: group(nil, "h:1")}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Render(testSettings(), tt.entries)
			assert.Nil(t, out)
			assert.True(t, agenterrors.Is(err, agenterrors.InvalidSettings), "got %v", err)
		})
	}
}

func TestRenderStaticConfigGroupsAndRelabeling(t *testing.T) {
	r := targets.NewRegistry()
	r.Upsert(key(1, "web"), types.ScrapeTarget{
		Groups: []types.TargetGroup{
			{Addresses: []string{"10.0.0.1:80"}, Labels: map[string]string{"env": "prod"}},
			{Addresses: []string{"10.0.0.2:80"}},
		},
		RelabelConfigs: []types.RelabelRule{{
			"target_label":  "instance",
			"source_labels": []string{"__address__"},
			"regex":         "([^:]+):.*",
			"replacement":   "$1",
		}},
		MetricRelabelConfigs: []types.RelabelRule{{
			"source_labels": []string{"__name__"},
			"regex":         "go_.*",
			"action":        "drop",
		}},
	})

	out, err := Render(testSettings(), r.Snapshot())
	require.NoError(t, err)

	var got document
	require.NoError(t, yaml.Unmarshal(out.Document, &got))
	require.Len(t, got.ScrapeConfigs, 2)

	web := got.ScrapeConfigs[1]
	assert.Equal(t, []staticConfig{
		{Targets: []string{"10.0.0.1:80"}, Labels: map[string]string{"env": "prod"}},
		{Targets: []string{"10.0.0.2:80"}},
	}, web.StaticConfigs)
	require.Len(t, web.RelabelConfigs, 1)
	assert.Equal(t, "instance", web.RelabelConfigs[0]["target_label"])
	require.Len(t, web.MetricRelabelConfigs, 1)
	assert.Equal(t, "drop", web.MetricRelabelConfigs[0]["action"])

	// Rule keys are written sorted
	doc := string(out.Document)
	regex := strings.Index(doc, "regex:")
	replacement := strings.Index(doc, "replacement:")
	source := strings.Index(doc, "source_labels:")
	target := strings.Index(doc, "target_label:")
	require.True(t, regex > 0 && replacement > 0 && source > 0 && target > 0)
	assert.Less(t, regex, replacement)
	assert.Less(t, replacement, source)
	assert.Less(t, source, target)
}

func TestRenderRejectsInvalidRelabelRule(t *testing.T) {
	entry := targets.Entry{Key: key(1, "a"), Target: types.ScrapeTarget{
		Groups:               group(nil, "h:1"),
		MetricRelabelConfigs: []types.RelabelRule{{"action": "hashmod", "target_label": "shard"}},
	}}

	_, err := Render(testSettings(), []targets.Entry{entry})
	assert.True(t, agenterrors.Is(err, agenterrors.InvalidSettings), "got %v", err)
}

func TestFlags(t *testing.T) {
	s := testSettings()
	s.RetentionSize = "10GB"
	s.ExternalURL = "https://prom.example.com"
	s.AdminAPIEnabled = true

	flags := NewRenderer(DefaultPaths()).Flags(s)
	assert.Equal(t, []string{
		"--config.file=/etc/prometheus/prometheus.yml",
		"--storage.tsdb.path=/var/lib/prometheus",
		"--web.listen-address=0.0.0.0:9090",
		"--storage.tsdb.retention.time=15d",
		"--log.level=info",
		"--storage.tsdb.retention.size=10GB",
		"--web.external-url=https://prom.example.com",
		"--web.enable-admin-api",
	}, flags)
}

func TestUnitExecStart(t *testing.T) {
	out, err := Render(testSettings(), nil)
	require.NoError(t, err)

	unit := string(out.Unit)
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/prometheus \\\n    --config.file=/etc/prometheus/prometheus.yml")
	assert.Contains(t, unit, "User=prometheus\n")
	assert.Contains(t, unit, "Restart=on-failure\n")
	assert.NotContains(t, unit, "retention.size")
}
