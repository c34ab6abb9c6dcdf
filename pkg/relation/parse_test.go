package relation

import (
	"testing"

	"github.com/cuemby/promagent/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptorList(t *testing.T) {
	payload := []byte(`[
		{"job_name": "app1", "targets": ["10.0.0.1:9100"]},
		{"job_name": "app2", "targets": ["10.0.0.2:8080", "10.0.0.3:8080"], "metrics_path": "/stats", "labels": {"env": "prod"}}
	]`)

	got, rejected, err := Parse(payload)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, got, 2)

	assert.Equal(t, types.ScrapeTarget{
		JobName:     "app1",
		MetricsPath: "/metrics",
		Groups:      []types.TargetGroup{{Addresses: []string{"10.0.0.1:9100"}}},
	}, got[0])
	assert.Equal(t, "/stats", got[1].MetricsPath)
	require.Len(t, got[1].Groups, 1)
	assert.Equal(t, map[string]string{"env": "prod"}, got[1].Groups[0].Labels)
}

func TestParseScrapeJobsStaticConfigs(t *testing.T) {
	payload := []byte(`
scrape_jobs: |
  [{"job_name": "node", "static_configs": [
     {"targets": ["10.0.0.1:9100"], "labels": {"dc": "east"}},
     {"targets": ["10.0.0.2:9100", "10.0.0.2:9100"]}
  ]}]
`)

	got, rejected, err := Parse(payload)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, got, 1)
	assert.Equal(t, []types.TargetGroup{
		{Addresses: []string{"10.0.0.1:9100"}, Labels: map[string]string{"dc": "east"}},
		{Addresses: []string{"10.0.0.2:9100"}},
	}, got[0].Groups)
	assert.Equal(t, []string{"10.0.0.1:9100", "10.0.0.2:9100"}, got[0].Addresses())
}

func TestParseStaticConfigGroupsKeepOwnLabels(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []types.TargetGroup
	}{
		{
			name: "same label with different values",
			payload: `[{"job_name": "web", "static_configs": [
				{"targets": ["10.0.0.1:80"], "labels": {"env": "prod"}},
				{"targets": ["10.0.0.2:80"], "labels": {"env": "dev"}}]}]`,
			want: []types.TargetGroup{
				{Addresses: []string{"10.0.0.1:80"}, Labels: map[string]string{"env": "prod"}},
				{Addresses: []string{"10.0.0.2:80"}, Labels: map[string]string{"env": "dev"}},
			},
		},
		{
			name: "unlabelled group stays unlabelled",
			payload: `[{"job_name": "db", "static_configs": [
				{"targets": ["10.0.0.1:80"], "labels": {"tier": "db"}},
				{"targets": ["10.0.0.2:80"]}]}]`,
			want: []types.TargetGroup{
				{Addresses: []string{"10.0.0.1:80"}, Labels: map[string]string{"tier": "db"}},
				{Addresses: []string{"10.0.0.2:80"}},
			},
		},
		{
			name: "job labels fill unset group keys",
			payload: `[{"job_name": "api", "labels": {"team": "core", "env": "prod"}, "static_configs": [
				{"targets": ["10.0.0.1:80"], "labels": {"env": "dev"}},
				{"targets": []}]}]`,
			want: []types.TargetGroup{
				{Addresses: []string{"10.0.0.1:80"}, Labels: map[string]string{"team": "core", "env": "dev"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rejected, err := Parse([]byte(tt.payload))
			require.NoError(t, err)
			assert.Empty(t, rejected)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Groups)
		})
	}
}

func TestParseRelabelConfigs(t *testing.T) {
	payload := []byte(`
scrape_jobs:
  - job_name: node
    targets: ["10.0.0.1:9100"]
    relabel_configs:
      - source_labels: [__address__]
        regex: "([^:]+):.*"
        target_label: instance
        replacement: "$1"
    metric_relabel_configs:
      - source_labels: [__name__]
        regex: go_.*
        action: drop
`)

	got, rejected, err := Parse(payload)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, got, 1)

	assert.Equal(t, []types.RelabelRule{{
		"source_labels": []string{"__address__"},
		"regex":         "([^:]+):.*",
		"target_label":  "instance",
		"replacement":   "$1",
	}}, got[0].RelabelConfigs)
	assert.Equal(t, []types.RelabelRule{{
		"source_labels": []string{"__name__"},
		"regex":         "go_.*",
		"action":        "drop",
	}}, got[0].MetricRelabelConfigs)
}

func TestParseRejectsBadRelabelConfigs(t *testing.T) {
	tests := []struct {
		name  string
		rules string
	}{
		{"not a list", `{"action": "drop"}`},
		{"rule not an object", `["drop"]`},
		{"unknown field", `[{"actoin": "drop"}]`},
		{"unknown action", `[{"action": "explode"}]`},
		{"bad regex", `[{"action": "drop", "regex": "("}]`},
		{"replace without target", `[{"source_labels": ["a"]}]`},
		{"hashmod without modulus", `[{"action": "hashmod", "target_label": "shard"}]`},
		{"source labels not strings", `[{"action": "keep", "source_labels": [1]}]`},
		{"empty source label", `[{"action": "keep", "source_labels": [""]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `[{"job_name": "a", "targets": ["h:1"], "relabel_configs": ` + tt.rules + `}]`
			got, rejected, err := Parse([]byte(payload))
			require.NoError(t, err)
			assert.Empty(t, got)
			require.Len(t, rejected, 1)
			assert.Contains(t, rejected[0].Error(), "relabel_configs")
		})
	}
}

func TestParseRejectsMalformedEntries(t *testing.T) {
	payload := []byte(`[
		{"job_name": "ok", "targets": ["host:9100"]},
		{"job_name": "", "targets": ["host:9100"]},
		{"job_name": "noaddr", "targets": []},
		{"job_name": "badaddr", "targets": ["host"]},
		{"job_name": "wild", "targets": ["*:9100"]},
		{"job_name": "badlabel", "targets": ["host:1"], "labels": {"": "x"}},
		{"job_name": "badpath", "targets": ["host:1"], "metrics_path": "metrics"},
		{"job_name": "ok", "targets": ["host:9101"]},
		"not-an-object"
	]`)

	got, rejected, err := Parse(payload)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].JobName)
	assert.Len(t, rejected, 8)

	var entryErr *EntryError
	require.ErrorAs(t, rejected[0], &entryErr)
	assert.Equal(t, 1, entryErr.Index)
}

func TestParseWholePayloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not yaml", "{[}"},
		{"scalar", "42"},
		{"missing scrape_jobs", `{"other": 1}`},
		{"scrape_jobs not list", `{"scrape_jobs": {"a": 1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	got, rejected, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, rejected)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("10.0.0.1:9100"))
	assert.NoError(t, ValidateAddress("[::1]:9090"))
	assert.NoError(t, ValidateAddress("node.example:80"))
	assert.Error(t, ValidateAddress(":9100"))
	assert.Error(t, ValidateAddress("host:0"))
	assert.Error(t, ValidateAddress("host:http"))
}
