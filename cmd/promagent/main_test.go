package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/promagent/pkg/events"
	"github.com/cuemby/promagent/pkg/reconciler"
	"github.com/cuemby/promagent/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRelationID(t *testing.T) {
	tests := []struct {
		path   string
		wantID int
		wantOK bool
	}{
		{"/etc/promagent/relations.d/7.yaml", 7, true},
		{"3.yml", 3, true},
		{"12.json", 12, true},
		{"7.yaml.swp", 0, false},
		{"app.yaml", 0, false},
		{"-1.yaml", 0, false},
		{"README", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, ok := relationID(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestRelationEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "4.yaml")
	payload := []byte("- job_name: node\n  targets: [\"10.0.0.4:9100\"]\n")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	ev, ok, err := relationEvent(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events.EventRelationChanged, ev.Type)
	assert.Equal(t, 4, ev.RelationID)
	assert.Equal(t, payload, ev.Payload)

	require.NoError(t, os.Remove(path))
	ev, ok, err = relationEvent(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events.EventRelationDeparted, ev.Type)
	assert.Equal(t, 4, ev.RelationID)

	_, ok, err = relationEvent(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncRelations(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.yaml"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "5.yaml"), 0o755))

	stored := map[int][]byte{
		1: []byte("[]"),
		3: []byte("[]"),
		9: []byte("[]"),
	}

	evs, err := syncRelations(dir, stored)
	require.NoError(t, err)

	var got []string
	for _, ev := range evs {
		got = append(got, fmt.Sprintf("%s:%d", ev.Type, ev.RelationID))
	}
	assert.Equal(t, []string{
		"relation-changed:1",
		"relation-changed:2",
		"relation-departed:3",
		"relation-departed:9",
	}, got)
}

func TestSyncRelationsMissingDir(t *testing.T) {
	_, err := syncRelations(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, err)
}

func TestLocalURL(t *testing.T) {
	tests := []struct {
		name     string
		settings types.Settings
		want     string
	}{
		{"wildcard", types.Settings{ListenAddress: "0.0.0.0:9090"}, "http://127.0.0.1:9090"},
		{"empty host", types.Settings{ListenAddress: ":9091"}, "http://127.0.0.1:9091"},
		{"bound host", types.Settings{ListenAddress: "10.0.0.5:9090"}, "http://10.0.0.5:9090"},
		{"ipv6 wildcard", types.Settings{ListenAddress: "[::]:9090"}, "http://127.0.0.1:9090"},
		{"route prefix", types.Settings{ListenAddress: "0.0.0.0:9090", ExternalURL: "https://example.com/prometheus/"}, "http://127.0.0.1:9090/prometheus"},
		{"defaults", types.Settings{}, "http://127.0.0.1:9090"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, localURL(tt.settings))
		})
	}
}

func TestReadPayload(t *testing.T) {
	data, err := readPayload(strings.NewReader("[]"), "-")
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), data)

	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scrape_jobs: []"), 0o644))
	data, err = readPayload(nil, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("scrape_jobs: []"), data)

	_, err = readPayload(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	st := &reconciler.Status{InstalledVersion: "2.53.0", Running: true}

	var buf bytes.Buffer
	require.NoError(t, encode(&buf, "yaml", st))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, "2.53.0", fromYAML["installed_version"])

	buf.Reset()
	require.NoError(t, encode(&buf, "json", st))
	var fromJSON map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, true, fromJSON["running"])

	assert.Error(t, encode(&buf, "table", st))
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &reconciler.Result{
		CycleID: "c1",
		Event:   events.EventConfigChanged,
		Actions: []string{"write-config", "restart"},
	})
	assert.Contains(t, buf.String(), "Cycle c1 (config-changed)")
	assert.Contains(t, buf.String(), "restart")

	buf.Reset()
	printResult(&buf, &reconciler.Result{CycleID: "c2", Event: events.EventUpdateStatus, ActiveTargets: 4})
	assert.Contains(t, buf.String(), "no changes")
	assert.Contains(t, buf.String(), "active targets: 4")
}
