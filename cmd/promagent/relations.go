package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/promagent/pkg/events"
)

// Relation payload files are named <relation-id>.yaml (or .yml, .json)
var relationExts = []string{".yaml", ".yml", ".json"}

// relationID extracts the relation ID from a payload file name
func relationID(path string) (int, bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	known := false
	for _, e := range relationExts {
		if ext == e {
			known = true
		}
	}
	if !known {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSuffix(base, ext))
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// relationEvent turns a change to path into the matching relation event. A
// file that is gone means the peer departed.
func relationEvent(path string) (*events.Event, bool, error) {
	id, ok := relationID(path)
	if !ok {
		return nil, false, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return events.NewRelation(events.EventRelationDeparted, id, nil), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read relation %d: %w", id, err)
	}
	return events.NewRelation(events.EventRelationChanged, id, data), true, nil
}

// syncRelations returns the events that bring the stored relations in line
// with the files in dir: a changed event per file, and a departed event per
// stored relation that no longer has one
func syncRelations(dir string, stored map[int][]byte) ([]*events.Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read relations directory: %w", err)
	}

	var out []*events.Event
	present := make(map[int]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ev, ok, err := relationEvent(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if !ok || present[ev.RelationID] {
			continue
		}
		present[ev.RelationID] = true
		out = append(out, ev)
	}

	var gone []int
	for id := range stored {
		if !present[id] {
			gone = append(gone, id)
		}
	}
	sort.Ints(gone)
	for _, id := range gone {
		out = append(out, events.NewRelation(events.EventRelationDeparted, id, nil))
	}
	return out, nil
}
