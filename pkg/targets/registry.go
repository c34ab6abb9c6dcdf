// Package targets aggregates scrape targets contributed by related peers.
//
// The registry is a per-cycle cache rebuilt from relation data; it does no
// I/O and persists nothing. Snapshot ordering is deterministic so the
// rendered document fingerprint is stable across process restarts.
package targets

import (
	"fmt"
	"sort"

	"github.com/cuemby/promagent/pkg/types"
)

// SelfJobName is the job that scrapes the daemon itself. No peer job is
// rendered under it.
const SelfJobName = "prometheus"

// Entry is one registry row as handed to the renderer
type Entry struct {
	Key    types.TargetKey
	Target types.ScrapeTarget

	// Name is the job name written to the document, unique across the
	// snapshot and distinct from SelfJobName
	Name string

	// Collides is set when the declared job name had to be changed
	Collides bool
}

// RenderedJobName is the job name written to the document
func (e Entry) RenderedJobName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Key.JobName
}

// Registry maps target keys to targets
type Registry struct {
	entries map[types.TargetKey]types.ScrapeTarget
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[types.TargetKey]types.ScrapeTarget)}
}

// FromRelations builds a registry from per-relation target lists
func FromRelations(relations map[int][]types.ScrapeTarget) *Registry {
	r := NewRegistry()
	for relationID, list := range relations {
		for _, target := range list {
			r.Upsert(types.TargetKey{RelationID: relationID, JobName: target.JobName}, target)
		}
	}
	return r
}

// Upsert replaces any existing entry for key
func (r *Registry) Upsert(key types.TargetKey, target types.ScrapeTarget) {
	target.JobName = key.JobName
	r.entries[key] = target.Clone()
}

// Remove deletes the entry for key
func (r *Registry) Remove(key types.TargetKey) {
	delete(r.entries, key)
}

// RemoveRelation deletes every entry contributed by relationID
func (r *Registry) RemoveRelation(relationID int) int {
	removed := 0
	for key := range r.entries {
		if key.RelationID == relationID {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries
func (r *Registry) Len() int {
	return len(r.entries)
}

// Snapshot returns the entries sorted by job name, ties broken by relation
// ID. A job name declared by more than one relation, or equal to
// SelfJobName, is rendered as <job>-rel<relation ID>; if that is taken too a
// counter is appended until the name is unique. Unique declared names are
// never changed, so a peer cannot rename another peer's job.
func (r *Registry) Snapshot() []Entry {
	jobCount := make(map[string]int, len(r.entries))
	for key := range r.entries {
		jobCount[key.JobName]++
	}

	out := make([]Entry, 0, len(r.entries))
	taken := map[string]bool{SelfJobName: true}
	for key, target := range r.entries {
		e := Entry{
			Key:      key,
			Target:   target.Clone(),
			Collides: jobCount[key.JobName] > 1 || key.JobName == SelfJobName,
		}
		if !e.Collides {
			e.Name = key.JobName
			taken[e.Name] = true
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Less(out[j].Key)
	})

	for i := range out {
		if !out[i].Collides {
			continue
		}
		base := fmt.Sprintf("%s-rel%d", out[i].Key.JobName, out[i].Key.RelationID)
		name := base
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		taken[name] = true
		out[i].Name = name
	}
	return out
}
