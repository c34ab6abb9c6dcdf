// Package relation converts untyped relation payloads into typed scrape
// targets. Payload shape is only trusted at this boundary: every entry is
// checked and malformed entries are reported and skipped, never passed on.
package relation

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/promagent/pkg/types"
	"gopkg.in/yaml.v3"
)

// EntryError describes one rejected descriptor
type EntryError struct {
	Index   int
	JobName string
	Reason  string
}

func (e *EntryError) Error() string {
	if e.JobName != "" {
		return fmt.Sprintf("entry %d (%s): %s", e.Index, e.JobName, e.Reason)
	}
	return fmt.Sprintf("entry %d: %s", e.Index, e.Reason)
}

// Parse decodes a relation payload. It accepts a bare list of descriptors
//
//	[{job_name, targets, metrics_path?, labels?}]
//
// or an object with a "scrape_jobs" list whose jobs may use the
// static_configs form. Each static_configs group keeps its own labels; the
// top-level labels fill in keys a group leaves unset. relabel_configs and
// metric_relabel_configs are validated and carried through. JSON is accepted as well since it is valid YAML.
// The error return is only set when the payload as a whole is unreadable;
// per-entry problems are returned in the rejected slice.
func Parse(payload []byte) ([]types.ScrapeTarget, []error, error) {
	var raw any
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to decode relation payload: %w", err)
	}
	if raw == nil {
		return nil, nil, nil
	}

	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		jobs, ok := v["scrape_jobs"]
		if !ok {
			return nil, nil, fmt.Errorf("relation payload has no scrape_jobs field")
		}
		// The relation layer often carries scrape_jobs as an encoded string
		if s, isString := jobs.(string); isString {
			if err := yaml.Unmarshal([]byte(s), &jobs); err != nil {
				return nil, nil, fmt.Errorf("failed to decode scrape_jobs: %w", err)
			}
		}
		l, isList := jobs.([]any)
		if !isList {
			return nil, nil, fmt.Errorf("scrape_jobs must be a list, got %T", jobs)
		}
		list = l
	default:
		return nil, nil, fmt.Errorf("relation payload must be a list or object, got %T", raw)
	}

	var (
		out      []types.ScrapeTarget
		rejected []error
		seen     = make(map[string]bool)
	)
	for i, item := range list {
		target, err := parseEntry(item)
		if err != nil {
			err.Index = i
			rejected = append(rejected, err)
			continue
		}
		if seen[target.JobName] {
			rejected = append(rejected, &EntryError{Index: i, JobName: target.JobName, Reason: "duplicate job_name in relation"})
			continue
		}
		seen[target.JobName] = true
		out = append(out, target)
	}
	return out, rejected, nil
}

func parseEntry(item any) (types.ScrapeTarget, *EntryError) {
	var target types.ScrapeTarget

	m, ok := item.(map[string]any)
	if !ok {
		return target, &EntryError{Reason: fmt.Sprintf("descriptor must be an object, got %T", item)}
	}

	name, ok := m["job_name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return target, &EntryError{Reason: "job_name must be a non-empty string"}
	}
	target.JobName = name
	fail := func(format string, args ...any) (types.ScrapeTarget, *EntryError) {
		return types.ScrapeTarget{}, &EntryError{JobName: name, Reason: fmt.Sprintf(format, args...)}
	}

	target.MetricsPath = types.DefaultMetricsPath
	if v, present := m["metrics_path"]; present && v != nil {
		path, isString := v.(string)
		if !isString || !strings.HasPrefix(path, "/") {
			return fail("metrics_path must be an absolute path")
		}
		target.MetricsPath = path
	}

	labels, err := toLabels(m["labels"])
	if err != nil {
		return fail("%v", err)
	}

	addrs, err := toAddresses(m["targets"])
	if err != nil {
		return fail("%v", err)
	}
	if len(addrs) > 0 {
		target.Groups = append(target.Groups, types.TargetGroup{Addresses: dedupe(addrs), Labels: labels})
	}

	if groups, present := m["static_configs"]; present {
		list, isList := groups.([]any)
		if !isList {
			return fail("static_configs must be a list")
		}
		for gi, g := range list {
			group, isMap := g.(map[string]any)
			if !isMap {
				return fail("static_configs[%d] must be an object", gi)
			}
			groupAddrs, err := toAddresses(group["targets"])
			if err != nil {
				return fail("static_configs[%d]: %v", gi, err)
			}
			groupLabels, err := toLabels(group["labels"])
			if err != nil {
				return fail("static_configs[%d]: %v", gi, err)
			}
			if len(groupAddrs) == 0 {
				continue
			}
			target.Groups = append(target.Groups, types.TargetGroup{
				Addresses: dedupe(groupAddrs),
				Labels:    withDefaults(groupLabels, labels),
			})
		}
	}

	if len(target.Groups) == 0 {
		return fail("at least one target address is required")
	}

	if target.RelabelConfigs, err = toRelabelRules(m["relabel_configs"]); err != nil {
		return fail("relabel_configs: %v", err)
	}
	if target.MetricRelabelConfigs, err = toRelabelRules(m["metric_relabel_configs"]); err != nil {
		return fail("metric_relabel_configs: %v", err)
	}
	return target, nil
}

// withDefaults returns labels with every key of defaults it does not set
func withDefaults(labels, defaults map[string]string) map[string]string {
	if len(defaults) == 0 {
		return labels
	}
	out := make(map[string]string, len(labels)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func toAddresses(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("targets must be a list")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		addr, isString := item.(string)
		if !isString {
			return nil, fmt.Errorf("target %v must be a string", item)
		}
		if err := ValidateAddress(addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func toLabels(v any) (map[string]string, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("labels must be a mapping")
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if k == "" {
			return nil, fmt.Errorf("label keys must be non-empty")
		}
		switch s := val.(type) {
		case string:
			out[k] = s
		case int:
			out[k] = strconv.Itoa(s)
		case bool:
			out[k] = strconv.FormatBool(s)
		case float64:
			out[k] = strconv.FormatFloat(s, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("label %q must be a scalar", k)
		}
	}
	return out, nil
}

// ValidateAddress checks that addr is a concrete host:port
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid target address %q: %w", addr, err)
	}
	if host == "" || host == "*" {
		return fmt.Errorf("target address %q has no resolved host", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("target address %q has invalid port", addr)
	}
	return nil
}

func dedupe(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := addrs[:0]
	for _, a := range addrs {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// SortedRelationIDs returns the keys of a relation map in ascending order
func SortedRelationIDs(m map[int][]byte) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
