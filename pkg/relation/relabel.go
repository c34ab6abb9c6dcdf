package relation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cuemby/promagent/pkg/types"
	"github.com/prometheus/common/model"
)

// relabelActions are the actions the daemon accepts in a relabel rule
var relabelActions = map[string]bool{
	"replace":   true,
	"keep":      true,
	"drop":      true,
	"keepequal": true,
	"dropequal": true,
	"hashmod":   true,
	"labelmap":  true,
	"labeldrop": true,
	"labelkeep": true,
	"lowercase": true,
	"uppercase": true,
}

// actionsNeedingTarget write to target_label and fail to load without it
var actionsNeedingTarget = map[string]bool{
	"replace":   true,
	"hashmod":   true,
	"lowercase": true,
	"uppercase": true,
	"keepequal": true,
	"dropequal": true,
}

func toRelabelRules(v any) ([]types.RelabelRule, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("must be a list")
	}
	out := make([]types.RelabelRule, 0, len(list))
	for i, item := range list {
		m, isMap := item.(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("rule %d must be an object", i)
		}
		rule, err := normalizeRule(m)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if err := ValidateRelabelRule(rule); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// normalizeRule converts decoded YAML values to the typed values a rule holds
func normalizeRule(m map[string]any) (types.RelabelRule, error) {
	rule := make(types.RelabelRule, len(m))
	for k, v := range m {
		switch k {
		case "source_labels":
			list, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("source_labels must be a list")
			}
			names := make([]string, 0, len(list))
			for _, item := range list {
				s, isString := item.(string)
				if !isString {
					return nil, fmt.Errorf("source_labels entries must be strings")
				}
				names = append(names, s)
			}
			rule[k] = names
		case "modulus":
			n, ok := v.(int)
			if !ok {
				return nil, fmt.Errorf("modulus must be an integer")
			}
			rule[k] = n
		case "separator", "regex", "target_label", "replacement", "action":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", k)
			}
			rule[k] = s
		default:
			return nil, fmt.Errorf("unknown field %q", k)
		}
	}
	return rule, nil
}

// ValidateRelabelRule checks a rule the same way the daemon does when it
// loads its configuration
func ValidateRelabelRule(rule types.RelabelRule) error {
	keys := make([]string, 0, len(rule))
	for k := range rule {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := rule[k].(type) {
		case []string:
			if k != "source_labels" {
				return fmt.Errorf("%s must not be a list", k)
			}
			for _, name := range v {
				if !model.UTF8Validation.IsValidLabelName(name) {
					return fmt.Errorf("invalid source label %q", name)
				}
			}
		case int:
			if k != "modulus" {
				return fmt.Errorf("%s must not be an integer", k)
			}
		case string:
			if k == "source_labels" || k == "modulus" {
				return fmt.Errorf("%s has the wrong type", k)
			}
		default:
			return fmt.Errorf("%s has unsupported type %T", k, v)
		}
	}

	action := "replace"
	if a, ok := rule["action"].(string); ok && a != "" {
		action = strings.ToLower(a)
	}
	if !relabelActions[action] {
		return fmt.Errorf("unknown action %q", action)
	}
	if target, _ := rule["target_label"].(string); actionsNeedingTarget[action] && target == "" {
		return fmt.Errorf("action %s requires target_label", action)
	}
	if action == "hashmod" {
		if n, _ := rule["modulus"].(int); n <= 0 {
			return fmt.Errorf("action hashmod requires a positive modulus")
		}
	}
	if re, ok := rule["regex"].(string); ok {
		if _, err := regexp.Compile("^(?:" + re + ")$"); err != nil {
			return fmt.Errorf("invalid regex %q: %w", re, err)
		}
	}
	return nil
}
