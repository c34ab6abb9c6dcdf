package render

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
	agenterrors "github.com/cuemby/promagent/pkg/errors"
	"github.com/cuemby/promagent/pkg/relation"
	"github.com/cuemby/promagent/pkg/targets"
	"github.com/cuemby/promagent/pkg/types"
)

var retentionSizePattern = regexp.MustCompile(`^(0|[0-9]+(B|KB|MB|GB|TB|PB|EB))$`)

// ValidateSettings checks every operator setting the document depends on
func ValidateSettings(s types.Settings) error {
	invalid := func(format string, args ...any) error {
		return agenterrors.Newf(agenterrors.InvalidSettings, "validate settings", format, args...)
	}

	if _, err := semver.StrictNewVersion(s.Version); err != nil {
		return invalid("version %q is not a semantic version: %v", s.Version, err)
	}

	_, port, err := net.SplitHostPort(s.ListenAddress)
	if err != nil {
		return invalid("listen address %q: %v", s.ListenAddress, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return invalid("listen address %q has invalid port", s.ListenAddress)
	}

	if !s.LogLevel.Valid() {
		return invalid("log level %q must be one of debug, info, warn, error", s.LogLevel)
	}

	interval, err := types.ParseDuration(s.ScrapeInterval)
	if err != nil {
		return invalid("scrape interval: %v", err)
	}
	timeout, err := types.ParseDuration(s.ScrapeTimeout)
	if err != nil {
		return invalid("scrape timeout: %v", err)
	}
	evaluation, err := types.ParseDuration(s.EvaluationInterval)
	if err != nil {
		return invalid("evaluation interval: %v", err)
	}
	if interval <= 0 || timeout <= 0 || evaluation <= 0 {
		return invalid("scrape interval, scrape timeout and evaluation interval must be positive")
	}
	if timeout > interval {
		return invalid("scrape timeout %s exceeds scrape interval %s", s.ScrapeTimeout, s.ScrapeInterval)
	}

	if _, err := types.ParseDuration(s.RetentionTime); err != nil {
		return invalid("retention time: %v", err)
	}
	if s.RetentionSize != "" && !retentionSizePattern.MatchString(s.RetentionSize) {
		return invalid("retention size %q must be 0 or a number with a B, KB, MB, GB, TB, PB or EB suffix", s.RetentionSize)
	}

	if s.ExternalURL != "" {
		u, err := url.Parse(s.ExternalURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("external URL %q must be absolute", s.ExternalURL)
		}
	}

	return nil
}

// ValidateEntries checks the targets handed to the renderer. Rendered job
// names must be unique and must not shadow SelfJobName; the daemon refuses
// to load a document with duplicate job names.
func ValidateEntries(entries []targets.Entry) error {
	names := map[string]bool{SelfJobName: true}
	for _, e := range entries {
		if e.Key.JobName == "" {
			return agenterrors.Newf(agenterrors.InvalidSettings, "validate targets", "target from relation %d has no job name", e.Key.RelationID)
		}
		name := e.RenderedJobName()
		if names[name] {
			return agenterrors.Newf(agenterrors.InvalidSettings, "validate targets", "job %s renders duplicate job name %q", e.Key, name)
		}
		names[name] = true

		if len(e.Target.Groups) == 0 {
			return agenterrors.Newf(agenterrors.InvalidSettings, "validate targets", "job %s has no addresses", e.Key)
		}
		for _, g := range e.Target.Groups {
			if len(g.Addresses) == 0 {
				return agenterrors.Newf(agenterrors.InvalidSettings, "validate targets", "job %s has an empty target group", e.Key)
			}
			for _, addr := range g.Addresses {
				if err := relation.ValidateAddress(addr); err != nil {
					return agenterrors.New(agenterrors.InvalidSettings, fmt.Sprintf("validate job %s", e.Key), err)
				}
			}
			for k := range g.Labels {
				if k == "" {
					return agenterrors.Newf(agenterrors.InvalidSettings, "validate targets", "job %s has an empty label key", e.Key)
				}
			}
		}

		rules := append(append([]types.RelabelRule(nil), e.Target.RelabelConfigs...), e.Target.MetricRelabelConfigs...)
		for _, rule := range rules {
			if err := relation.ValidateRelabelRule(rule); err != nil {
				return agenterrors.New(agenterrors.InvalidSettings, fmt.Sprintf("validate job %s relabeling", e.Key), err)
			}
		}
	}
	return nil
}
