package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	promapi "github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// TargetsProbe counts the daemon's active scrape targets through its HTTP API
type TargetsProbe struct {
	api v1.API

	// ExcludeJob is left out of the count (the self-monitoring job)
	ExcludeJob string

	// Attempts and RetryInterval cover a daemon that is still starting
	Attempts      uint
	RetryInterval time.Duration
}

// NewTargetsProbe creates a probe against the daemon at baseURL
func NewTargetsProbe(baseURL, excludeJob string) (*TargetsProbe, error) {
	client, err := promapi.NewClient(promapi.Config{Address: baseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon API client: %w", err)
	}
	return &TargetsProbe{
		api:           v1.NewAPI(client),
		ExcludeJob:    excludeJob,
		Attempts:      3,
		RetryInterval: 2 * time.Second,
	}, nil
}

// ActiveTargets returns the number of active targets outside ExcludeJob
func (p *TargetsProbe) ActiveTargets(ctx context.Context) (int, error) {
	operation := func() (int, error) {
		res, err := p.api.Targets(ctx)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, t := range res.Active {
			if string(t.Labels[model.JobLabel]) != p.ExcludeJob {
				n++
			}
		}
		return n, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.RetryInterval)),
		backoff.WithMaxTries(p.Attempts),
	)
}

// Check reports healthy when the target list could be read
func (p *TargetsProbe) Check(ctx context.Context) Result {
	start := time.Now()
	n, err := p.ActiveTargets(ctx)
	if err != nil {
		return result(start, false, fmt.Sprintf("failed to list targets: %v", err))
	}
	return result(start, true, fmt.Sprintf("%d active targets", n))
}

// Type returns the probe flavor
func (p *TargetsProbe) Type() CheckType {
	return CheckTypeTargets
}
