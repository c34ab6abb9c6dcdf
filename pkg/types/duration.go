package types

import (
	"fmt"
	"time"

	"github.com/prometheus/common/model"
)

// ParseDuration parses a duration in the daemon's own notation, which adds
// d, w and y units to what time.ParseDuration accepts.
func ParseDuration(s string) (time.Duration, error) {
	d, err := model.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(d), nil
}
