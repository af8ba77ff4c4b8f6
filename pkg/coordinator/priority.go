package coordinator

import (
	"fmt"
	"strings"
)

// Priority orders scheduled reads. Higher tiers always run first; work in
// a lower tier waits while any higher tier is non-empty. The zero value
// is PriorityLow.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical

	numPriorities = 4
)

// String returns the priority name used in logs, metrics and the
// X-Priority request header.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority maps a priority name to its tier, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority %q", s)
	}
}
