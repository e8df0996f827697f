package services

import (
	"sort"
	"strings"
	"time"
)

// Clock returns the current instant. Services default to UTC wall time.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// sortedIDs deduplicates values and returns them in ascending order.
func sortedIDs(values []string) []string {
	out := normaliseIDs(values)
	sort.Strings(out)
	return out
}

func defaultIfEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func timePtr(t time.Time) *time.Time {
	return &t
}
