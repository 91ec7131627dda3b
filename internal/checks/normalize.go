package checks

import (
	"regexp"
	"sort"
	"strings"
)

var (
	illegalChars    = regexp.MustCompile(`[,@+*\-/()\[\]{}\s]`)
	repeatedUnders  = regexp.MustCompile(`__+`)
	dotUnderJoins   = regexp.MustCompile(`_*\._*`)
	leadingTrailing = regexp.MustCompile(`^_+|_+$`)
)

// NormalizeMetricName turns an arbitrary metric name into a well-formed
// dotted name: illegal characters become underscores, runs collapse, and
// underscores never neighbor a dot.
func NormalizeMetricName(metric string) string {
	name := illegalChars.ReplaceAllString(metric, "_")
	name = repeatedUnders.ReplaceAllString(name, "_")
	name = dotUnderJoins.ReplaceAllString(name, ".")
	return leadingTrailing.ReplaceAllString(name, "")
}

// NormalizeDeviceName lowercases and underscores a device name.
func NormalizeDeviceName(device string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(device)), " ", "_")
}

func sortedUnique(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
