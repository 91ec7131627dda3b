package emitter

import (
	"encoding/json"
	"fmt"

	"github.com/serverdensity/sd-agent/internal/aggregator"
)

// MetricsKey is the payload key the collector stores flushed samples under.
const MetricsKey = "metrics"

// Split separates the metric samples out of a collector payload into the
// series form the intake API expects. The returned main payload shares the
// remaining keys with the input.
func Split(payload map[string]any) (main map[string]any, series map[string]any) {
	main = make(map[string]any, len(payload))
	for k, v := range payload {
		if k == MetricsKey {
			continue
		}
		main[k] = v
	}

	samples, _ := payload[MetricsKey].([]aggregator.Sample)
	if len(samples) == 0 {
		return main, nil
	}

	hostname, _ := payload["internalHostname"].(string)
	entries := make([]map[string]any, 0, len(samples))
	for _, s := range samples {
		entry := map[string]any{
			"metric":           s.Metric,
			"points":           [][2]any{{s.Timestamp, s.Value}},
			"type":             s.Type,
			"host":             hostname,
			"source_type_name": "System",
		}
		if s.Hostname != "" {
			entry["host"] = s.Hostname
		}
		if len(s.Tags) > 0 {
			entry["tags"] = s.Tags
		}
		if s.DeviceName != "" {
			entry["device"] = s.DeviceName
		}
		entries = append(entries, entry)
	}
	return main, map[string]any{"series": entries}
}

// Encode serializes a payload for the wire, stripping control characters
// that the intake API rejects.
func Encode(payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return Sanitize(body), nil
}
