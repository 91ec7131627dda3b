// Package statsd implements the UDP statsd listener. Applications on the
// host push metrics in the dogstatsd line format; samples are aggregated and
// flushed through the forwarder on their own cadence.
package statsd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/serverdensity/sd-agent/internal/aggregator"
)

// Metric is one parsed statsd line.
type Metric struct {
	Name       string
	Value      float64
	StringVal  string // set members keep their raw value
	Type       aggregator.MetricType
	SampleRate float64
	Tags       []string
}

// ParseLine parses one dogstatsd line: name:value|type[|@rate][|#tag1,tag2].
func ParseLine(line string) (Metric, error) {
	m := Metric{SampleRate: 1}

	nameEnd := strings.IndexByte(line, ':')
	if nameEnd <= 0 {
		return m, fmt.Errorf("missing name: %q", line)
	}
	m.Name = line[:nameEnd]

	fields := strings.Split(line[nameEnd+1:], "|")
	if len(fields) < 2 {
		return m, fmt.Errorf("missing type: %q", line)
	}
	rawValue := fields[0]

	switch fields[1] {
	case "g":
		m.Type = aggregator.GaugeType
	case "c":
		m.Type = aggregator.CounterType
	case "ms", "h":
		m.Type = aggregator.HistogramType
	case "s":
		m.Type = aggregator.SetType
	default:
		return m, fmt.Errorf("unknown metric type %q: %q", fields[1], line)
	}

	if m.Type == aggregator.SetType {
		m.StringVal = rawValue
	} else {
		v, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return m, fmt.Errorf("bad value %q: %q", rawValue, line)
		}
		m.Value = v
	}

	for _, extra := range fields[2:] {
		switch {
		case strings.HasPrefix(extra, "@"):
			rate, err := strconv.ParseFloat(extra[1:], 64)
			if err != nil || rate <= 0 || rate > 1 {
				return m, fmt.Errorf("bad sample rate %q: %q", extra, line)
			}
			m.SampleRate = rate
		case strings.HasPrefix(extra, "#"):
			for _, tag := range strings.Split(extra[1:], ",") {
				if tag != "" {
					m.Tags = append(m.Tags, tag)
				}
			}
		default:
			return m, fmt.Errorf("unknown field %q: %q", extra, line)
		}
	}
	return m, nil
}
