package status

import (
	"fmt"
	"io"
	"time"
)

// Render writes a human-readable status report. A snapshot older than twice
// the check frequency means the agent has stopped reporting.
func (s *CollectorStatus) Render(w io.Writer, checkFreq time.Duration, now time.Time) {
	fmt.Fprintf(w, "Server Density Agent v%s\n", s.AgentVersion)
	fmt.Fprintf(w, "  Pid: %d\n", s.Pid)
	fmt.Fprintf(w, "  Hostname: %s\n", s.Hostname)
	fmt.Fprintf(w, "  Collection runs: %d\n", s.RunCount)

	if s.LastRun.IsZero() {
		fmt.Fprintln(w, "  Last run: never")
	} else {
		age := now.Sub(s.LastRun).Round(time.Second)
		fmt.Fprintf(w, "  Last run: %s ago (took %s)\n", age, s.LastDuration.Round(time.Millisecond))
		if checkFreq > 0 && age > 2*checkFreq {
			fmt.Fprintf(w, "  WARNING: no collection for %s, agent may be stuck\n", age)
		}
	}

	if len(s.InitErrors) > 0 {
		fmt.Fprintln(w, "\nInitialization errors")
		for _, e := range s.InitErrors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	if len(s.Checks) > 0 {
		fmt.Fprintln(w, "\nChecks")
		for _, c := range s.Checks {
			fmt.Fprintf(w, "  %s (%s)\n", c.Name, c.Source)
			for _, inst := range c.Instances {
				switch {
				case inst.Error != "":
					fmt.Fprintf(w, "    instance #%d: ERROR %s\n", inst.Instance, inst.Error)
				case len(inst.Warnings) > 0:
					fmt.Fprintf(w, "    instance #%d: OK, %d metrics, %d warnings\n",
						inst.Instance, inst.Metrics, len(inst.Warnings))
					for _, warn := range inst.Warnings {
						fmt.Fprintf(w, "      warning: %s\n", warn)
					}
				default:
					fmt.Fprintf(w, "    instance #%d: OK, %d metrics\n", inst.Instance, inst.Metrics)
				}
			}
		}
	}

	if len(s.Emitters) > 0 {
		fmt.Fprintln(w, "\nEmitters")
		for _, e := range s.Emitters {
			fmt.Fprintf(w, "  %s: %d sent, %d failed", e.Name, e.Sent, e.Failures)
			if e.LastError != "" {
				fmt.Fprintf(w, ", last error: %s", e.LastError)
			}
			fmt.Fprintln(w)
		}
	}
}
