package checks

import (
	"fmt"
	"time"

	"github.com/serverdensity/sd-agent/internal/config"
)

// InstanceState is one configured instance of a loaded check, with its
// per-instance interval gate.
type InstanceState struct {
	Check    Check
	Instance config.Instance
	Interval time.Duration
	LastRun  time.Time
}

// Due reports whether the instance should run this cycle.
func (s *InstanceState) Due(now time.Time) bool {
	if s.Interval <= 0 {
		return true
	}
	return now.Sub(s.LastRun) >= s.Interval
}

// LoadedCheck is a check name bound to its configured instances.
type LoadedCheck struct {
	Name      string
	Source    string
	Instances []*InstanceState
}

// InitError describes a check that could not be initialized.
type InitError struct {
	Check string
	Err   error
}

func (e InitError) Error() string { return fmt.Sprintf("check %s: %v", e.Check, e.Err) }

// Load binds check configurations to registered factories. Unknown checks and
// instances that fail Configure become InitErrors; they never abort loading
// of the remaining checks.
func Load(configs []config.CheckConfig, agentCfg *config.Config) ([]*LoadedCheck, []InitError) {
	var loaded []*LoadedCheck
	var failures []InitError

	for _, cc := range configs {
		factory, ok := Lookup(cc.Name)
		if !ok {
			failures = append(failures, InitError{Check: cc.Name, Err: fmt.Errorf("no such check")})
			continue
		}

		lc := &LoadedCheck{Name: cc.Name, Source: cc.Source}
		for i, instance := range cc.Instances {
			chk := factory()
			if err := chk.Configure(cc.InitConfig, instance, agentCfg); err != nil {
				failures = append(failures, InitError{Check: cc.Name, Err: fmt.Errorf("instance #%d: %w", i, err)})
				continue
			}
			lc.Instances = append(lc.Instances, &InstanceState{
				Check:    chk,
				Instance: instance,
				Interval: instance.MinCollectionInterval(),
			})
		}
		if len(lc.Instances) > 0 {
			loaded = append(loaded, lc)
		}
	}
	return loaded, failures
}
