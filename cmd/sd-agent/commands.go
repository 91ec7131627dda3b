package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/serverdensity/sd-agent/internal/aggregator"
	"github.com/serverdensity/sd-agent/internal/checks"
	"github.com/serverdensity/sd-agent/internal/collector"
	"github.com/serverdensity/sd-agent/internal/config"
	"github.com/serverdensity/sd-agent/internal/status"
)

// runSingleCheck runs every configured instance of one check and prints the
// samples and service checks it produced.
func runSingleCheck(cfg *config.Config, name string) error {
	hostname, err := collector.ResolveHostname(cfg)
	if err != nil {
		return err
	}

	configs, errs := config.LoadCheckConfigs(cfg.ConfdPath)
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	var target *config.CheckConfig
	for i := range configs {
		if configs[i].Name == name {
			target = &configs[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no configuration for check %q in %s (registered checks: %v)",
			name, cfg.ConfdPath, checks.RegisteredNames())
	}

	loaded, initErrors := checks.Load([]config.CheckConfig{*target}, cfg)
	for _, ie := range initErrors {
		fmt.Fprintf(os.Stderr, "init error: %v\n", ie)
	}
	if len(loaded) == 0 {
		return fmt.Errorf("check %q has no runnable instances", name)
	}

	agg := aggregator.New(aggregator.Options{
		Hostname: hostname,
		Interval: cfg.CheckFreq.Duration(),
	})

	for _, lc := range loaded {
		for i, inst := range lc.Instances {
			sender := checks.NewAggregatorSender(agg, hostname)
			start := time.Now()
			err := inst.Check.Run(sender)
			elapsed := time.Since(start)

			fmt.Printf("=== %s instance #%d (%s)\n", lc.Name, i, elapsed.Round(time.Millisecond))
			if err != nil {
				fmt.Printf("  ERROR: %v\n", err)
			}
			for _, w := range sender.DrainWarnings() {
				fmt.Printf("  warning: %s\n", w)
			}
			for _, sc := range sender.DrainServiceChecks() {
				fmt.Printf("  service check %s: %s %s\n", sc.Check, sc.Status, sc.Message)
			}
		}
	}

	samples := agg.Flush()
	fmt.Printf("\n%d metrics:\n", len(samples))
	for _, s := range samples {
		fmt.Printf("  %s = %v (%s) tags=%v\n", s.Metric, s.Value, s.Type, s.Tags)
	}
	return nil
}

// runConfigCheck validates the main config and every conf.d file.
func runConfigCheck(cfg *config.Config) error {
	failed := false

	if err := cfg.Validate(); err != nil {
		fmt.Printf("config: ERROR %v\n", err)
		failed = true
	} else {
		fmt.Println("config: OK")
	}

	configs, errs := config.LoadCheckConfigs(cfg.ConfdPath)
	for _, err := range errs {
		fmt.Printf("conf.d: ERROR %v\n", err)
		failed = true
	}

	registered := map[string]bool{}
	for _, name := range checks.RegisteredNames() {
		registered[name] = true
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	for _, cc := range configs {
		if !registered[cc.Name] {
			fmt.Printf("conf.d: WARNING %s.yaml does not match any bundled check\n", cc.Name)
			continue
		}
		fmt.Printf("conf.d: %s OK (%d instances)\n", cc.Name, len(cc.Instances))
	}

	templates, err := config.LoadAutoConfTemplates(cfg.ConfdPath)
	if err != nil {
		fmt.Printf("auto_conf: ERROR %v\n", err)
		failed = true
	} else if len(templates) > 0 {
		fmt.Printf("auto_conf: %d templates\n", len(templates))
	}

	if failed {
		return fmt.Errorf("configuration has errors")
	}
	return nil
}

// runStatus renders the snapshot the running daemon last persisted.
func runStatus(cfg *config.Config) error {
	st, err := status.Load(cfg.RunPath)
	if err != nil {
		return fmt.Errorf("no status found in %s, is the agent running? (%w)", cfg.RunPath, err)
	}
	st.Render(os.Stdout, cfg.CheckFreq.Duration(), time.Now())
	return nil
}
