package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/upwatch/internal/config"
	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/probe"
)

type prober interface {
	Probe(ctx context.Context, target string) monitor.ProbeResult
}

type target struct {
	Name string
	URL  string
}

// executeCheck probes urls when given. Otherwise it probes the stored
// active monitors plus any configured monitor not stored yet.
func executeCheck(cmd *cobra.Command, cfg *config.Config, urls []string, active []monitor.Monitor) error {
	var targets []target
	if len(urls) > 0 {
		for _, u := range urls {
			targets = append(targets, target{Name: u, URL: u})
		}
	} else {
		seen := make(map[string]bool, len(active))
		for _, m := range active {
			seen[m.Name] = true
			targets = append(targets, target{Name: m.Name, URL: m.URL})
		}
		for _, m := range cfg.Monitors {
			if !seen[m.Name] {
				targets = append(targets, target{Name: m.Name, URL: m.URL})
			}
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("nothing to check: pass --url or configure monitors")
	}
	return runChecks(cmd.Context(), cmd.OutOrStdout(), probe.New(probeOptions(cfg.Probe)), targets)
}

// runChecks probes every target concurrently and prints a table. It returns
// an error when any target is down.
func runChecks(ctx context.Context, out io.Writer, p prober, targets []target) error {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]monitor.ProbeResult, len(targets))
	var wg sync.WaitGroup

	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			results[i] = p.Probe(ctx, t.URL)
		}(i, t)
	}
	wg.Wait()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MONITOR\tURL\tSTATUS\tCODE\tRESPONSE\tREASON")
	allUp := true
	for i, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			targets[i].Name,
			targets[i].URL,
			upDown(r.IsUp),
			code(r.StatusCode),
			fmt.Sprintf("%dms", r.ResponseTime),
			r.Reason,
		)
		if !r.IsUp {
			allUp = false
		}
	}
	w.Flush()

	if !allUp {
		return fmt.Errorf("one or more monitors are down")
	}
	return nil
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func code(c int) string {
	if c == 0 {
		return "-"
	}
	return fmt.Sprint(c)
}
