package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/status"
)

type statusStore interface {
	status.Store
	ListActive(ctx context.Context) ([]monitor.Monitor, error)
	LatestAll(ctx context.Context) ([]monitor.ProbeResult, error)
}

func executeStatus(cmd *cobra.Command, db statusStore, window time.Duration) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	monitors, err := db.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing monitors: %w", err)
	}
	if len(monitors) == 0 {
		fmt.Fprintln(out, "No active monitors. Add some to the config file or via the API.")
		return nil
	}
	latest, err := db.LatestAll(ctx)
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}
	byID := make(map[string]monitor.ProbeResult, len(latest))
	for _, r := range latest {
		byID[r.MonitorID] = r
	}

	agg := status.New(db, nil, nil)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "MONITOR\tURL\tSTATUS\tRESPONSE\tUPTIME (%s)\tLAST CHECKED\tREASON\n", window)
	for _, m := range monitors {
		r, checked := byID[m.ID]
		state, resp, last := "unknown", "-", "never"
		if checked {
			state = upDown(r.IsUp)
			resp = fmt.Sprintf("%dms", r.ResponseTime)
			last = r.Timestamp.Local().Format("2006-01-02 15:04:05")
		}

		uptime := "-"
		ratio, ok, err := agg.UptimeRatio(ctx, m.ID, window)
		if err != nil {
			return err
		}
		if ok {
			uptime = fmt.Sprintf("%.1f%%", ratio*100)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Name, m.URL, state, resp, uptime, last, r.Reason,
		)
	}
	w.Flush()
	return nil
}
