package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/t77yq/trigger-planner/internal/model"
	"github.com/t77yq/trigger-planner/internal/monitor"
)

var (
	rebalanceStart  string
	rebalanceEnd    string
	rebalanceMax    int
	rebalanceDryRun bool
	rebalanceJSON   bool
)

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Spread periodic trigger times across a window",
	Long: `Assign evenly spaced trigger times inside [--start, --end) to every
periodic condition of the enabled jobs. Once-only and completion conditions
are never moved. With --dry-run the plan is printed and nothing is written.`,
	RunE: runRebalance,
}

func init() {
	rebalanceCmd.Flags().StringVar(&rebalanceStart, "start", "", "window start HH:MM (default rebalance.window_start)")
	rebalanceCmd.Flags().StringVar(&rebalanceEnd, "end", "", "window end HH:MM (default rebalance.window_end)")
	rebalanceCmd.Flags().IntVar(&rebalanceMax, "max", 0, "maximum concurrency (default rebalance.max_concurrency)")
	rebalanceCmd.Flags().BoolVar(&rebalanceDryRun, "dry-run", false, "print the plan without applying it")
	rebalanceCmd.Flags().BoolVar(&rebalanceJSON, "json", false, "print the plan as JSON")
}

func runRebalance(cmd *cobra.Command, args []string) error {
	window := cfg.Rebalance.Window
	var err error
	if rebalanceStart != "" {
		if window.Start, err = model.ParseTimeOfDay(rebalanceStart); err != nil {
			return err
		}
	}
	if rebalanceEnd != "" {
		if window.End, err = model.ParseTimeOfDay(rebalanceEnd); err != nil {
			return err
		}
	}
	maxConcurrency := rebalanceMax
	if maxConcurrency <= 0 {
		maxConcurrency = monitor.DefaultConcurrency(cfg.Rebalance.MaxConcurrency, logger)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	var plan *model.RedistributionPlan
	if rebalanceDryRun {
		plan, err = a.service.PlanRebalance(cmd.Context(), window, maxConcurrency)
	} else {
		plan, err = a.service.Rebalance(cmd.Context(), principal, window, maxConcurrency)
	}
	if plan != nil {
		if perr := printPlan(cmd, plan); perr != nil {
			return perr
		}
	}
	return describeError(err)
}

func printPlan(cmd *cobra.Command, plan *model.RedistributionPlan) error {
	out := cmd.OutOrStdout()
	if rebalanceJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	fmt.Fprintf(out, "window %s-%s: %d periodic conditions, %d lanes, interval %s\n",
		plan.Window.Start, plan.Window.End, plan.Count, plan.Concurrency, plan.Interval)
	if plan.Empty() {
		fmt.Fprintln(out, "nothing to move")
		return nil
	}

	data := pterm.TableData{{"Job", "Condition", "From", "To"}}
	for _, a := range plan.Assignments {
		data = append(data, []string{a.Job, strconv.Itoa(a.Condition), a.From.String(), a.To.String()})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, table)
	return nil
}
