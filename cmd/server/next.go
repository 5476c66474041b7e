package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var nextCmd = &cobra.Command{
	Use:   "next <job>",
	Short: "Show when a job fires next",
	Args:  cobra.ExactArgs(1),
	RunE:  runNext,
}

func runNext(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	name := args[0]
	next, idx, ok, err := a.service.NextFireTime(cmd.Context(), name)
	if err != nil {
		return describeError(err)
	}

	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintf(out, "%s has no upcoming time-based trigger\n", name)
		return nil
	}

	job, err := a.store.Get(cmd.Context(), name)
	if err != nil {
		return describeError(err)
	}
	label := fmt.Sprintf("condition %d", idx)
	if idx < len(job.Conditions) {
		label = job.Conditions[idx].Label()
	}
	fmt.Fprintf(out, "%s fires at %s (%s)\n", name, next.In(cfg.Location).Format(time.RFC3339), label)
	return nil
}
