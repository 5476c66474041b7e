package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/t77yq/trigger-planner/internal/model"
	"github.com/t77yq/trigger-planner/internal/scheduler"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Inspect and edit completion dependencies",
}

var depsCheckCmd = &cobra.Command{
	Use:   "check [from to]",
	Short: "Check the graph for cycles, or whether from waiting on to would close one",
	Args:  cobra.RangeArgs(0, 2),
	RunE:  runDepsCheck,
}

var depsAddCmd = &cobra.Command{
	Use:   "add <job> <dependency>",
	Short: "Make job fire when dependency completes",
	Long: `Add a completion condition to job. The edit is rejected, and the job
left as it was, if it would close a dependency cycle.`,
	Args: cobra.ExactArgs(2),
	RunE: runDepsAdd,
}

var depsDependentsCmd = &cobra.Command{
	Use:   "dependents <job>",
	Short: "List the jobs that fire when job completes",
	Args:  cobra.ExactArgs(1),
	RunE:  runDepsDependents,
}

func init() {
	depsCmd.AddCommand(depsCheckCmd)
	depsCmd.AddCommand(depsAddCmd)
	depsCmd.AddCommand(depsDependentsCmd)
}

func runDepsAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	rule := &model.CompletionRule{Job: args[1]}
	if err := a.service.AddCondition(cmd.Context(), principal, args[0], rule); err != nil {
		return describeError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s now fires when %s completes\n", args[0], args[1])
	return nil
}

func runDepsCheck(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return fmt.Errorf("check takes no arguments or both from and to")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	if len(args) == 2 {
		edge := scheduler.Edge{From: args[0], To: args[1]}
		cyclic, err := a.service.CheckCycle(cmd.Context(), edge)
		if err != nil {
			return err
		}
		if cyclic {
			fmt.Fprintf(out, "%s -> %s would create a cycle\n", edge.From, edge.To)
		} else {
			fmt.Fprintf(out, "%s -> %s is safe\n", edge.From, edge.To)
		}
		return nil
	}

	jobs, err := a.store.List(cmd.Context())
	if err != nil {
		return err
	}
	if cycle := scheduler.NewDependencyGraph(jobs).FindCycle(); cycle != nil {
		return fmt.Errorf("%w: %s", scheduler.ErrCircularDependency, strings.Join(cycle, " -> "))
	}
	fmt.Fprintf(out, "%d jobs, no cycles\n", len(jobs))
	return nil
}

func runDepsDependents(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	dependents, err := a.service.CompletionDependents(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, name := range dependents {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
