package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/trigger-planner/internal/model"
	"github.com/t77yq/trigger-planner/internal/recurrence"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage stored jobs",
}

var jobsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import or replace jobs from a JSON or YAML list",
	Long: `Import jobs from a JSON array, or a YAML list when the file ends in
.yaml or .yml. Every job is validated and the combined dependency graph of
stored and imported jobs must stay acyclic; otherwise nothing is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsImport,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored jobs with their next fire time",
	RunE:  runJobsList,
}

func init() {
	jobsCmd.AddCommand(jobsImportCmd)
	jobsCmd.AddCommand(jobsListCmd)
}

func runJobsImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	imported, err := decodeJobs(args[0], data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.ImportJobs(cmd.Context(), principal, imported); err != nil {
		return describeError(err)
	}
	logger.Info("Imported jobs", zap.Int("count", len(imported)), zap.String("file", args[0]))
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d jobs\n", len(imported))
	return nil
}

// decodeJobs reads a job list. YAML documents are converted to the JSON form
// so both share the rule envelope decoding.
func decodeJobs(path string, data []byte) ([]*model.Job, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc []interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		data = converted
	}
	var jobs []*model.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	jobs, err := a.store.List(cmd.Context())
	if err != nil {
		return err
	}

	evaluator := recurrence.NewEvaluator(nil, cfg.Location)
	now := time.Now()
	data := pterm.TableData{{"Job", "Owner", "State", "Conditions", "Cron", "Next"}}
	for _, job := range jobs {
		state := "enabled"
		if job.Disabled {
			state = "disabled"
		}
		labels := make([]string, len(job.Conditions))
		for i, c := range job.Conditions {
			labels[i] = c.Label()
		}
		crons := cronColumn(job.Conditions)
		next := "-"
		if at, _, ok := evaluator.JobNextFireTime(job, now); ok {
			next = at.In(cfg.Location).Format(time.RFC3339)
		}
		data = append(data, []string{job.Name, job.Owner, state, strings.Join(labels, "; "), crons, next})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), table)
	return nil
}

// cronColumn lists the cron form of each condition, "-" where there is none
func cronColumn(conditions []model.Rule) string {
	out := make([]string, len(conditions))
	for i, c := range conditions {
		expr, ok := model.CronExpression(c)
		if !ok {
			expr = "-"
		}
		out[i] = expr
	}
	return strings.Join(out, "; ")
}
