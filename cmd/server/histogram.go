package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/t77yq/trigger-planner/internal/model"
)

var (
	histogramScope string
	histogramDay   string
	histogramHour  int
	histogramJSON  bool
)

var histogramCmd = &cobra.Command{
	Use:   "histogram",
	Short: "Show how triggers are spread over the week",
	Long: `Show trigger load per weekday (--scope week), per hour of one weekday
(--scope day --day tue) or per sub-hour slot of one hour (--scope hour
--day tue --hour 9). Hard triggers fire at a fixed time; soft triggers are
spread over a window.`,
	RunE: runHistogram,
}

func init() {
	histogramCmd.Flags().StringVar(&histogramScope, "scope", "week", "week, day or hour")
	histogramCmd.Flags().StringVar(&histogramDay, "day", "mon", "weekday for day and hour scopes")
	histogramCmd.Flags().IntVar(&histogramHour, "hour", 0, "hour for the hour scope")
	histogramCmd.Flags().BoolVar(&histogramJSON, "json", false, "print buckets as JSON")
}

func runHistogram(cmd *cobra.Command, args []string) error {
	scope, err := parseScope(histogramScope, histogramDay, histogramHour)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	buckets, err := a.service.Histogram(cmd.Context(), principal, scope)
	if err != nil {
		return describeError(err)
	}

	out := cmd.OutOrStdout()
	if histogramJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(buckets)
	}

	data := pterm.TableData{{"Slot", "Hard", "Soft", "Total"}}
	for _, b := range buckets {
		data = append(data, []string{
			bucketLabel(scope, b.Index),
			strconv.Itoa(b.HardCount),
			strconv.Itoa(b.SoftCount),
			strconv.Itoa(b.Total()),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, table)
	return nil
}

func parseScope(level, day string, hour int) (model.Scope, error) {
	var scope model.Scope
	switch strings.ToLower(level) {
	case "week":
		return model.WeekScope(), nil
	case "day", "hour":
		wd, err := parseWeekday(day)
		if err != nil {
			return scope, err
		}
		if strings.ToLower(level) == "day" {
			scope = model.DayScope(wd)
		} else {
			scope = model.HourScope(wd, hour)
		}
	default:
		return scope, fmt.Errorf("unknown scope %q: want week, day or hour", level)
	}
	return scope, scope.Validate()
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || (len(s) >= 3 && strings.HasPrefix(name, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func bucketLabel(scope model.Scope, index int) string {
	switch scope.Level {
	case model.ScopeDay:
		return fmt.Sprintf("%02d:00", index)
	case model.ScopeHour:
		return fmt.Sprintf("%02d:%02d", scope.Hour, index*cfg.Histogram.BucketMinutes)
	default:
		return time.Weekday(index).String()
	}
}
