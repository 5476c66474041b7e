package model

import (
	"time"
)

// Window is a same-day span of wall-clock time, End exclusive
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Duration returns End minus Start; non-positive for empty or wrapping windows
func (w Window) Duration() time.Duration {
	return w.End.Offset() - w.Start.Offset()
}

// Assignment moves one periodic condition of a job to a new trigger time
type Assignment struct {
	Job       string `json:"job"`
	Condition int    `json:"condition"`
	// Previous is the condition as planned against; Rule is its replacement.
	Previous Rule      `json:"-"`
	Rule     Rule      `json:"-"`
	From     TimeOfDay `json:"from"`
	To       TimeOfDay `json:"to"`
}

// RedistributionPlan is the result of spreading trigger times over a window
type RedistributionPlan struct {
	Window      Window        `json:"window"`
	Count       int           `json:"count"`
	Concurrency int           `json:"concurrency"`
	Interval    time.Duration `json:"interval"`
	Assignments []Assignment  `json:"assignments"`
}

// Empty reports whether the plan touches nothing
func (p *RedistributionPlan) Empty() bool {
	return p == nil || len(p.Assignments) == 0
}

// ByJob groups assignments per job, preserving plan order
func (p *RedistributionPlan) ByJob() map[string][]Assignment {
	out := make(map[string][]Assignment)
	if p == nil {
		return out
	}
	for _, a := range p.Assignments {
		out[a.Job] = append(out[a.Job], a)
	}
	return out
}

// Jobs returns the touched job names in plan order
func (p *RedistributionPlan) Jobs() []string {
	if p == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, a := range p.Assignments {
		if !seen[a.Job] {
			seen[a.Job] = true
			names = append(names, a.Job)
		}
	}
	return names
}

// TriggerTimes maps each touched job to its new trigger times
func (p *RedistributionPlan) TriggerTimes() map[string][]TimeOfDay {
	out := make(map[string][]TimeOfDay)
	if p == nil {
		return out
	}
	for _, a := range p.Assignments {
		out[a.Job] = append(out[a.Job], a.To)
	}
	return out
}
