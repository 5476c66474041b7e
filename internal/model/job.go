package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job is a scheduled job. Its conditions are OR-combined: the job is due
// when any condition is due.
type Job struct {
	Name       string
	Owner      string
	Path       string
	Disabled   bool
	Conditions []Rule
	UpdatedAt  time.Time
}

// NewJob creates a job after validating every condition
func NewJob(name, owner string, conditions ...Rule) (*Job, error) {
	job := &Job{
		Name:       name,
		Owner:      owner,
		Conditions: conditions,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks the job name and every condition
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job has no name")
	}
	for i, c := range j.Conditions {
		if c == nil {
			return invalidRule("job %s condition %d is empty", j.Name, i)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("job %s condition %d: %w", j.Name, i, err)
		}
	}
	return nil
}

// Clone returns a deep copy
func (j *Job) Clone() *Job {
	c := *j
	c.Conditions = make([]Rule, len(j.Conditions))
	for i, r := range j.Conditions {
		c.Conditions[i] = r.Clone()
	}
	return &c
}

// Dependencies returns the names of jobs this job waits on
func (j *Job) Dependencies() []string {
	var deps []string
	for _, c := range j.Conditions {
		if cr, ok := c.(*CompletionRule); ok {
			deps = append(deps, cr.Job)
		}
	}
	return deps
}

type jobJSON struct {
	Name       string            `json:"name"`
	Owner      string            `json:"owner"`
	Path       string            `json:"path,omitempty"`
	Disabled   bool              `json:"disabled,omitempty"`
	Conditions []json.RawMessage `json:"conditions"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (j *Job) MarshalJSON() ([]byte, error) {
	conds, err := MarshalRules(j.Conditions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jobJSON{
		Name:       j.Name,
		Owner:      j.Owner,
		Path:       j.Path,
		Disabled:   j.Disabled,
		Conditions: conds,
		UpdatedAt:  j.UpdatedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (j *Job) UnmarshalJSON(data []byte) error {
	var raw jobJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	conds, err := UnmarshalRules(raw.Conditions)
	if err != nil {
		return fmt.Errorf("job %s: %w", raw.Name, err)
	}
	*j = Job{
		Name:       raw.Name,
		Owner:      raw.Owner,
		Path:       raw.Path,
		Disabled:   raw.Disabled,
		Conditions: conds,
		UpdatedAt:  raw.UpdatedAt,
	}
	return nil
}
