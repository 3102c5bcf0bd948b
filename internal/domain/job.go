package domain

import (
	"encoding/json"
	"time"
)

type JobKind string

const (
	JobFullExtraction        JobKind = "full_extraction"
	JobIncrementalExtraction JobKind = "incremental_extraction"
	JobRescoring             JobKind = "rescoring"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobFullExtraction, JobIncrementalExtraction, JobRescoring:
		return true
	}
	return false
}

type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobError     JobState = "error"
	JobCancelled JobState = "cancelled"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobError || s == JobCancelled
}

type JobCounters struct {
	SourcesProcessed  int `json:"sources_processed"`
	TotalSources      int `json:"total_sources"`
	EntitiesProcessed int `json:"entities_processed"`
	EntitiesSaved     int `json:"entities_saved"`
	NewEntities       int `json:"new_entities"`
	UpdatedEntities   int `json:"updated_entities"`
	ErrorsCount       int `json:"errors_count"`
}

// JobStatus is one orchestrator run. At most one record is running at a time.
type JobStatus struct {
	ID                 string          `json:"id"`
	Kind               JobKind         `json:"kind"`
	State              JobState        `json:"state"`
	ProgressPercentage float64         `json:"progress_percentage"`
	CurrentStep        string          `json:"current_step"`
	CurrentSource      string          `json:"current_source,omitempty"`
	Counters           JobCounters     `json:"counters"`
	Errors             []string        `json:"errors,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	Result             json.RawMessage `json:"result,omitempty"`
	Cancellable        bool            `json:"cancellable"`
	CancelRequested    bool            `json:"cancel_requested"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	LastUpdate         time.Time       `json:"last_update"`
}

// Clone returns a deep copy safe to hand out of the orchestrator.
func (j *JobStatus) Clone() *JobStatus {
	if j == nil {
		return nil
	}
	c := *j
	if j.Errors != nil {
		c.Errors = append([]string(nil), j.Errors...)
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// JobUpdate is a partial progress report. Nil fields are left untouched.
type JobUpdate struct {
	CurrentStep       *string
	CurrentSource     *string
	SourcesProcessed  *int
	TotalSources      *int
	EntitiesProcessed *int
	EntitiesSaved     *int
	NewEntities       *int
	UpdatedEntities   *int
	Errors            []string
}

// Apply merges u into j and recomputes the progress percentage.
func (j *JobStatus) Apply(u JobUpdate, maxErrors int, now time.Time) {
	if u.CurrentStep != nil {
		j.CurrentStep = *u.CurrentStep
	}
	if u.CurrentSource != nil {
		j.CurrentSource = *u.CurrentSource
	}
	if u.SourcesProcessed != nil {
		j.Counters.SourcesProcessed = *u.SourcesProcessed
	}
	if u.TotalSources != nil {
		j.Counters.TotalSources = *u.TotalSources
	}
	if u.EntitiesProcessed != nil {
		j.Counters.EntitiesProcessed = *u.EntitiesProcessed
	}
	if u.EntitiesSaved != nil {
		j.Counters.EntitiesSaved = *u.EntitiesSaved
	}
	if u.NewEntities != nil {
		j.Counters.NewEntities = *u.NewEntities
	}
	if u.UpdatedEntities != nil {
		j.Counters.UpdatedEntities = *u.UpdatedEntities
	}
	if len(u.Errors) > 0 {
		j.Counters.ErrorsCount += len(u.Errors)
		j.Errors = append(j.Errors, u.Errors...)
		if maxErrors > 0 && len(j.Errors) > maxErrors {
			j.Errors = append([]string(nil), j.Errors[len(j.Errors)-maxErrors:]...)
		}
	}

	if j.Counters.TotalSources > 0 {
		pct := float64(j.Counters.SourcesProcessed) / float64(j.Counters.TotalSources) * 100
		if pct > 100 {
			pct = 100
		}
		j.ProgressPercentage = pct
	}
	j.LastUpdate = now
}

// JobSummary is the result payload a processor hands back on completion.
type JobSummary map[string]any

func Ptr[T any](v T) *T {
	return &v
}
