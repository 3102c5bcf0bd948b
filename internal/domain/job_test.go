package domain

import (
	"fmt"
	"testing"
	"time"
)

func TestApplyRecomputesProgress(t *testing.T) {
	job := &JobStatus{State: JobRunning}
	now := time.Now()

	job.Apply(JobUpdate{TotalSources: Ptr(8), SourcesProcessed: Ptr(2)}, 10, now)
	if job.ProgressPercentage != 25 {
		t.Fatalf("expected 25%%, got %v", job.ProgressPercentage)
	}

	job.Apply(JobUpdate{CurrentStep: Ptr("merging")}, 10, now)
	if job.ProgressPercentage != 25 || job.Counters.TotalSources != 8 {
		t.Fatalf("untouched fields must be preserved, got %+v", job.Counters)
	}
	if job.CurrentStep != "merging" {
		t.Fatalf("expected step to be merged, got %q", job.CurrentStep)
	}
}

func TestApplyBoundsRetainedErrors(t *testing.T) {
	job := &JobStatus{}
	for i := 0; i < 15; i++ {
		job.Apply(JobUpdate{Errors: []string{fmt.Sprintf("err-%d", i)}}, 10, time.Now())
	}

	if job.Counters.ErrorsCount != 15 {
		t.Fatalf("expected full error count 15, got %d", job.Counters.ErrorsCount)
	}
	if len(job.Errors) != 10 || job.Errors[0] != "err-5" || job.Errors[9] != "err-14" {
		t.Fatalf("expected the 10 most recent errors, got %v", job.Errors)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	job := &JobStatus{Errors: []string{"a"}, CompletedAt: Ptr(time.Now())}
	c := job.Clone()
	c.Errors[0] = "b"
	if job.Errors[0] != "a" {
		t.Fatalf("clone must not share the errors slice")
	}
}
