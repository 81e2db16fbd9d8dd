package daemon

import (
	"testing"

	"github.com/ojdaemon/ojd/internal/oj"
)

func TestBreadcrumbJobIDCoversJobTouchingEvents(t *testing.T) {
	id := oj.NewJobID()
	cases := []oj.Event{
		{Kind: oj.EventJobCreated, JobCreated: &oj.JobCreatedPayload{ID: id}},
		{Kind: oj.EventJobAdvanced, JobAdvanced: &oj.JobAdvancedPayload{ID: id}},
		{Kind: oj.EventJobWaiting, JobWaiting: &oj.JobWaitingPayload{ID: id}},
		{Kind: oj.EventJobResumed, JobResumed: &oj.JobResumedPayload{ID: id}},
		{Kind: oj.EventJobCancelRequested, JobCancelRequested: &oj.JobCancelRequestedPayload{ID: id}},
		{Kind: oj.EventJobCancelled, JobCancelled: &oj.JobRefPayload{ID: id}},
		{Kind: oj.EventJobCompleted, JobCompleted: &oj.JobRefPayload{ID: id}},
		{Kind: oj.EventJobFailed, JobFailed: &oj.JobFailedPayload{ID: id}},
		{Kind: oj.EventJobDeleted, JobDeleted: &oj.JobRefPayload{ID: id}},
		{Kind: oj.EventJobVariableSet, JobVariableSet: &oj.JobVariableSetPayload{ID: id}},
		{Kind: oj.EventStepStarted, StepStarted: &oj.StepStartedPayload{JobID: id}},
		{Kind: oj.EventStepRetried, StepRetried: &oj.StepRetriedPayload{JobID: id}},
	}
	for _, ev := range cases {
		got, ok := breadcrumbJobID(ev)
		if !ok {
			t.Errorf("%s: expected a job id, got none", ev.Kind)
			continue
		}
		if got != id {
			t.Errorf("%s: expected job id %q, got %q", ev.Kind, id, got)
		}
	}
}

func TestBreadcrumbJobIDIgnoresUnrelatedEvents(t *testing.T) {
	if _, ok := breadcrumbJobID(oj.Event{Kind: oj.EventAgentIdle}); ok {
		t.Error("expected no job id for an event breadcrumbs don't track")
	}
}
