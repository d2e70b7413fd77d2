package domain

import (
	"testing"
)

func TestJobStatusRankOrdering(t *testing.T) {
	if !(JobPending.Rank() < JobInProgress.Rank()) {
		t.Errorf("pending must rank below in_progress")
	}
	if !(JobInProgress.Rank() < JobCompleted.Rank()) {
		t.Errorf("in_progress must rank below completed")
	}
	if JobCompleted.Rank() != JobFailed.Rank() {
		t.Errorf("terminal states must share a rank, got %d vs %d", JobCompleted.Rank(), JobFailed.Rank())
	}
	if JobStatus("bogus").Rank() != -1 {
		t.Errorf("unknown status must rank -1")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobPending, false},
		{JobInProgress, false},
		{JobCompleted, true},
		{JobFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if tt.status.Terminal() != tt.terminal {
				t.Errorf("Terminal(%s) = %v, want %v", tt.status, tt.status.Terminal(), tt.terminal)
			}
		})
	}
}

func TestJobStatusWebhookCode(t *testing.T) {
	// Wire contract with the tenant platform; the integers are fixed.
	tests := []struct {
		status JobStatus
		code   int
	}{
		{JobPending, 0},
		{JobInProgress, 1},
		{JobCompleted, 2},
		{JobFailed, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.WebhookCode(); got != tt.code {
				t.Errorf("WebhookCode(%s) = %d, want %d", tt.status, got, tt.code)
			}
		})
	}
}

func TestJobStatusValid(t *testing.T) {
	for _, s := range []JobStatus{JobPending, JobInProgress, JobCompleted, JobFailed} {
		if !s.Valid() {
			t.Errorf("%s must be valid", s)
		}
	}
	if JobStatus("done").Valid() {
		t.Errorf("unknown status must not be valid")
	}
}
