package domain

import (
	"errors"
	"testing"
)

func TestRunCanTransitionTo(t *testing.T) {
	cases := []struct {
		name    string
		from    RunStatus
		to      RunStatus
		wantErr error
	}{
		{"running to prepared", RunRunning, RunPrepared, nil},
		{"running to cancelled", RunRunning, RunCancelled, nil},
		{"prepared to promoted", RunPrepared, RunPromoted, nil},
		{"prepared to cancelled", RunPrepared, RunCancelled, nil},
		{"running to promoted", RunRunning, RunPromoted, ErrInvalidTransition},
		{"prepared to prepared", RunPrepared, RunPrepared, ErrInvalidTransition},
		{"promoted to cancelled", RunPromoted, RunCancelled, ErrRunFinished},
		{"promoted to prepared", RunPromoted, RunPrepared, ErrRunFinished},
		{"cancelled to prepared", RunCancelled, RunPrepared, ErrRunFinished},
		{"cancelled to promoted", RunCancelled, RunPromoted, ErrRunFinished},
		{"running to running", RunRunning, RunRunning, ErrInvalidTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := &EvaluationRun{Status: tc.from}
			err := run.CanTransitionTo(tc.to)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("CanTransitionTo(%s): got %v, want %v", tc.to, err, tc.wantErr)
			}
		})
	}
}

func TestRunIsTerminal(t *testing.T) {
	terminal := map[RunStatus]bool{
		RunRunning:   false,
		RunPrepared:  false,
		RunPromoted:  true,
		RunCancelled: true,
	}
	for status, want := range terminal {
		run := &EvaluationRun{Status: status}
		if got := run.IsTerminal(); got != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestRunCoverage(t *testing.T) {
	cases := []struct {
		name      string
		processed int64
		total     int64
		want      float64
	}{
		{"empty universe is fully covered", 0, 0, 1},
		{"half way", 50, 100, 0.5},
		{"complete", 100, 100, 1},
		{"nothing processed", 0, 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := &EvaluationRun{Processed: tc.processed, TotalReadySnapshot: tc.total}
			if got := run.Coverage(); got != tc.want {
				t.Errorf("Coverage() = %v, want %v", got, tc.want)
			}
		})
	}
}
