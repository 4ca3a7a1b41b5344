package types

import (
	"time"
)

// SimulationStatus reports whether a simulation ran to completion
type SimulationStatus string

const (
	SimulationCompleted   SimulationStatus = "completed"
	SimulationFailedToRun SimulationStatus = "failed-to-run"
)

// SimulationCase is one test case: a request plus the decision it should produce
type SimulationCase struct {
	ID               string             `json:"id,omitempty"`
	Name             string             `json:"name,omitempty"`
	Request          *EvaluationRequest `json:"request"`
	ExpectedDecision Effect             `json:"expectedDecision"`
}

// SimulationCaseResult is the outcome of a single simulation case
type SimulationCaseResult struct {
	CaseID   string `json:"caseId,omitempty"`
	Name     string `json:"name,omitempty"`
	Passed   bool   `json:"passed"`
	Expected Effect `json:"expected"`
	Actual   Effect `json:"actual"`
	Reason   string `json:"reason,omitempty"`
	Diff     string `json:"diff,omitempty"`
}

// SimulationResult aggregates the outcomes of a simulation run
type SimulationResult struct {
	Status      SimulationStatus       `json:"status"`
	TotalTests  int                    `json:"totalTests"`
	PassedTests int                    `json:"passedTests"`
	FailedTests int                    `json:"failedTests"`
	Results     []SimulationCaseResult `json:"results"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
}
