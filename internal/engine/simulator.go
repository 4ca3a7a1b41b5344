package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/secretshub/policy-core/internal/cel"
	"github.com/secretshub/policy-core/internal/metrics"
	"github.com/secretshub/policy-core/pkg/types"
)

// Simulator runs batches of test cases against a supplied policy set.
// It never reads the live store, never writes version records, and never
// touches the decision cache: a simulation is a pure dry run.
type Simulator struct {
	matcher    *Matcher
	conditions *cel.Engine
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewSimulator creates a new policy simulator
func NewSimulator(m *metrics.Metrics, logger *zap.Logger) (*Simulator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conditions, err := cel.NewEngine()
	if err != nil {
		return nil, err
	}

	return &Simulator{
		matcher:    NewMatcher(),
		conditions: conditions,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Run evaluates every test case against the supplied policy set and reports
// per-case pass/fail plus summary counts
func (s *Simulator) Run(ctx context.Context, policySet []*types.Policy, cases []types.SimulationCase) *types.SimulationResult {
	result := &types.SimulationResult{
		Status:    types.SimulationCompleted,
		Results:   make([]types.SimulationCaseResult, 0, len(cases)),
		StartedAt: time.Now(),
	}

	for _, tc := range cases {
		select {
		case <-ctx.Done():
			result.Status = types.SimulationFailedToRun
			result.Error = ctx.Err().Error()
			result.CompletedAt = time.Now()
			return result
		default:
		}

		caseResult := s.runCase(policySet, tc)
		result.Results = append(result.Results, caseResult)

		result.TotalTests++
		if caseResult.Passed {
			result.PassedTests++
		} else {
			result.FailedTests++
		}
	}

	result.CompletedAt = time.Now()
	s.metrics.RecordSimulation(result.PassedTests, result.FailedTests)

	s.logger.Debug("simulation completed",
		zap.Int("total", result.TotalTests),
		zap.Int("passed", result.PassedTests),
		zap.Int("failed", result.FailedTests),
	)

	return result
}

// runCase evaluates a single test case against the supplied set
func (s *Simulator) runCase(policySet []*types.Policy, tc types.SimulationCase) types.SimulationCaseResult {
	caseResult := types.SimulationCaseResult{
		CaseID:   tc.ID,
		Name:     tc.Name,
		Expected: tc.ExpectedDecision,
	}

	if tc.Request == nil || tc.Request.Action == "" || tc.Request.Resource == nil {
		caseResult.Passed = false
		caseResult.Diff = "test case request requires an action and a resource"
		return caseResult
	}

	matched := matchSet(s.matcher, s.conditions, policySet, tc.Request)
	decision := resolve(tc.Request, matched)

	caseResult.Actual = decision.Decision
	caseResult.Reason = decision.Reason
	caseResult.Passed = decision.Decision == tc.ExpectedDecision
	if !caseResult.Passed {
		caseResult.Diff = fmt.Sprintf("expected %s, got %s (%s)", tc.ExpectedDecision, decision.Decision, decision.Reason)
	}

	return caseResult
}
