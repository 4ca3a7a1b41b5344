// Package engine provides the core decision engine for policy authorization
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/secretshub/policy-core/internal/cache"
	"github.com/secretshub/policy-core/internal/cel"
	"github.com/secretshub/policy-core/internal/metrics"
	"github.com/secretshub/policy-core/internal/policy"
	"github.com/secretshub/policy-core/pkg/types"
)

// ReasonNoMatch is the decision reason when no active policy applies. The
// engine defaults open in that case; this is a documented product decision,
// not an implementation fallback.
const ReasonNoMatch = "no restrictive policies matched"

// Evaluator is the policy decision engine. Evaluation is deterministic and
// side-effect free; the only external reads are the policy store lookups.
type Evaluator struct {
	store      policy.Store
	matcher    *Matcher
	conditions *cel.Engine
	cache      cache.Cache
	metrics    *metrics.Metrics
	workerPool *WorkerPool
	logger     *zap.Logger

	config Config
}

// Config configures the decision engine
type Config struct {
	// CacheEnabled enables caching of decisions
	CacheEnabled bool
	// CacheSize is the maximum number of cached entries (LRU backend)
	CacheSize int
	// CacheTTL is the time-to-live for cached entries
	CacheTTL time.Duration
	// Cache overrides the default LRU backend when set (e.g. Redis)
	Cache cache.Cache
	// ParallelWorkers is the number of workers for batch evaluation
	ParallelWorkers int
	// Metrics receives evaluation metrics when set
	Metrics *metrics.Metrics
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		CacheEnabled:    true,
		CacheSize:       100000,
		CacheTTL:        5 * time.Minute,
		ParallelWorkers: 16,
	}
}

// New creates a new decision engine
func New(cfg Config, store policy.Store, logger *zap.Logger) (*Evaluator, error) {
	if store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conditions, err := cel.NewEngine()
	if err != nil {
		return nil, err
	}

	var c cache.Cache
	if cfg.CacheEnabled {
		if cfg.Cache != nil {
			c = cfg.Cache
		} else {
			c = cache.NewLRU(cfg.CacheSize, cfg.CacheTTL)
		}
	}

	return &Evaluator{
		store:      store,
		matcher:    NewMatcher(),
		conditions: conditions,
		cache:      c,
		metrics:    cfg.Metrics,
		workerPool: NewWorkerPool(cfg.ParallelWorkers),
		logger:     logger,
		config:     cfg,
	}, nil
}

// Evaluate decides a single request against the active policy set.
//
// Resolution order is fixed: any matching deny policy wins; otherwise any
// matching allow policy wins; otherwise the decision is allow with an empty
// applied set (default-open posture, see ReasonNoMatch).
func (e *Evaluator) Evaluate(ctx context.Context, req *types.EvaluationRequest) (*types.Decision, error) {
	start := time.Now()

	if req == nil || req.Action == "" || req.Resource == nil {
		return nil, fmt.Errorf("evaluation request requires an action and a resource")
	}

	if e.cache != nil {
		if cached, ok := e.cache.Get(req.CacheKey()); ok {
			e.metrics.RecordDecision(cached.Decision, time.Since(start), true)
			return cached, nil
		}
	}

	candidates, err := e.store.FindCandidates(req.Resource.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidate policies: %w", err)
	}

	matched := matchSet(e.matcher, e.conditions, candidates, req)
	decision := resolve(req, matched)

	if e.cache != nil {
		e.cache.Set(req.CacheKey(), decision)
	}
	e.metrics.RecordDecision(decision.Decision, time.Since(start), false)

	e.logger.Debug("policy decision",
		zap.String("request_id", req.RequestID),
		zap.String("action", req.Action),
		zap.String("resource_type", req.Resource.Type),
		zap.String("decision", string(decision.Decision)),
		zap.Int("applied_policies", len(decision.AppliedPolicies)),
	)

	return decision, nil
}

// EvaluateBatch evaluates multiple requests concurrently on the worker pool
func (e *Evaluator) EvaluateBatch(ctx context.Context, requests []*types.EvaluationRequest) ([]*types.Decision, error) {
	decisions := make([]*types.Decision, len(requests))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, req := range requests {
		wg.Add(1)
		i, req := i, req

		e.workerPool.Submit(func() {
			defer wg.Done()

			decision, err := e.Evaluate(ctx, req)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			decisions[i] = decision
		})
	}

	wg.Wait()
	return decisions, firstErr
}

// matchSet runs full matching (targets, rules, conditions) over a candidate set
func matchSet(matcher *Matcher, conditions *cel.Engine, candidates []*types.Policy, req *types.EvaluationRequest) []*types.Policy {
	matched := make([]*types.Policy, 0, len(candidates))
	for _, pol := range candidates {
		if pol.Status != types.StatusActive {
			continue
		}
		if !matcher.TargetsApply(pol, req) {
			continue
		}
		if !matcher.MatchesPolicy(pol, req) {
			continue
		}
		if !conditionsHold(conditions, pol, req) {
			continue
		}
		matched = append(matched, pol)
	}
	return matched
}

// conditionsHold evaluates a policy's optional CEL conditions as AND.
// Evaluation errors count as false.
func conditionsHold(conditions *cel.Engine, pol *types.Policy, req *types.EvaluationRequest) bool {
	for _, cond := range pol.Conditions {
		if cond == "" {
			continue
		}
		if !conditions.Evaluate(cond, req) {
			return false
		}
	}
	return true
}

// resolve applies deny-first resolution over the matched set
func resolve(req *types.EvaluationRequest, matched []*types.Policy) *types.Decision {
	var denies, allows []*types.Policy
	for _, pol := range matched {
		if pol.Effect == types.EffectDeny {
			denies = append(denies, pol)
		} else {
			allows = append(allows, pol)
		}
	}

	decision := &types.Decision{
		RequestID:       req.RequestID,
		AppliedPolicies: []types.AppliedPolicy{},
		EvaluatedAt:     time.Now(),
	}

	switch {
	case len(denies) > 0:
		orderByPrecedence(denies)
		decision.Decision = types.EffectDeny
		decision.Reason = fmt.Sprintf("denied by policy %q (priority %d)", denies[0].Name, denies[0].Priority)
		decision.AppliedPolicies = applied(denies)

	case len(allows) > 0:
		orderByPrecedence(allows)
		decision.Decision = types.EffectAllow
		decision.Reason = fmt.Sprintf("allowed by policy %q (priority %d)", allows[0].Name, allows[0].Priority)
		decision.AppliedPolicies = applied(allows)

	default:
		decision.Decision = types.EffectAllow
		decision.Reason = ReasonNoMatch
	}

	return decision
}

// orderByPrecedence sorts policies highest priority first, ties broken by
// lowest policy id for determinism
func orderByPrecedence(policies []*types.Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].ID < policies[j].ID
	})
}

// applied converts an ordered policy list into the decision's applied set
func applied(policies []*types.Policy) []types.AppliedPolicy {
	out := make([]types.AppliedPolicy, len(policies))
	for i, pol := range policies {
		out[i] = types.AppliedPolicy{
			ID:       pol.ID,
			Name:     pol.Name,
			Effect:   pol.Effect,
			Priority: pol.Priority,
		}
	}
	return out
}

// GetStore returns the policy store
func (e *Evaluator) GetStore() policy.Store {
	return e.store
}

// GetCacheStats returns decision cache statistics, nil when caching is off
func (e *Evaluator) GetCacheStats() *cache.Stats {
	if e.cache == nil {
		return nil
	}
	stats := e.cache.Stats()
	return &stats
}

// InvalidateCache clears the decision cache. Called by the lifecycle manager
// after any policy mutation.
func (e *Evaluator) InvalidateCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// Shutdown stops the worker pool
func (e *Evaluator) Shutdown() {
	e.workerPool.Stop()
}
