package engine

import (
	"fmt"
	"strings"

	"github.com/secretshub/policy-core/pkg/types"
)

// Matcher evaluates a single policy's rules and targets against a request.
// It is stateless and safe for concurrent use.
type Matcher struct{}

// NewMatcher creates a new rule matcher
func NewMatcher() *Matcher {
	return &Matcher{}
}

// attributeRulePrefix marks rule types that select a request attribute by key,
// e.g. "attribute:team" matches user/resource/environment attributes named "team".
const attributeRulePrefix = "attribute:"

// MatchesPolicy reports whether a policy applies to the request: its targets
// must match AND every rule must match. A policy with no rules target-matches
// only, which is legal for a blanket default.
func (m *Matcher) MatchesPolicy(policy *types.Policy, req *types.EvaluationRequest) bool {
	if !m.MatchesTargets(policy.Targets, req) {
		return false
	}

	for _, rule := range policy.Rules {
		if !m.Matches(rule, req) {
			return false
		}
	}
	return true
}

// Matches reports whether a single rule matches the request. Unknown rule
// types and operators fail closed to no-match: a malformed rule must never
// silently grant access.
func (m *Matcher) Matches(rule *types.Rule, req *types.EvaluationRequest) bool {
	if rule == nil || req == nil {
		return false
	}

	values, known := m.fieldValues(rule.Type, req)
	if !known {
		return false
	}

	switch rule.Operator {
	case types.OperatorEquals:
		return anyEqual(values, rule.Values)

	case types.OperatorNotEquals:
		return len(values) > 0 && !anyEqual(values, rule.Values)

	case types.OperatorIn:
		if anyEqual(values, rule.Values) {
			return true
		}
		// Path-like fields also match on string prefix, supporting
		// production-path deny rules like "kv/data/prod/".
		if isPathLike(rule.Type) {
			return anyPrefix(values, rule.Values)
		}
		return false

	case types.OperatorNotIn:
		if len(values) == 0 {
			return false
		}
		if anyEqual(values, rule.Values) {
			return false
		}
		if isPathLike(rule.Type) && anyPrefix(values, rule.Values) {
			return false
		}
		return true

	case types.OperatorPrefix:
		return anyPrefix(values, rule.Values)

	case types.OperatorContains:
		for _, v := range values {
			for _, rv := range rule.Values {
				if rv != "" && strings.Contains(v, rv) {
					return true
				}
			}
		}
		return false

	default:
		return false
	}
}

// MatchesTargets reports whether a policy's target scope applies to the
// request. Present dimensions are combined with AND; nil targets match all.
func (m *Matcher) MatchesTargets(targets *types.Targets, req *types.EvaluationRequest) bool {
	if targets == nil {
		return true
	}

	if len(targets.Actions) > 0 && !matchesDimension(targets.Actions, req.Action) {
		return false
	}

	var resource types.ResourceContext
	if req.Resource != nil {
		resource = *req.Resource
	}

	if len(targets.Resources) > 0 &&
		!matchesDimension(targets.Resources, resource.Type, resource.ID, resource.Name) {
		return false
	}
	if len(targets.TargetTypes) > 0 && !matchesDimension(targets.TargetTypes, resource.Type) {
		return false
	}
	if len(targets.Providers) > 0 && !matchesDimension(targets.Providers, resource.Provider) {
		return false
	}
	if len(targets.PathPrefixes) > 0 {
		matched := false
		for _, prefix := range targets.PathPrefixes {
			if prefix == "*" || (resource.Path != "" && strings.HasPrefix(resource.Path, prefix)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(targets.Namespaces) > 0 {
		candidates := []string{resource.Namespace}
		if req.Environment != nil {
			candidates = append(candidates, req.Environment.Namespace)
		}
		if req.User != nil {
			candidates = append(candidates, req.User.Namespace)
		}
		if !matchesDimension(targets.Namespaces, candidates...) {
			return false
		}
	}
	if len(targets.Projects) > 0 {
		if !matchesDimension(targets.Projects, attributeValues("project", req)...) {
			return false
		}
	}

	return true
}

// TargetsApply is the coarse candidate pre-filter: it checks only the cheap
// resource-type and action dimensions so the evaluator can discard clearly
// inapplicable policies before full matching.
func (m *Matcher) TargetsApply(policy *types.Policy, req *types.EvaluationRequest) bool {
	targets := policy.Targets
	if targets == nil {
		return true
	}
	if len(targets.Actions) > 0 && !matchesDimension(targets.Actions, req.Action) {
		return false
	}
	if len(targets.TargetTypes) > 0 || len(targets.Resources) > 0 {
		var resource types.ResourceContext
		if req.Resource != nil {
			resource = *req.Resource
		}
		if len(targets.TargetTypes) > 0 && !matchesDimension(targets.TargetTypes, resource.Type) {
			return false
		}
		if len(targets.Resources) > 0 &&
			!matchesDimension(targets.Resources, resource.Type, resource.ID, resource.Name) {
			return false
		}
	}
	return true
}

// fieldValues extracts the request field a rule type selects. The second
// return is false for unknown rule types.
func (m *Matcher) fieldValues(ruleType types.RuleType, req *types.EvaluationRequest) ([]string, bool) {
	if strings.HasPrefix(string(ruleType), attributeRulePrefix) {
		key := strings.TrimPrefix(string(ruleType), attributeRulePrefix)
		return attributeValues(key, req), true
	}

	switch ruleType {
	case types.RuleTypeRole:
		if req.User == nil {
			return nil, true
		}
		return req.User.Roles, true

	case types.RuleTypeGroup:
		if req.User == nil {
			return nil, true
		}
		return req.User.Groups, true

	case types.RuleTypeUser:
		if req.User == nil {
			return nil, true
		}
		return nonEmpty(req.User.ID, req.User.Username), true

	case types.RuleTypeNamespace:
		var candidates []string
		if req.Environment != nil {
			candidates = append(candidates, req.Environment.Namespace)
		}
		if req.Resource != nil {
			candidates = append(candidates, req.Resource.Namespace)
		}
		if req.User != nil {
			candidates = append(candidates, req.User.Namespace)
		}
		return nonEmpty(candidates...), true

	case types.RuleTypeResource:
		if req.Resource == nil {
			return nil, true
		}
		return nonEmpty(req.Resource.Path, req.Resource.ID, req.Resource.Type), true

	case types.RuleTypePath:
		if req.Resource == nil {
			return nil, true
		}
		return nonEmpty(req.Resource.Path), true

	case types.RuleTypeProvider:
		if req.Resource == nil {
			return nil, true
		}
		return nonEmpty(req.Resource.Provider), true

	case types.RuleTypeEnvironment:
		if req.Environment == nil {
			return nil, true
		}
		return nonEmpty(req.Environment.Environment), true

	default:
		return nil, false
	}
}

// isPathLike reports whether a rule type selects a slash-delimited path field
func isPathLike(ruleType types.RuleType) bool {
	return ruleType == types.RuleTypePath || ruleType == types.RuleTypeResource
}

// anyEqual reports whether any field value equals any rule value
func anyEqual(fieldValues []string, ruleValues types.StringSet) bool {
	for _, fv := range fieldValues {
		if ruleValues.Contains(fv) {
			return true
		}
	}
	return false
}

// anyPrefix reports whether any rule value is a string prefix of any field value
func anyPrefix(fieldValues []string, ruleValues types.StringSet) bool {
	for _, fv := range fieldValues {
		for _, rv := range ruleValues {
			if rv != "" && strings.HasPrefix(fv, rv) {
				return true
			}
		}
	}
	return false
}

// matchesDimension reports whether a target dimension contains any candidate.
// "*" in the dimension matches everything.
func matchesDimension(dimension []string, candidates ...string) bool {
	for _, d := range dimension {
		if d == "*" {
			return true
		}
		for _, c := range candidates {
			if c != "" && d == c {
				return true
			}
		}
	}
	return false
}

// attributeValues collects stringified attribute values across contexts
func attributeValues(key string, req *types.EvaluationRequest) []string {
	var values []string

	collect := func(attrs map[string]interface{}) {
		if attrs == nil {
			return
		}
		if v, ok := attrs[key]; ok {
			switch t := v.(type) {
			case string:
				values = append(values, t)
			case []string:
				values = append(values, t...)
			case []interface{}:
				for _, item := range t {
					if s, ok := item.(string); ok {
						values = append(values, s)
					}
				}
			default:
				values = append(values, fmt.Sprintf("%v", t))
			}
		}
	}

	if req.User != nil {
		collect(req.User.Attributes)
	}
	if req.Resource != nil {
		collect(req.Resource.Attributes)
	}
	if req.Environment != nil {
		collect(req.Environment.Attributes)
	}
	return values
}

// nonEmpty filters empty strings from a candidate list
func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
