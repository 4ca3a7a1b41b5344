package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/secretshub/policy-core/internal/cel"
	"github.com/secretshub/policy-core/pkg/types"
)

// identifierPattern allows alphanumerics, hyphens, and underscores, starting
// with a letter or underscore
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// validOperators is the closed set of rule operators the matcher understands
var validOperators = map[types.Operator]bool{
	types.OperatorEquals:    true,
	types.OperatorNotEquals: true,
	types.OperatorIn:        true,
	types.OperatorNotIn:     true,
	types.OperatorPrefix:    true,
	types.OperatorContains:  true,
}

// validRuleTypes is the closed set of non-attribute rule types
var validRuleTypes = map[types.RuleType]bool{
	types.RuleTypeRole:        true,
	types.RuleTypeGroup:       true,
	types.RuleTypeUser:        true,
	types.RuleTypeNamespace:   true,
	types.RuleTypeResource:    true,
	types.RuleTypePath:        true,
	types.RuleTypeProvider:    true,
	types.RuleTypeEnvironment: true,
}

// Validator checks policies before they enter the store or the version chain.
// A policy that fails validation must never produce a version record.
type Validator struct {
	conditions *cel.Engine
}

// NewValidator creates a policy validator. The CEL engine is used to compile
// condition expressions; a nil engine skips condition checks.
func NewValidator(conditions *cel.Engine) *Validator {
	return &Validator{conditions: conditions}
}

// ValidatePolicy validates the structure and syntax of a policy
func (v *Validator) ValidatePolicy(policy *types.Policy) error {
	if policy == nil {
		return fmt.Errorf("policy cannot be nil")
	}

	if err := v.validateBasicStructure(policy); err != nil {
		return err
	}

	if err := v.validateRules(policy); err != nil {
		return err
	}

	if err := v.validateConditions(policy); err != nil {
		return err
	}

	return nil
}

// validateBasicStructure validates name, effect, status, and targets
func (v *Validator) validateBasicStructure(policy *types.Policy) error {
	if policy.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if !identifierPattern.MatchString(policy.Name) {
		return fmt.Errorf("invalid policy name format: %s (must be alphanumeric with hyphens/underscores)", policy.Name)
	}

	if policy.Effect != types.EffectAllow && policy.Effect != types.EffectDeny {
		return fmt.Errorf("invalid effect: %s (must be 'allow' or 'deny')", policy.Effect)
	}

	switch policy.Status {
	case types.StatusActive, types.StatusInactive, types.StatusDraft, "":
	default:
		return fmt.Errorf("invalid status: %s (must be 'active', 'inactive', or 'draft')", policy.Status)
	}

	if policy.Priority < 0 {
		return fmt.Errorf("priority must be non-negative, got %d", policy.Priority)
	}

	if policy.Targets == nil || policy.Targets.Empty() {
		return fmt.Errorf("policy must declare at least one target dimension")
	}

	return nil
}

// validateRules validates all rules in a policy
func (v *Validator) validateRules(policy *types.Policy) error {
	for i, rule := range policy.Rules {
		if err := v.validateRule(rule); err != nil {
			return fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
	}
	return nil
}

// validateRule validates a single rule
func (v *Validator) validateRule(rule *types.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}

	if rule.Type == "" {
		return fmt.Errorf("rule type is required")
	}
	if strings.HasPrefix(string(rule.Type), "attribute:") {
		if strings.TrimPrefix(string(rule.Type), "attribute:") == "" {
			return fmt.Errorf("attribute rule requires a key: %s", rule.Type)
		}
	} else if !validRuleTypes[rule.Type] {
		return fmt.Errorf("unknown rule type: %s", rule.Type)
	}

	if !validOperators[rule.Operator] {
		return fmt.Errorf("unknown operator: %s", rule.Operator)
	}

	if len(rule.Values) == 0 {
		return fmt.Errorf("rule must have at least one value")
	}
	for _, value := range rule.Values {
		if value == "" {
			return fmt.Errorf("rule value cannot be empty")
		}
	}

	return nil
}

// validateConditions compiles every CEL condition to surface syntax and type
// errors before the policy is persisted
func (v *Validator) validateConditions(policy *types.Policy) error {
	if v.conditions == nil {
		return nil
	}

	for i, expr := range policy.Conditions {
		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("condition at index %d is empty", i)
		}
		if err := v.conditions.Compile(expr); err != nil {
			return fmt.Errorf("invalid condition at index %d: %w", i, err)
		}
	}
	return nil
}
