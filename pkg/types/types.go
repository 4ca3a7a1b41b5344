// Package types provides shared types for the policy authorization core
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Effect represents the outcome a policy asserts when it matches
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// PolicyStatus represents the lifecycle state of a policy
type PolicyStatus string

const (
	StatusActive   PolicyStatus = "active"
	StatusInactive PolicyStatus = "inactive"
	StatusDraft    PolicyStatus = "draft"
)

// RuleType selects which field of the request a rule is evaluated against
type RuleType string

const (
	RuleTypeRole        RuleType = "role"
	RuleTypeGroup       RuleType = "group"
	RuleTypeUser        RuleType = "user"
	RuleTypeNamespace   RuleType = "namespace"
	RuleTypeResource    RuleType = "resource"
	RuleTypePath        RuleType = "path"
	RuleTypeProvider    RuleType = "provider"
	RuleTypeEnvironment RuleType = "environment"
)

// Operator is the comparison applied between a rule's values and the request field
type Operator string

const (
	OperatorEquals    Operator = "equals"
	OperatorNotEquals Operator = "not-equals"
	OperatorIn        Operator = "in"
	OperatorNotIn     Operator = "not-in"
	OperatorPrefix    Operator = "prefix"
	OperatorContains  Operator = "contains"
)

// StringSet accepts either a scalar string or a list of strings when
// unmarshaling, since policy documents written by hand use both forms.
type StringSet []string

// UnmarshalJSON accepts "value" or ["v1", "v2"]
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringSet{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("value must be a string or a list of strings")
	}
	*s = StringSet(many)
	return nil
}

// UnmarshalYAML accepts the same scalar-or-sequence forms as JSON
func (s *StringSet) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = StringSet{single}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return fmt.Errorf("value must be a string or a list of strings")
	}
	*s = StringSet(many)
	return nil
}

// Contains reports whether the set contains the given value
func (s StringSet) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// Rule is an atomic predicate evaluated against a request context
type Rule struct {
	ID       string    `json:"id,omitempty" yaml:"id,omitempty"`
	Type     RuleType  `json:"type" yaml:"type"`
	Operator Operator  `json:"operator" yaml:"operator"`
	Values   StringSet `json:"value" yaml:"value"`
}

// Targets scopes a policy to resources, actions, paths, and providers.
// All present dimensions must match (AND); an empty dimension is unconstrained.
type Targets struct {
	Resources    []string `json:"resources,omitempty" yaml:"resources,omitempty"`
	Actions      []string `json:"actions,omitempty" yaml:"actions,omitempty"`
	PathPrefixes []string `json:"pathPrefixes,omitempty" yaml:"pathPrefixes,omitempty"`
	TargetTypes  []string `json:"targetTypes,omitempty" yaml:"targetTypes,omitempty"`
	Providers    []string `json:"providers,omitempty" yaml:"providers,omitempty"`
	Namespaces   []string `json:"namespaces,omitempty" yaml:"namespaces,omitempty"`
	Projects     []string `json:"projects,omitempty" yaml:"projects,omitempty"`
}

// Empty reports whether no target dimension is declared
func (t *Targets) Empty() bool {
	if t == nil {
		return true
	}
	return len(t.Resources) == 0 && len(t.Actions) == 0 && len(t.PathPrefixes) == 0 &&
		len(t.TargetTypes) == 0 && len(t.Providers) == 0 && len(t.Namespaces) == 0 &&
		len(t.Projects) == 0
}

// PolicyMetadata carries classification metadata for a policy
type PolicyMetadata struct {
	Category   string            `json:"category,omitempty" yaml:"category,omitempty"`
	Tags       []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Compliance []string          `json:"compliance,omitempty" yaml:"compliance,omitempty"`
	Risk       string            `json:"risk,omitempty" yaml:"risk,omitempty"`
	Labels     map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Policy is a named allow/deny rule bundle with targets and priority
type Policy struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Effect      Effect         `json:"effect" yaml:"effect"`
	Priority    int            `json:"priority" yaml:"priority"`
	Status      PolicyStatus   `json:"status" yaml:"status"`
	Rules       []*Rule        `json:"rules,omitempty" yaml:"rules,omitempty"`
	Targets     *Targets       `json:"targets,omitempty" yaml:"targets,omitempty"`
	Conditions  []string       `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Metadata    PolicyMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Version always equals the version number of the newest entry in the
	// policy's version history.
	Version   int       `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the policy. The live policy handed to callers
// is a value; mutations always operate on copies.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	cp := *p

	if p.Rules != nil {
		cp.Rules = make([]*Rule, len(p.Rules))
		for i, r := range p.Rules {
			rc := *r
			rc.Values = append(StringSet(nil), r.Values...)
			cp.Rules[i] = &rc
		}
	}
	if p.Targets != nil {
		tc := Targets{
			Resources:    append([]string(nil), p.Targets.Resources...),
			Actions:      append([]string(nil), p.Targets.Actions...),
			PathPrefixes: append([]string(nil), p.Targets.PathPrefixes...),
			TargetTypes:  append([]string(nil), p.Targets.TargetTypes...),
			Providers:    append([]string(nil), p.Targets.Providers...),
			Namespaces:   append([]string(nil), p.Targets.Namespaces...),
			Projects:     append([]string(nil), p.Targets.Projects...),
		}
		cp.Targets = &tc
	}
	cp.Conditions = append([]string(nil), p.Conditions...)
	cp.Metadata.Tags = append([]string(nil), p.Metadata.Tags...)
	cp.Metadata.Compliance = append([]string(nil), p.Metadata.Compliance...)
	if p.Metadata.Labels != nil {
		cp.Metadata.Labels = make(map[string]string, len(p.Metadata.Labels))
		for k, v := range p.Metadata.Labels {
			cp.Metadata.Labels[k] = v
		}
	}
	return &cp
}

// UserContext identifies the user making the request
type UserContext struct {
	ID         string                 `json:"id"`
	Username   string                 `json:"username,omitempty"`
	Roles      []string               `json:"roles,omitempty"`
	Groups     []string               `json:"groups,omitempty"`
	Namespace  string                 `json:"namespace,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// HasRole checks if the user has a specific role
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ToMap converts UserContext to a map for condition evaluation
func (u *UserContext) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"id":         u.ID,
		"username":   u.Username,
		"roles":      u.Roles,
		"groups":     u.Groups,
		"namespace":  u.Namespace,
		"attributes": u.Attributes,
	}
}

// ResourceContext identifies the resource being accessed
type ResourceContext struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Provider   string                 `json:"provider,omitempty"`
	Path       string                 `json:"path,omitempty"`
	Namespace  string                 `json:"namespace,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// ToMap converts ResourceContext to a map for condition evaluation
func (r *ResourceContext) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"type":       r.Type,
		"id":         r.ID,
		"name":       r.Name,
		"provider":   r.Provider,
		"path":       r.Path,
		"namespace":  r.Namespace,
		"attributes": r.Attributes,
	}
}

// EnvironmentContext carries the environment a request executes in
type EnvironmentContext struct {
	Namespace   string                 `json:"namespace,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Timestamp   time.Time              `json:"timestamp,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// ToMap converts EnvironmentContext to a map for condition evaluation
func (e *EnvironmentContext) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"namespace":   e.Namespace,
		"environment": e.Environment,
		"timestamp":   e.Timestamp.Unix(),
		"attributes":  e.Attributes,
	}
}

// EvaluationRequest bundles everything the evaluator needs for one decision
type EvaluationRequest struct {
	RequestID   string              `json:"requestId,omitempty"`
	User        *UserContext        `json:"user"`
	Action      string              `json:"action"`
	Resource    *ResourceContext    `json:"resource"`
	Environment *EnvironmentContext `json:"environment,omitempty"`
}

// CacheKey generates a deterministic cache key for this request.
// Roles and groups are sorted so ordering never splits cache entries.
// Attribute maps are folded in: attribute rules and CEL conditions read
// them, so requests differing only in attributes must not share an entry.
func (r *EvaluationRequest) CacheKey() string {
	var user, resource, env string
	if r.User != nil {
		roles := append([]string(nil), r.User.Roles...)
		sort.Strings(roles)
		groups := append([]string(nil), r.User.Groups...)
		sort.Strings(groups)
		user = strings.Join([]string{r.User.ID, strings.Join(roles, ","), strings.Join(groups, ","), r.User.Namespace, attributeDigest(r.User.Attributes)}, "|")
	}
	if r.Resource != nil {
		resource = strings.Join([]string{r.Resource.Type, r.Resource.ID, r.Resource.Provider, r.Resource.Path, r.Resource.Namespace, attributeDigest(r.Resource.Attributes)}, "|")
	}
	if r.Environment != nil {
		env = strings.Join([]string{r.Environment.Namespace, r.Environment.Environment, attributeDigest(r.Environment.Attributes)}, "|")
	}

	key := strings.Join([]string{user, r.Action, resource, env}, "#")
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16])
}

// attributeDigest renders an attribute map in sorted key order
func attributeDigest(attrs map[string]interface{}) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, attrs[k]))
	}
	return strings.Join(parts, ",")
}

// AppliedPolicy identifies a policy that contributed to a decision
type AppliedPolicy struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Effect   Effect `json:"effect"`
	Priority int    `json:"priority"`
}

// Decision is the result of evaluating a request against the active policy set
type Decision struct {
	RequestID       string          `json:"requestId,omitempty"`
	Decision        Effect          `json:"decision"`
	Reason          string          `json:"reason"`
	AppliedPolicies []AppliedPolicy `json:"appliedPolicies"`
	EvaluatedAt     time.Time       `json:"evaluatedAt"`
}

// Allowed returns true if the decision is allow
func (d *Decision) Allowed() bool {
	return d.Decision == EffectAllow
}

// Role is a named set of permissions
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"displayName,omitempty"`
	Permissions []string     `json:"permissions,omitempty"`
	IsSystem    bool         `json:"isSystem"`
	IsDefault   bool         `json:"isDefault"`
	Metadata    RoleMetadata `json:"metadata,omitempty"`
}

// RoleMetadata carries classification metadata for a role
type RoleMetadata struct {
	Category string            `json:"category,omitempty"`
	Priority int               `json:"priority,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// PermissionScope is either global or scoped to a namespace/project
type PermissionScope string

const (
	ScopeGlobal PermissionScope = "global"
	ScopeScoped PermissionScope = "scoped"
)

// Permission is a read-only catalog entry following the resource:action convention
type Permission struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	ResourceType string          `json:"resourceType"`
	Action       string          `json:"action"`
	Scope        PermissionScope `json:"scope"`
	Namespace    string          `json:"namespace,omitempty"`
}
