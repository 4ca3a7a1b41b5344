package audit

import (
	"time"

	"github.com/secretshub/policy-core/pkg/types"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeEvaluation     EventType = "policy_evaluation"
	EventTypePolicyChange   EventType = "policy_change"
	EventTypeRoleChange     EventType = "role_change"
	EventTypeSystemStartup  EventType = "system_startup"
	EventTypeSystemShutdown EventType = "system_shutdown"
)

// Event represents a generic audit event
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	EventID   string                 `json:"event_id"`
	RequestID string                 `json:"request_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EvaluationEvent records one authorization decision
type EvaluationEvent struct {
	Timestamp       time.Time              `json:"timestamp"`
	EventType       EventType              `json:"event_type"`
	EventID         string                 `json:"event_id"`
	RequestID       string                 `json:"request_id,omitempty"`
	UserID          string                 `json:"user_id"`
	Roles           []string               `json:"roles,omitempty"`
	Action          string                 `json:"action"`
	ResourceType    string                 `json:"resource_type"`
	ResourcePath    string                 `json:"resource_path,omitempty"`
	Decision        types.Effect           `json:"decision"`
	Reason          string                 `json:"reason"`
	AppliedPolicies []string               `json:"applied_policies,omitempty"`
	DurationUs      int64                  `json:"duration_us"`
	CacheHit        bool                   `json:"cache_hit"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyChangeEvent records a policy lifecycle mutation
type PolicyChangeEvent struct {
	Timestamp     time.Time              `json:"timestamp"`
	EventType     EventType              `json:"event_type"`
	EventID       string                 `json:"event_id"`
	RequestID     string                 `json:"request_id,omitempty"`
	Operation     types.ChangeType       `json:"operation"`
	PolicyID      string                 `json:"policy_id"`
	PolicyVersion int                    `json:"policy_version"`
	Actor         string                 `json:"actor"`
	Summary       string                 `json:"summary,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// RoleChangeEvent records a role directory mutation
type RoleChangeEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	EventID   string                 `json:"event_id"`
	Operation string                 `json:"operation"`
	RoleID    string                 `json:"role_id"`
	Actor     string                 `json:"actor"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Evaluation carries decision details into the logger
type Evaluation struct {
	Request  *types.EvaluationRequest
	Decision *types.Decision
	Duration time.Duration
	CacheHit bool
}

// PolicyChange carries policy mutation details into the logger
type PolicyChange struct {
	Operation types.ChangeType
	PolicyID  string
	Version   int
	Actor     string
	Summary   string
}

// RoleChange carries role mutation details into the logger
type RoleChange struct {
	Operation string
	RoleID    string
	Actor     string
}
