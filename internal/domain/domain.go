package domain

import (
	"slices"
	"time"
)

type ProjectMode string

const (
	ModeLocal  ProjectMode = "local"
	ModeGitHub ProjectMode = "github"
	ModeHybrid ProjectMode = "hybrid"
)

type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
	ProjectCancelled ProjectStatus = "cancelled"
)

type Project struct {
	ID              string        `json:"id"`
	Slug            string        `json:"slug"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Mode            ProjectMode   `json:"mode" enum:"local,github,hybrid"`
	Status          ProjectStatus `json:"status" enum:"planning,active,on_hold,completed,archived,cancelled"`
	TotalTokensUsed int64         `json:"total_tokens_used"`
	TotalCostCents  int64         `json:"total_cost_cents"`
	Tags            []string      `json:"tags,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type TaskStatus string

const (
	TaskBacklog    TaskStatus = "backlog"
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
	TaskArchived   TaskStatus = "archived"
)

type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// Rank orders priorities; unknown values sort lowest.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

type Subtask struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Task struct {
	ID                    string       `json:"id"`
	ProjectID             string       `json:"project_id"`
	Title                 string       `json:"title"`
	Description           string       `json:"description,omitempty"`
	Status                TaskStatus   `json:"status" enum:"backlog,todo,in_progress,review,done,blocked,archived"`
	Priority              TaskPriority `json:"priority" enum:"low,medium,high,critical"`
	AssignedAgentID       string       `json:"assigned_agent_id,omitempty"`
	Dependencies          []string     `json:"dependencies"`
	Blocks                []string     `json:"blocks"`
	ArtifactIDs           []string     `json:"artifact_ids"`
	Subtasks              []Subtask    `json:"subtasks,omitempty"`
	Tags                  []string     `json:"tags,omitempty"`
	Attempts              int          `json:"attempts"`
	MaxAttempts           int          `json:"max_attempts"`
	EstimatedMinutes      *int         `json:"estimated_minutes,omitempty"`
	ActualDurationMinutes *int         `json:"actual_duration_minutes,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
	StartedAt             *time.Time   `json:"started_at,omitempty"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
}

type ArtifactType string

const (
	ArtifactCode     ArtifactType = "code"
	ArtifactDocument ArtifactType = "document"
	ArtifactImage    ArtifactType = "image"
	ArtifactData     ArtifactType = "data"
	ArtifactConfig   ArtifactType = "config"
	ArtifactTest     ArtifactType = "test"
	ArtifactLog      ArtifactType = "log"
	ArtifactOther    ArtifactType = "other"
)

type ArtifactStatus string

const (
	ArtifactDraft      ArtifactStatus = "draft"
	ArtifactPending    ArtifactStatus = "pending"
	ArtifactApproved   ArtifactStatus = "approved"
	ArtifactRejected   ArtifactStatus = "rejected"
	ArtifactSuperseded ArtifactStatus = "superseded"
)

type Artifact struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	TaskID         string         `json:"task_id"`
	CreatorAgentID string         `json:"creator_agent_id,omitempty"`
	Name           string         `json:"name"`
	Type           ArtifactType   `json:"type" enum:"code,document,image,data,config,test,log,other"`
	Content        string         `json:"content,omitempty"`
	MimeType       string         `json:"mime_type,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Version        int            `json:"version"`
	Status         ArtifactStatus `json:"status" enum:"draft,pending,approved,rejected,superseded"`
	ReviewedBy     string         `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	ReviewComments string         `json:"review_comments,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type RelationshipType string

const (
	RelDelegation    RelationshipType = "delegation"
	RelCollaboration RelationshipType = "collaboration"
	RelReview        RelationshipType = "review"
	RelEscalation    RelationshipType = "escalation"
	RelConsultation  RelationshipType = "consultation"
	RelDependency    RelationshipType = "dependency"
	RelSupervision   RelationshipType = "supervision"
)

// RelationshipTypes lists every edge type in a stable order.
var RelationshipTypes = []RelationshipType{
	RelDelegation, RelCollaboration, RelReview, RelEscalation,
	RelConsultation, RelDependency, RelSupervision,
}

type ConditionOperator string

const (
	OpEq    ConditionOperator = "eq"
	OpNeq   ConditionOperator = "neq"
	OpIn    ConditionOperator = "in"
	OpNotIn ConditionOperator = "not_in"
)

// Condition gates interactions along an edge. Field names an interaction
// attribute: type, priority, initiator, target or workflow.
type Condition struct {
	Field    string            `json:"field" yaml:"field" validate:"oneof=type priority initiator target workflow"`
	Operator ConditionOperator `json:"operator" yaml:"operator" enum:"eq,neq,in,not_in" validate:"oneof=eq neq in not_in"`
	Value    []string          `json:"value" yaml:"value" validate:"min=1"`
}

// Matches evaluates the condition against interaction attributes.
func (c Condition) Matches(attrs map[string]string) bool {
	v := attrs[c.Field]
	in := slices.Contains(c.Value, v)
	switch c.Operator {
	case OpEq, OpIn:
		return in
	case OpNeq, OpNotIn:
		return !in
	}
	return false
}

type RelationshipMetrics struct {
	TotalInteractions      int        `json:"total_interactions"`
	SuccessfulInteractions int        `json:"successful_interactions"`
	FailedInteractions     int        `json:"failed_interactions"`
	AvgResponseTimeMs      float64    `json:"avg_response_time_ms"`
	LastInteractionAt      *time.Time `json:"last_interaction_at,omitempty"`
}

type RelationshipEdge struct {
	ID                         string              `json:"id"`
	SourceAgentID              string              `json:"source_agent_id"`
	TargetAgentID              string              `json:"target_agent_id"`
	Type                       RelationshipType    `json:"type" enum:"delegation,collaboration,review,escalation,consultation,dependency,supervision"`
	AuthorityDelta             int                 `json:"authority_delta" minimum:"-5" maximum:"5"`
	Bidirectional              bool                `json:"bidirectional"`
	AutoApproval               bool                `json:"auto_approval"`
	MaxInteractionsPerWorkflow *int                `json:"max_interactions_per_workflow,omitempty"`
	Conditions                 []Condition         `json:"conditions,omitempty"`
	Label                      string              `json:"label,omitempty"`
	Strength                   float64             `json:"strength"`
	Priority                   int                 `json:"priority"`
	Metrics                    RelationshipMetrics `json:"metrics"`
	CreatedAt                  time.Time           `json:"created_at"`
	UpdatedAt                  time.Time           `json:"updated_at"`
}

// Connects reports whether the edge allows an interaction from initiator to target.
func (e RelationshipEdge) Connects(initiator, target string) bool {
	if e.SourceAgentID == initiator && e.TargetAgentID == target {
		return true
	}
	return e.Bidirectional && e.SourceAgentID == target && e.TargetAgentID == initiator
}

type InteractionType string

const (
	InteractionTaskAssignment   InteractionType = "task_assignment"
	InteractionTaskCompletion   InteractionType = "task_completion"
	InteractionReviewRequest    InteractionType = "review_request"
	InteractionApproval         InteractionType = "approval"
	InteractionRejection        InteractionType = "rejection"
	InteractionEscalation       InteractionType = "escalation"
	InteractionConsultation     InteractionType = "consultation"
	InteractionNotification     InteractionType = "notification"
	InteractionHandoff          InteractionType = "handoff"
	InteractionProgressUpdate   InteractionType = "progress_update"
	InteractionErrorReport      InteractionType = "error_report"
	InteractionUserIntervention InteractionType = "user_intervention"
	InteractionInputRequest     InteractionType = "input_request"
	InteractionInputProvided    InteractionType = "input_provided"
)

type InteractionStatus string

const (
	InteractionPending    InteractionStatus = "pending"
	InteractionInProgress InteractionStatus = "in_progress"
	InteractionCompleted  InteractionStatus = "completed"
	InteractionFailed     InteractionStatus = "failed"
	InteractionCancelled  InteractionStatus = "cancelled"
	InteractionTimeout    InteractionStatus = "timeout"
)

// Terminal reports whether no further transition except retry is allowed.
func (s InteractionStatus) Terminal() bool {
	switch s {
	case InteractionCompleted, InteractionFailed, InteractionCancelled, InteractionTimeout:
		return true
	}
	return false
}

type TokenUsage struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Total      int64 `json:"total"`
	CostCents  int64 `json:"cost_cents"`
}

type UserIntervention struct {
	Type            string    `json:"type"`
	Message         string    `json:"message"`
	Urgency         string    `json:"urgency,omitempty" enum:"low,normal,high,critical"`
	PausedExecution bool      `json:"paused_execution"`
	Timestamp       time.Time `json:"timestamp"`
}

type Interaction struct {
	ID                  string             `json:"id"`
	WorkflowID          string             `json:"workflow_id"`
	InitiatorAgentID    string             `json:"initiator_agent_id"`
	TargetAgentID       string             `json:"target_agent_id"`
	Type                InteractionType    `json:"type"`
	TaskID              string             `json:"task_id,omitempty"`
	RelationshipID      string             `json:"relationship_id,omitempty"`
	ParentInteractionID string             `json:"parent_interaction_id,omitempty"`
	Status              InteractionStatus  `json:"status" enum:"pending,in_progress,completed,failed,cancelled,timeout"`
	Priority            int                `json:"priority" minimum:"1" maximum:"5"`
	Message             string             `json:"message"`
	Response            string             `json:"response,omitempty"`
	Error               string             `json:"error,omitempty"`
	DurationMs          *int64             `json:"duration_ms,omitempty"`
	TokenUsage          TokenUsage         `json:"token_usage"`
	RetryCount          int                `json:"retry_count"`
	UserInterventions   []UserIntervention `json:"user_interventions,omitempty"`
	PolicyFlags         []string           `json:"policy_flags,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	StartedAt           *time.Time         `json:"started_at,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Scope      string `json:"scope,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}
