package server

import (
	"agentgraph/internal/domain"
	"agentgraph/internal/ledger"
	"agentgraph/internal/taskgraph"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string   `json:"name" minLength:"1" maxLength:"200"`
	Description string   `json:"description,omitempty"`
	Mode        string   `json:"mode,omitempty" enum:"local,github,hybrid"`
	Tags        []string `json:"tags,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Status      *string  `json:"status,omitempty" enum:"planning,active,on_hold,completed,archived,cancelled"`
	Tags        []string `json:"tags,omitempty"`
}

type CreateTaskRequest struct {
	Title            string   `json:"title" minLength:"1" maxLength:"500"`
	Description      string   `json:"description,omitempty"`
	Priority         string   `json:"priority,omitempty" enum:"low,medium,high,critical"`
	AssignedAgentID  string   `json:"assigned_agent_id,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	EstimatedMinutes *int     `json:"estimated_minutes,omitempty"`
	MaxAttempts      int      `json:"max_attempts,omitempty"`
}

type UpdateTaskRequest struct {
	Title            *string  `json:"title,omitempty"`
	Description      *string  `json:"description,omitempty"`
	Priority         *string  `json:"priority,omitempty" enum:"low,medium,high,critical"`
	AssignedAgentID  *string  `json:"assigned_agent_id,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	EstimatedMinutes *int     `json:"estimated_minutes,omitempty"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status" enum:"backlog,todo,in_progress,review,done,blocked,archived"`
}

type DependencyRequest struct {
	DependsOn string `json:"depends_on" minLength:"1"`
}

type SubtaskRequest struct {
	Title string `json:"title" minLength:"1"`
}

type CreateArtifactRequest struct {
	CreatorAgentID string   `json:"creator_agent_id,omitempty"`
	Name           string   `json:"name" minLength:"1" maxLength:"300"`
	Type           string   `json:"type,omitempty" enum:"code,document,image,data,config,test,log,other"`
	Content        string   `json:"content,omitempty"`
	MimeType       string   `json:"mime_type,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

type UpdateArtifactContentRequest struct {
	Content string `json:"content"`
}

type ReviewArtifactRequest struct {
	Decision string `json:"decision" enum:"approve,reject"`
	Reviewer string `json:"reviewer" minLength:"1"`
	Comments string `json:"comments,omitempty"`
}

type CreateInteractionRequest struct {
	WorkflowID          string `json:"workflow_id" minLength:"1"`
	InitiatorAgentID    string `json:"initiator_agent_id" minLength:"1"`
	TargetAgentID       string `json:"target_agent_id" minLength:"1"`
	Type                string `json:"type" enum:"task_assignment,task_completion,review_request,approval,rejection,escalation,consultation,notification,handoff,progress_update,error_report,user_intervention,input_request,input_provided"`
	TaskID              string `json:"task_id,omitempty"`
	RelationshipID      string `json:"relationship_id,omitempty"`
	ParentInteractionID string `json:"parent_interaction_id,omitempty"`
	Priority            int    `json:"priority,omitempty" minimum:"1" maximum:"5"`
	Message             string `json:"message,omitempty"`
}

type OutcomeRequest struct {
	Response   string        `json:"response,omitempty"`
	Error      string        `json:"error,omitempty"`
	TokenUsage *UsageRequest `json:"token_usage,omitempty"`
}

type UsageRequest struct {
	Prompt     int64 `json:"prompt,omitempty" minimum:"0"`
	Completion int64 `json:"completion,omitempty" minimum:"0"`
	Total      int64 `json:"total,omitempty" minimum:"0"`
	CostCents  int64 `json:"cost_cents,omitempty" minimum:"0"`
}

type InterventionRequest struct {
	Type            string `json:"type" minLength:"1"`
	Message         string `json:"message" minLength:"1"`
	Urgency         string `json:"urgency,omitempty" enum:"low,normal,high,critical"`
	PausedExecution bool   `json:"paused_execution,omitempty"`
}

// Responses

type RemovedResponse struct {
	Tasks     []string `json:"tasks"`
	Artifacts []string `json:"artifacts"`
	Unlinked  []string `json:"unlinked"`
}

type DeletedWorkflowResponse struct {
	WorkflowID string   `json:"workflow_id"`
	Deleted    []string `json:"deleted"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func (r CreateProjectRequest) input() taskgraph.ProjectInput {
	return taskgraph.ProjectInput{
		Name:        r.Name,
		Description: r.Description,
		Mode:        domain.ProjectMode(r.Mode),
		Tags:        r.Tags,
	}
}

func (r UpdateProjectRequest) patch() taskgraph.ProjectPatch {
	p := taskgraph.ProjectPatch{Name: r.Name, Description: r.Description, Tags: r.Tags}
	if r.Status != nil {
		s := domain.ProjectStatus(*r.Status)
		p.Status = &s
	}
	return p
}

func (r CreateTaskRequest) input(projectID string) taskgraph.TaskInput {
	return taskgraph.TaskInput{
		ProjectID:        projectID,
		Title:            r.Title,
		Description:      r.Description,
		Priority:         domain.TaskPriority(r.Priority),
		AssignedAgentID:  r.AssignedAgentID,
		Dependencies:     r.Dependencies,
		Tags:             r.Tags,
		EstimatedMinutes: r.EstimatedMinutes,
		MaxAttempts:      r.MaxAttempts,
	}
}

func (r UpdateTaskRequest) patch() taskgraph.TaskPatch {
	p := taskgraph.TaskPatch{
		Title:            r.Title,
		Description:      r.Description,
		AssignedAgentID:  r.AssignedAgentID,
		Tags:             r.Tags,
		EstimatedMinutes: r.EstimatedMinutes,
	}
	if r.Priority != nil {
		pr := domain.TaskPriority(*r.Priority)
		p.Priority = &pr
	}
	return p
}

func (r CreateArtifactRequest) input(taskID string) taskgraph.ArtifactInput {
	return taskgraph.ArtifactInput{
		TaskID:         taskID,
		CreatorAgentID: r.CreatorAgentID,
		Name:           r.Name,
		Type:           domain.ArtifactType(r.Type),
		Content:        r.Content,
		MimeType:       r.MimeType,
		Tags:           r.Tags,
	}
}

func (r CreateInteractionRequest) input() ledger.CreateInput {
	return ledger.CreateInput{
		WorkflowID:          r.WorkflowID,
		InitiatorAgentID:    r.InitiatorAgentID,
		TargetAgentID:       r.TargetAgentID,
		Type:                domain.InteractionType(r.Type),
		TaskID:              r.TaskID,
		RelationshipID:      r.RelationshipID,
		ParentInteractionID: r.ParentInteractionID,
		Priority:            r.Priority,
		Message:             r.Message,
	}
}

func (r InterventionRequest) input() ledger.InterventionInput {
	return ledger.InterventionInput{
		Type:            r.Type,
		Message:         r.Message,
		Urgency:         r.Urgency,
		PausedExecution: r.PausedExecution,
	}
}

func (r OutcomeRequest) usage() domain.TokenUsage {
	if r.TokenUsage == nil {
		return domain.TokenUsage{}
	}
	return domain.TokenUsage{
		Prompt:     r.TokenUsage.Prompt,
		Completion: r.TokenUsage.Completion,
		Total:      r.TokenUsage.Total,
		CostCents:  r.TokenUsage.CostCents,
	}
}

func removedResponse(r taskgraph.Removed) RemovedResponse {
	return RemovedResponse{
		Tasks:     nonNilSlice(r.Tasks),
		Artifacts: nonNilSlice(r.Artifacts),
		Unlinked:  nonNilSlice(r.TouchedTasks),
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
