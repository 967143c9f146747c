package agentgraphsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal agentgraph HTTP API client.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v1.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL: baseURL,
		ActorID: actorID,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID              string `json:"id"`
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	TotalTokensUsed int64  `json:"total_tokens_used"`
	TotalCostCents  int64  `json:"total_cost_cents"`
}

// Task represents the API task model (partial).
type Task struct {
	ID              string   `json:"id"`
	ProjectID       string   `json:"project_id"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	Priority        string   `json:"priority"`
	AssignedAgentID string   `json:"assigned_agent_id,omitempty"`
	Dependencies    []string `json:"dependencies"`
	Blocks          []string `json:"blocks"`
	Attempts        int      `json:"attempts"`
	MaxAttempts     int      `json:"max_attempts"`
}

// TokenUsage reports model usage of an interaction.
type TokenUsage struct {
	Prompt     int64 `json:"prompt,omitempty"`
	Completion int64 `json:"completion,omitempty"`
	Total      int64 `json:"total,omitempty"`
	CostCents  int64 `json:"cost_cents,omitempty"`
}

// Interaction represents a ledger entry (partial).
type Interaction struct {
	ID                  string     `json:"id"`
	WorkflowID          string     `json:"workflow_id"`
	InitiatorAgentID    string     `json:"initiator_agent_id"`
	TargetAgentID       string     `json:"target_agent_id"`
	Type                string     `json:"type"`
	TaskID              string     `json:"task_id,omitempty"`
	RelationshipID      string     `json:"relationship_id,omitempty"`
	ParentInteractionID string     `json:"parent_interaction_id,omitempty"`
	Status              string     `json:"status"`
	Priority            int        `json:"priority"`
	Message             string     `json:"message"`
	Response            string     `json:"response,omitempty"`
	Error               string     `json:"error,omitempty"`
	DurationMs          *int64     `json:"duration_ms,omitempty"`
	TokenUsage          TokenUsage `json:"token_usage"`
	RetryCount          int        `json:"retry_count"`
	PolicyFlags         []string   `json:"policy_flags,omitempty"`
}

// NewInteraction is the payload for RecordInteraction.
type NewInteraction struct {
	WorkflowID          string `json:"workflow_id"`
	InitiatorAgentID    string `json:"initiator_agent_id"`
	TargetAgentID       string `json:"target_agent_id"`
	Type                string `json:"type"`
	TaskID              string `json:"task_id,omitempty"`
	RelationshipID      string `json:"relationship_id,omitempty"`
	ParentInteractionID string `json:"parent_interaction_id,omitempty"`
	Priority            int    `json:"priority,omitempty"`
	Message             string `json:"message,omitempty"`
}

// Relationship represents a relationship edge (partial).
type Relationship struct {
	ID             string `json:"id"`
	SourceAgentID  string `json:"source_agent_id"`
	TargetAgentID  string `json:"target_agent_id"`
	Type           string `json:"type"`
	AuthorityDelta int    `json:"authority_delta"`
	Bidirectional  bool   `json:"bidirectional"`
	AutoApproval   bool   `json:"auto_approval"`
	Metrics        struct {
		TotalInteractions      int     `json:"total_interactions"`
		SuccessfulInteractions int     `json:"successful_interactions"`
		FailedInteractions     int     `json:"failed_interactions"`
		AvgResponseTimeMs      float64 `json:"avg_response_time_ms"`
	} `json:"metrics"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	Scope      string `json:"scope,omitempty"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// CreateTask creates a task in a project referenced by id or slug.
func (c *Client) CreateTask(ctx context.Context, project, title string, dependsOn ...string) (Task, error) {
	body := map[string]any{"title": title}
	if len(dependsOn) > 0 {
		body["dependencies"] = dependsOn
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/tasks", url.PathEscape(project)), body, &resp)
	return resp, err
}

// SetTaskStatus moves a task. Leaving backlog or todo while dependencies are
// unfinished returns an APIError with code "blocked".
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/status", url.PathEscape(taskID)), map[string]any{"status": status}, &resp)
	return resp, err
}

// ReadyTasks lists tasks whose dependencies are finished.
func (c *Client) ReadyTasks(ctx context.Context, project string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%s/tasks/ready", url.PathEscape(project)), nil, &resp)
	return resp, err
}

// CreateRelationship creates a relationship edge with type defaults.
func (c *Client) CreateRelationship(ctx context.Context, source, target, relType string) (Relationship, error) {
	body := map[string]any{
		"source_agent_id": source,
		"target_agent_id": target,
		"type":            relType,
	}
	var resp Relationship
	err := c.do(ctx, http.MethodPost, "relationships", body, &resp)
	return resp, err
}

// RecordInteraction adds a pending interaction to the ledger.
func (c *Client) RecordInteraction(ctx context.Context, in NewInteraction) (Interaction, error) {
	var resp Interaction
	err := c.do(ctx, http.MethodPost, "interactions", in, &resp)
	return resp, err
}

// StartInteraction moves an interaction to in_progress.
func (c *Client) StartInteraction(ctx context.Context, id string) (Interaction, error) {
	var resp Interaction
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("interactions/%s/start", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// CompleteInteraction records a successful outcome.
func (c *Client) CompleteInteraction(ctx context.Context, id, response string, usage TokenUsage) (Interaction, error) {
	var resp Interaction
	body := map[string]any{"response": response, "token_usage": usage}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("interactions/%s/complete", url.PathEscape(id)), body, &resp)
	return resp, err
}

// FailInteraction records a failed outcome.
func (c *Client) FailInteraction(ctx context.Context, id, errMsg string, usage TokenUsage) (Interaction, error) {
	var resp Interaction
	body := map[string]any{"error": errMsg, "token_usage": usage}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("interactions/%s/fail", url.PathEscape(id)), body, &resp)
	return resp, err
}

// InteractionChain returns the ancestors of an interaction, root first.
func (c *Client) InteractionChain(ctx context.Context, id string) ([]Interaction, error) {
	var resp []Interaction
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("interactions/%s/chain", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env errorEnvelope
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
