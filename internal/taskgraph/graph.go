// Package taskgraph holds projects, tasks and artifacts in memory and keeps
// the dependency/blocking edges between tasks symmetric.
package taskgraph

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentgraph/internal/domain"
)

const DefaultMaxAttempts = 3

// Graph is safe for concurrent use. Every read returns a copy.
type Graph struct {
	Now         func() time.Time
	NewID       func() string
	MaxAttempts int

	mu        sync.RWMutex
	projects  map[string]*domain.Project
	tasks     map[string]*domain.Task
	artifacts map[string]*domain.Artifact
}

func New() *Graph {
	return &Graph{
		Now:         time.Now,
		NewID:       uuid.NewString,
		MaxAttempts: DefaultMaxAttempts,
		projects:    map[string]*domain.Project{},
		tasks:       map[string]*domain.Task{},
		artifacts:   map[string]*domain.Artifact{},
	}
}

func (g *Graph) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Graph) newID() string {
	if g.NewID != nil {
		return g.NewID()
	}
	return uuid.NewString()
}

type ProjectInput struct {
	Name        string             `json:"name" validate:"required,max=200"`
	Description string             `json:"description"`
	Mode        domain.ProjectMode `json:"mode" validate:"omitempty,oneof=local github hybrid"`
	Tags        []string           `json:"tags"`
}

// ProjectPatch updates the non-nil fields of a project.
type ProjectPatch struct {
	Name        *string               `validate:"omitempty,min=1,max=200"`
	Description *string
	Status      *domain.ProjectStatus `validate:"omitempty,oneof=planning active on_hold completed archived cancelled"`
	Tags        []string
}

// Removed lists what a cascading delete touched.
type Removed struct {
	Tasks        []string
	Artifacts    []string
	TouchedTasks []string
}

func (g *Graph) CreateProject(in ProjectInput) (domain.Project, error) {
	if err := domain.ValidateStruct(in); err != nil {
		return domain.Project{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	mode := in.Mode
	if mode == "" {
		mode = domain.ModeLocal
	}
	p := &domain.Project{
		ID:          g.newID(),
		Slug:        g.uniqueSlugLocked(Slugify(in.Name)),
		Name:        in.Name,
		Description: in.Description,
		Mode:        mode,
		Status:      domain.ProjectPlanning,
		Tags:        slices.Clone(in.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	g.projects[p.ID] = p
	return cloneProject(p), nil
}

func (g *Graph) uniqueSlugLocked(base string) string {
	taken := map[string]bool{}
	for _, p := range g.projects {
		taken[p.Slug] = true
	}
	return UniqueSlug(base, func(s string) bool { return taken[s] })
}

func (g *Graph) GetProject(id string) (domain.Project, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.projects[id]
	if !ok {
		return domain.Project{}, domain.NotFound("project", id)
	}
	return cloneProject(p), nil
}

func (g *Graph) GetProjectBySlug(slug string) (domain.Project, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.projects {
		if p.Slug == slug {
			return cloneProject(p), nil
		}
	}
	return domain.Project{}, domain.NotFound("project", slug)
}

func (g *Graph) ListProjects() []domain.Project {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := make([]domain.Project, 0, len(g.projects))
	for _, p := range g.projects {
		res = append(res, cloneProject(p))
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

func (g *Graph) UpdateProject(id string, patch ProjectPatch) (domain.Project, error) {
	if err := domain.ValidateStruct(patch); err != nil {
		return domain.Project{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.projects[id]
	if !ok {
		return domain.Project{}, domain.NotFound("project", id)
	}
	if patch.Name != nil && *patch.Name != p.Name {
		p.Name = *patch.Name
		slug := Slugify(p.Name)
		if slug != p.Slug {
			p.Slug = ""
			p.Slug = g.uniqueSlugLocked(slug)
		}
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Tags != nil {
		p.Tags = slices.Clone(patch.Tags)
	}
	p.UpdatedAt = g.now()
	return cloneProject(p), nil
}

// AddProjectUsage accumulates token and cost counters on a project.
func (g *Graph) AddProjectUsage(id string, tokens, costCents int64) (domain.Project, error) {
	if tokens < 0 || costCents < 0 {
		return domain.Project{}, domain.Invalid("usage", "must not be negative")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.projects[id]
	if !ok {
		return domain.Project{}, domain.NotFound("project", id)
	}
	p.TotalTokensUsed += tokens
	p.TotalCostCents += costCents
	p.UpdatedAt = g.now()
	return cloneProject(p), nil
}

// DeleteProject removes the project with all of its tasks and artifacts.
func (g *Graph) DeleteProject(id string) (Removed, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.projects[id]; !ok {
		return Removed{}, domain.NotFound("project", id)
	}
	var res Removed
	for aid, a := range g.artifacts {
		if a.ProjectID == id {
			delete(g.artifacts, aid)
			res.Artifacts = append(res.Artifacts, aid)
		}
	}
	for tid, t := range g.tasks {
		if t.ProjectID == id {
			delete(g.tasks, tid)
			res.Tasks = append(res.Tasks, tid)
		}
	}
	delete(g.projects, id)
	sort.Strings(res.Artifacts)
	sort.Strings(res.Tasks)
	return res, nil
}

func cloneProject(p *domain.Project) domain.Project {
	c := *p
	c.Tags = slices.Clone(p.Tags)
	return c
}

func cloneTask(t *domain.Task) domain.Task {
	c := *t
	c.Dependencies = cloneIDs(t.Dependencies)
	c.Blocks = cloneIDs(t.Blocks)
	c.ArtifactIDs = cloneIDs(t.ArtifactIDs)
	c.Tags = slices.Clone(t.Tags)
	if t.Subtasks != nil {
		c.Subtasks = make([]domain.Subtask, len(t.Subtasks))
		for i, s := range t.Subtasks {
			c.Subtasks[i] = s
			c.Subtasks[i].CompletedAt = cloneTime(s.CompletedAt)
		}
	}
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.EstimatedMinutes = cloneInt(t.EstimatedMinutes)
	c.ActualDurationMinutes = cloneInt(t.ActualDurationMinutes)
	return c
}

func cloneArtifact(a *domain.Artifact) domain.Artifact {
	c := *a
	c.Tags = slices.Clone(a.Tags)
	c.ReviewedAt = cloneTime(a.ReviewedAt)
	return c
}

// cloneIDs never returns nil so JSON renders empty sets as [].
func cloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func addID(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id })
}
