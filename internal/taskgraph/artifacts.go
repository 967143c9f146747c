package taskgraph

import (
	"slices"
	"sort"

	"agentgraph/internal/domain"
)

type ArtifactInput struct {
	TaskID         string              `json:"task_id" validate:"required"`
	CreatorAgentID string              `json:"creator_agent_id"`
	Name           string              `json:"name" validate:"required,max=300"`
	Type           domain.ArtifactType `json:"type" validate:"omitempty,oneof=code document image data config test log other"`
	Content        string              `json:"content"`
	MimeType       string              `json:"mime_type"`
	Tags           []string            `json:"tags"`
}

type ArtifactFilter struct {
	ProjectID string
	TaskID    string
	Status    domain.ArtifactStatus
}

func (g *Graph) CreateArtifact(in ArtifactInput) (domain.Artifact, error) {
	if err := domain.ValidateStruct(in); err != nil {
		return domain.Artifact{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[in.TaskID]
	if !ok {
		return domain.Artifact{}, domain.NotFound("task", in.TaskID)
	}
	typ := in.Type
	if typ == "" {
		typ = domain.ArtifactOther
	}
	now := g.now()
	a := &domain.Artifact{
		ID:             g.newID(),
		ProjectID:      t.ProjectID,
		TaskID:         t.ID,
		CreatorAgentID: in.CreatorAgentID,
		Name:           in.Name,
		Type:           typ,
		Content:        in.Content,
		MimeType:       in.MimeType,
		Tags:           slices.Clone(in.Tags),
		Version:        1,
		Status:         domain.ArtifactDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	g.artifacts[a.ID] = a
	t.ArtifactIDs = addID(t.ArtifactIDs, a.ID)
	t.UpdatedAt = now
	return cloneArtifact(a), nil
}

func (g *Graph) GetArtifact(id string) (domain.Artifact, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.artifacts[id]
	if !ok {
		return domain.Artifact{}, domain.NotFound("artifact", id)
	}
	return cloneArtifact(a), nil
}

func (g *Graph) ListArtifacts(f ArtifactFilter) []domain.Artifact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := []domain.Artifact{}
	for _, a := range g.artifacts {
		if f.ProjectID != "" && a.ProjectID != f.ProjectID {
			continue
		}
		if f.TaskID != "" && a.TaskID != f.TaskID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		res = append(res, cloneArtifact(a))
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// UpdateArtifactContent replaces the content of a draft or rejected
// artifact, bumps its version and returns it to draft.
func (g *Graph) UpdateArtifactContent(id, content string) (domain.Artifact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.artifacts[id]
	if !ok {
		return domain.Artifact{}, domain.NotFound("artifact", id)
	}
	if a.Status != domain.ArtifactDraft && a.Status != domain.ArtifactRejected {
		return domain.Artifact{}, domain.InvalidTransitionError{Entity: "artifact", ID: id, From: string(a.Status), To: string(domain.ArtifactDraft)}
	}
	if a.Content == content && a.Status == domain.ArtifactDraft {
		return cloneArtifact(a), nil
	}
	a.Content = content
	a.Version++
	a.Status = domain.ArtifactDraft
	a.UpdatedAt = g.now()
	return cloneArtifact(a), nil
}

func (g *Graph) SubmitArtifact(id string) (domain.Artifact, error) {
	return g.setArtifactStatus(id, domain.ArtifactPending, nil)
}

func (g *Graph) ApproveArtifact(id, reviewer, comments string) (domain.Artifact, error) {
	return g.setArtifactStatus(id, domain.ArtifactApproved, &review{by: reviewer, comments: comments})
}

func (g *Graph) RejectArtifact(id, reviewer, comments string) (domain.Artifact, error) {
	return g.setArtifactStatus(id, domain.ArtifactRejected, &review{by: reviewer, comments: comments})
}

func (g *Graph) SupersedeArtifact(id string) (domain.Artifact, error) {
	return g.setArtifactStatus(id, domain.ArtifactSuperseded, nil)
}

type review struct {
	by       string
	comments string
}

func (g *Graph) setArtifactStatus(id string, to domain.ArtifactStatus, rv *review) (domain.Artifact, error) {
	if rv != nil && rv.by == "" {
		return domain.Artifact{}, domain.Invalid("reviewed_by", "required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.artifacts[id]
	if !ok {
		return domain.Artifact{}, domain.NotFound("artifact", id)
	}
	if err := ensureArtifactTransition(id, a.Status, to); err != nil {
		return domain.Artifact{}, err
	}
	now := g.now()
	a.Status = to
	if rv != nil {
		a.ReviewedBy = rv.by
		a.ReviewComments = rv.comments
		a.ReviewedAt = &now
	}
	a.UpdatedAt = now
	return cloneArtifact(a), nil
}

// DeleteArtifact removes the artifact and its reference on the owning task.
func (g *Graph) DeleteArtifact(id string) (domain.Artifact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.artifacts[id]
	if !ok {
		return domain.Artifact{}, domain.NotFound("artifact", id)
	}
	if t, ok := g.tasks[a.TaskID]; ok {
		t.ArtifactIDs = removeID(t.ArtifactIDs, id)
		t.UpdatedAt = g.now()
	}
	delete(g.artifacts, id)
	return cloneArtifact(a), nil
}
