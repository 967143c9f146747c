package taskgraph

import (
	"slices"

	"agentgraph/internal/domain"
)

type Snapshot struct {
	Projects  []domain.Project
	Tasks     []domain.Task
	Artifacts []domain.Artifact
}

func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var s Snapshot
	for _, p := range g.projects {
		s.Projects = append(s.Projects, cloneProject(p))
	}
	for _, t := range g.tasks {
		s.Tasks = append(s.Tasks, cloneTask(t))
	}
	sortTasks(s.Tasks)
	for _, a := range g.artifacts {
		s.Artifacts = append(s.Artifacts, cloneArtifact(a))
	}
	return s
}

// Restore replaces the graph contents. Blocks sets and artifact lists are
// rebuilt from dependencies and artifacts so a partially written store
// still loads into a symmetric graph; dangling references are dropped.
func (g *Graph) Restore(s Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.projects = map[string]*domain.Project{}
	g.tasks = map[string]*domain.Task{}
	g.artifacts = map[string]*domain.Artifact{}
	for _, p := range s.Projects {
		c := cloneProject(&p)
		g.projects[c.ID] = &c
	}
	for _, t := range s.Tasks {
		if _, ok := g.projects[t.ProjectID]; !ok {
			continue
		}
		c := cloneTask(&t)
		c.Blocks = []string{}
		c.ArtifactIDs = []string{}
		g.tasks[c.ID] = &c
	}
	ordered := make([]domain.Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		ordered = append(ordered, *t)
	}
	sortTasks(ordered)
	for _, o := range ordered {
		t := g.tasks[o.ID]
		t.Dependencies = slices.DeleteFunc(t.Dependencies, func(dep string) bool {
			_, ok := g.tasks[dep]
			return !ok || dep == t.ID
		})
		for _, dep := range t.Dependencies {
			g.tasks[dep].Blocks = addID(g.tasks[dep].Blocks, t.ID)
		}
	}
	arts := slices.Clone(s.Artifacts)
	slices.SortFunc(arts, func(a, b domain.Artifact) int { return a.CreatedAt.Compare(b.CreatedAt) })
	for _, a := range arts {
		t, ok := g.tasks[a.TaskID]
		if !ok {
			continue
		}
		c := cloneArtifact(&a)
		g.artifacts[c.ID] = &c
		t.ArtifactIDs = addID(t.ArtifactIDs, c.ID)
	}
}
