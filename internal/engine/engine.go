package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"agentgraph/internal/config"
	"agentgraph/internal/domain"
	"agentgraph/internal/events"
	"agentgraph/internal/ledger"
	"agentgraph/internal/relgraph"
	"agentgraph/internal/repo"
	"agentgraph/internal/snapshot"
	"agentgraph/internal/taskgraph"
)

// Engine applies every change to the in-memory graphs first and then
// writes the affected documents plus one event in a single transaction.
// A failed write reloads the graphs from the store.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Logger    *slog.Logger
	Tasks     *taskgraph.Graph
	Edges     *relgraph.Graph
	Ledger    *ledger.Ledger
	Snapshots *snapshot.Store
	Now       func() time.Time

	mu *sync.Mutex
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	tasks := taskgraph.New()
	tasks.MaxAttempts = cfg.Tasks.MaxAttempts
	edges := relgraph.New()
	edges.Policies = cfg.Policies()
	lg := ledger.New(edges, cfg.Ledger.EnforceRelationshipPolicy)
	lg.MaxChainDepth = cfg.Ledger.MaxChainDepth
	lg.Logger = logger
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Logger: logger,
		Tasks:  tasks,
		Edges:  edges,
		Ledger: lg,
		Now:    time.Now,
		mu:     &sync.Mutex{},
	}
}

// WithClock points the engine and all graphs at the same clock.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Tasks.Now = now
	e.Edges.Now = now
	e.Ledger.Now = now
	return e
}

// WithIDs makes every graph draw ids from the same generator.
func (e Engine) WithIDs(newID func() string) Engine {
	e.Tasks.NewID = newID
	e.Edges.NewID = newID
	e.Ledger.NewID = newID
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) lock() func() {
	if e.mu == nil {
		return func() {}
	}
	e.mu.Lock()
	return e.mu.Unlock
}

// Load replaces the graphs with the documents in the store.
func (e Engine) Load(ctx context.Context) error {
	defer e.lock()()
	return e.load(ctx)
}

func (e Engine) load(ctx context.Context) error {
	projects, err := repo.Decode[domain.Project](ctx, e.Repo, repo.KindProject)
	if err != nil {
		return err
	}
	tasks, err := repo.Decode[domain.Task](ctx, e.Repo, repo.KindTask)
	if err != nil {
		return err
	}
	artifacts, err := repo.Decode[domain.Artifact](ctx, e.Repo, repo.KindArtifact)
	if err != nil {
		return err
	}
	edges, err := repo.Decode[domain.RelationshipEdge](ctx, e.Repo, repo.KindRelationship)
	if err != nil {
		return err
	}
	items, err := repo.Decode[domain.Interaction](ctx, e.Repo, repo.KindInteraction)
	if err != nil {
		return err
	}
	e.Tasks.Restore(taskgraph.Snapshot{Projects: projects, Tasks: tasks, Artifacts: artifacts})
	e.Edges.Restore(edges)
	e.Ledger.Restore(items)
	e.logger().Debug("state loaded",
		"projects", len(projects), "tasks", len(tasks), "artifacts", len(artifacts),
		"relationships", len(edges), "interactions", len(items))
	return nil
}

// commit runs fn inside a transaction. On failure the graphs are reloaded
// so memory never runs ahead of the store.
func (e Engine) commit(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := e.runTx(ctx, fn)
	if err != nil {
		if rerr := e.load(context.WithoutCancel(ctx)); rerr != nil {
			e.logger().Error("reload after failed write", "err", rerr)
		}
		return err
	}
	e.autoExport()
	return nil
}

func (e Engine) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) autoExport() {
	if e.Snapshots == nil {
		return
	}
	if err := e.Snapshots.Export(e.snapshot()); err != nil {
		e.logger().Warn("snapshot auto-export failed", "path", e.Snapshots.Path, "err", err)
	}
}

// Snapshot returns a consistent copy of every entity.
func (e Engine) Snapshot() snapshot.Data {
	defer e.lock()()
	return e.snapshot()
}

func (e Engine) snapshot() snapshot.Data {
	tg := e.Tasks.Snapshot()
	return snapshot.Data{
		ExportedAt:    e.now().UTC(),
		Projects:      tg.Projects,
		Tasks:         tg.Tasks,
		Artifacts:     tg.Artifacts,
		Relationships: e.Edges.Snapshot(),
		Interactions:  e.Ledger.Snapshot(),
	}
}

// ImportSnapshot replaces all state with d.
func (e Engine) ImportSnapshot(ctx context.Context, d snapshot.Data, actorID string) error {
	defer e.lock()()
	e.Tasks.Restore(taskgraph.Snapshot{Projects: d.Projects, Tasks: d.Tasks, Artifacts: d.Artifacts})
	e.Edges.Restore(d.Relationships)
	e.Ledger.Restore(d.Interactions)
	// restored graphs normalize edges, so persist what they hold
	s := e.snapshot()
	return e.commit(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.ClearTx(ctx, tx); err != nil {
			return err
		}
		for _, p := range s.Projects {
			if err := e.Repo.PutTx(ctx, tx, repo.KindProject, p.ID, "", p); err != nil {
				return err
			}
		}
		for _, t := range s.Tasks {
			if err := e.Repo.PutTx(ctx, tx, repo.KindTask, t.ID, t.ProjectID, t); err != nil {
				return err
			}
		}
		for _, a := range s.Artifacts {
			if err := e.Repo.PutTx(ctx, tx, repo.KindArtifact, a.ID, a.ProjectID, a); err != nil {
				return err
			}
		}
		for _, r := range s.Relationships {
			if err := e.Repo.PutTx(ctx, tx, repo.KindRelationship, r.ID, "", r); err != nil {
				return err
			}
		}
		for _, it := range s.Interactions {
			if err := e.Repo.PutTx(ctx, tx, repo.KindInteraction, it.ID, it.WorkflowID, it); err != nil {
				return err
			}
		}
		counts := s.Counts()
		payload := events.EventPayload{}
		for k, v := range counts {
			payload[k] = v
		}
		return e.Events.Append(ctx, tx, events.SnapshotImported, "", "snapshot", "", actorID, payload)
	})
}

// ListEvents lists the event log newest first.
func (e Engine) ListEvents(ctx context.Context, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		return nil, domain.Invalid("limit", "must be at most 1000")
	}
	return e.Repo.LatestEventsFrom(ctx, limit, cursor, f)
}

func (e Engine) putTasks(ctx context.Context, tx *sql.Tx, ids ...string) error {
	for _, id := range ids {
		t, err := e.Tasks.GetTask(id)
		if err != nil {
			continue
		}
		if err := e.Repo.PutTx(ctx, tx, repo.KindTask, t.ID, t.ProjectID, t); err != nil {
			return err
		}
	}
	return nil
}
