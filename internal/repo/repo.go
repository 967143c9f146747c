package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentgraph/internal/domain"
)

// Document kinds stored in the documents table.
const (
	KindProject      = "project"
	KindTask         = "task"
	KindArtifact     = "artifact"
	KindRelationship = "relationship"
	KindInteraction  = "interaction"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

type Document struct {
	Kind      string
	ID        string
	Scope     string
	Body      json.RawMessage
	UpdatedAt string
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PutTx upserts a JSON document. scope groups documents for bulk deletes
// (project id for tasks and artifacts, workflow id for interactions).
func (r Repo) PutTx(ctx context.Context, tx *sql.Tx, kind, id, scope string, v any) error {
	return put(ctx, tx, kind, id, scope, v)
}

func (r Repo) Put(ctx context.Context, kind, id, scope string, v any) error {
	return put(ctx, r.DB, kind, id, scope, v)
}

func put(ctx context.Context, ex execer, kind, id, scope string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = ex.ExecContext(ctx, `INSERT INTO documents(kind,id,scope,body_json,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(kind,id) DO UPDATE SET scope=excluded.scope, body_json=excluded.body_json, updated_at=excluded.updated_at`,
		kind, id, nullable(scope), string(body), now)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", kind, id, err)
	}
	return nil
}

func (r Repo) DeleteTx(ctx context.Context, tx *sql.Tx, kind, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE kind=? AND id=?`, kind, id)
	return err
}

// DeleteScopeTx removes every document of a kind within a scope.
func (r Repo) DeleteScopeTx(ctx context.Context, tx *sql.Tx, kind, scope string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE kind=? AND scope=?`, kind, scope)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Get decodes a single document into out.
func (r Repo) Get(ctx context.Context, kind, id string, out any) error {
	var body string
	err := r.DB.QueryRowContext(ctx, `SELECT body_json FROM documents WHERE kind=? AND id=?`, kind, id).Scan(&body)
	if err == sql.ErrNoRows {
		return domain.NotFound(kind, id)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), out)
}

// List returns documents of a kind in insertion order, optionally limited
// to one scope.
func (r Repo) List(ctx context.Context, kind, scope string) ([]Document, error) {
	query := `SELECT kind,id,COALESCE(scope,''),body_json,updated_at FROM documents WHERE kind=?`
	args := []any{kind}
	if scope != "" {
		query += ` AND scope=?`
		args = append(args, scope)
	}
	query += ` ORDER BY rowid`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Document
	for rows.Next() {
		var d Document
		var body string
		if err := rows.Scan(&d.Kind, &d.ID, &d.Scope, &body, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Body = json.RawMessage(body)
		res = append(res, d)
	}
	return res, rows.Err()
}

// Decode lists and unmarshals every document of a kind.
func Decode[T any](ctx context.Context, r Repo, kind string) ([]T, error) {
	docs, err := r.List(ctx, kind, "")
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d.Body, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, d.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// CountByKind reports how many documents of each kind are stored.
func (r Repo) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind, count(*) FROM documents GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		res[kind] = n
	}
	return res, rows.Err()
}

// ClearTx wipes all documents; used before a snapshot import.
func (r Repo) ClearTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM documents`)
	return err
}

type EventFilter struct {
	Scope      string
	Type       string
	EntityKind string
	EntityID   string
}

// LatestEventsFrom returns events newest first, starting below cursor when
// cursor is positive.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Scope != "" {
		clauses = append(clauses, "scope=?")
		args = append(args, f.Scope)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(scope,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, scope string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if scope != "" {
		clauses = append(clauses, "scope=?")
		args = append(args, scope)
	}
	query := `SELECT id,ts,type,COALESCE(scope,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Scope, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// WebhookCursor returns the last delivered event id for a webhook URL.
func (r Repo) WebhookCursor(ctx context.Context, url string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM webhook_cursors WHERE url=?`, url).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, domain.NotFound("webhook cursor", url)
	}
	return id, err
}

func (r Repo) SetWebhookCursor(ctx context.Context, url string, id int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(url,last_event_id,updated_at) VALUES (?,?,?)
ON CONFLICT(url) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`,
		url, id, time.Now().UTC().Format(time.RFC3339))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
