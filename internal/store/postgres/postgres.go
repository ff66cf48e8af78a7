// Package postgres provides a store.Store on top of a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/austindbirch/taskhook/internal/db"
	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/store"
)

//go:embed schema.sql
var Schema string

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and applies the schema
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := db.Connect(ctx, dsn, 0)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool, Schema); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

// New wraps an existing pool; the schema must already be applied
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO taskhook.projects (id, name, created_at) VALUES ($1, $2, $3)`,
		p.ID, p.Name, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM taskhook.projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}
	return &p, nil
}

const taskColumns = `id, project_id, title, description, status, priority, order_index, depends_on, created_at, updated_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var (
		t      model.Task
		status string
		prio   string
	)
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &prio,
		&t.OrderIndex, &t.DependsOn, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.Priority = model.Priority(prio)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	deps := t.DependsOn
	if deps == nil {
		deps = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO taskhook.tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.ProjectID, t.Title, t.Description, string(t.Status), string(t.Priority), t.OrderIndex, deps,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM taskhook.tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, projectID string) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM taskhook.tasks
		 WHERE ($1 = '' OR project_id = $1)
		 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, from, to model.TaskStatus, rec model.AuditRecord) (*model.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTask(tx.QueryRow(ctx,
		`UPDATE taskhook.tasks SET status = $3, updated_at = $4
		 WHERE id = $1 AND status = $2
		 RETURNING `+taskColumns,
		id, string(from), string(to), rec.CreatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM taskhook.tasks WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("query task status: %w", err)
		}
		return nil, fmt.Errorf("task %s is %s, expected %s: %w", id, current, from, store.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO taskhook.task_audit (id, task_id, action, old_value, new_value, note, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, id, rec.Action, rec.OldValue, rec.NewValue, rec.Note, rec.Actor, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return t, nil
}

func (s *Store) ListAudit(ctx context.Context, taskID string) ([]model.AuditRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, action, old_value, new_value, note, actor, created_at
		 FROM taskhook.task_audit WHERE task_id = $1 ORDER BY created_at, seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var r model.AuditRecord
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Action, &r.OldValue, &r.NewValue, &r.Note, &r.Actor, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

const webhookColumns = `id, name, url, events, active, secret, last_triggered, created_at, updated_at`

func scanWebhook(row pgx.Row) (*model.Webhook, error) {
	var (
		w      model.Webhook
		events []byte
	)
	if err := row.Scan(&w.ID, &w.Name, &w.URL, &events, &w.Active, &w.Secret, &w.LastTriggered, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(events, &w.Events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	if w.LastTriggered != nil {
		lt := w.LastTriggered.UTC()
		w.LastTriggered = &lt
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}

func eventsJSON(events []string) (string, error) {
	if events == nil {
		events = []string{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("encode events: %w", err)
	}
	return string(b), nil
}

// DeleteTask relies on ON DELETE CASCADE to drop the audit trail
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM taskhook.tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateWebhook(ctx context.Context, w *model.Webhook) error {
	events, err := eventsJSON(w.Events)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO taskhook.webhooks (`+webhookColumns+`)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)`,
		w.ID, w.Name, w.URL, events, w.Active, w.Secret, w.LastTriggered, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	w, err := scanWebhook(s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM taskhook.webhooks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query webhook: %w", err)
	}
	return w, nil
}

func (s *Store) ListWebhooks(ctx context.Context) ([]model.Webhook, error) {
	return s.queryWebhooks(ctx, `SELECT `+webhookColumns+` FROM taskhook.webhooks ORDER BY created_at, id`)
}

func (s *Store) ListSubscribedWebhooks(ctx context.Context, eventType string) ([]model.Webhook, error) {
	filter, err := eventsJSON([]string{eventType})
	if err != nil {
		return nil, err
	}
	return s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM taskhook.webhooks
		 WHERE active AND events @> $1::jsonb
		 ORDER BY created_at, id`, filter)
}

func (s *Store) queryWebhooks(ctx context.Context, query string, args ...any) ([]model.Webhook, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var out []model.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWebhook(ctx context.Context, w *model.Webhook) error {
	events, err := eventsJSON(w.Events)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE taskhook.webhooks
		 SET name = $2, url = $3, events = $4::jsonb, active = $5, secret = $6, updated_at = $7
		 WHERE id = $1`,
		w.ID, w.Name, w.URL, events, w.Active, w.Secret, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM taskhook.webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkWebhookTriggered(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE taskhook.webhooks SET last_triggered = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark webhook triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
