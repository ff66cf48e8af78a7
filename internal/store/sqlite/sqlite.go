// Package sqlite provides a store.Store backed by a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/store"
)

// Store persists taskhook records in SQLite
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (creating if needed) the database at dbPath and migrates it
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		order_index INTEGER NOT NULL DEFAULT 0,
		depends_on TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_audit (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		action TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS webhooks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		events TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 1,
		secret TEXT NOT NULL DEFAULT '',
		last_triggered DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);
	CREATE INDEX IF NOT EXISTS idx_task_audit_task_id ON task_audit(task_id);
	CREATE INDEX IF NOT EXISTS idx_webhooks_active ON webhooks(active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Projects ---

func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}
	return &p, nil
}

// --- Tasks ---

const taskColumns = `id, project_id, title, description, status, priority, order_index, depends_on, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		t    model.Task
		deps string
	)
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.OrderIndex, &deps, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(deps), &t.DependsOn); err != nil {
		return nil, fmt.Errorf("decode depends_on: %w", err)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	deps, err := json.Marshal(nonNil(t.DependsOn))
	if err != nil {
		return fmt.Errorf("encode depends_on: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.OrderIndex, string(deps),
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, projectID string) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, from, to model.TaskStatus, rec model.AuditRecord) (*model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	at := rec.CreatedAt.UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, at, id, from,
	)
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("query task status: %w", err)
		}
		return nil, fmt.Errorf("task %s is %s, expected %s: %w", id, current, from, store.ErrConflict)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_audit (id, task_id, action, old_value, new_value, note, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, id, rec.Action, rec.OldValue, rec.NewValue, rec.Note, rec.Actor, at,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return t, nil
}

func (s *Store) ListAudit(ctx context.Context, taskID string) ([]model.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, action, old_value, new_value, note, actor, created_at
		 FROM task_audit WHERE task_id = ? ORDER BY created_at, rowid`, taskID)
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
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Webhooks ---

const webhookColumns = `id, name, url, events, active, secret, last_triggered, created_at, updated_at`

func scanWebhook(row rowScanner) (*model.Webhook, error) {
	var (
		w       model.Webhook
		events  string
		lastHit sql.NullTime
	)
	if err := row.Scan(&w.ID, &w.Name, &w.URL, &events, &w.Active, &w.Secret, &lastHit, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(events), &w.Events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	if lastHit.Valid {
		t := lastHit.Time.UTC()
		w.LastTriggered = &t
	}
	return &w, nil
}

// DeleteTask clears the audit rows itself so databases created before the
// cascade was added still delete cleanly.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_audit WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete task audit: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if err := expectOne(result); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateWebhook(ctx context.Context, w *model.Webhook) error {
	events, err := json.Marshal(nonNil(w.Events))
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webhooks (`+webhookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.URL, string(events), w.Active, w.Secret, nullTime(w.LastTriggered),
		w.CreatedAt.UTC(), w.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	w, err := scanWebhook(s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query webhook: %w", err)
	}
	return w, nil
}

func (s *Store) ListWebhooks(ctx context.Context) ([]model.Webhook, error) {
	return s.queryWebhooks(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at, id`)
}

func (s *Store) ListSubscribedWebhooks(ctx context.Context, eventType string) ([]model.Webhook, error) {
	return s.queryWebhooks(ctx,
		`SELECT `+webhookColumns+` FROM webhooks
		 WHERE active = 1 AND EXISTS (SELECT 1 FROM json_each(webhooks.events) WHERE json_each.value = ?)
		 ORDER BY created_at, id`, eventType)
}

func (s *Store) queryWebhooks(ctx context.Context, query string, args ...any) ([]model.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	events, err := json.Marshal(nonNil(w.Events))
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET name = ?, url = ?, events = ?, active = ?, secret = ?, updated_at = ? WHERE id = ?`,
		w.Name, w.URL, string(events), w.Active, w.Secret, w.UpdatedAt.UTC(), w.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return expectOne(result)
}

func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return expectOne(result)
}

func (s *Store) MarkWebhookTriggered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE webhooks SET last_triggered = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark webhook triggered: %w", err)
	}
	return expectOne(result)
}

func expectOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
