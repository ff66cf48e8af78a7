// Package store defines persistence for projects, tasks, their audit trail
// and webhook subscriptions. Implementations live in this package (memory)
// and in the sqlite and postgres subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/austindbirch/taskhook/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row changed between read and write
	ErrConflict = errors.New("conflict")
)

// Store is implemented by every backend. Callers assign ids and timestamps.
type Store interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)

	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	// ListTasks returns the tasks of projectID, or every task when it is empty
	ListTasks(ctx context.Context, projectID string) ([]model.Task, error)
	// UpdateTaskStatus moves a task from one status to another and appends
	// rec to its audit trail in the same transaction. If the stored status
	// is no longer from, nothing is written and ErrConflict is returned.
	UpdateTaskStatus(ctx context.Context, id string, from, to model.TaskStatus, rec model.AuditRecord) (*model.Task, error)
	ListAudit(ctx context.Context, taskID string) ([]model.AuditRecord, error)
	// DeleteTask removes a task together with its audit trail. Other tasks
	// listing it in DependsOn are left untouched.
	DeleteTask(ctx context.Context, id string) error

	CreateWebhook(ctx context.Context, w *model.Webhook) error
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
	ListWebhooks(ctx context.Context) ([]model.Webhook, error)
	// ListSubscribedWebhooks returns active webhooks listening to eventType
	ListSubscribedWebhooks(ctx context.Context, eventType string) ([]model.Webhook, error)
	UpdateWebhook(ctx context.Context, w *model.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	MarkWebhookTriggered(ctx context.Context, id string, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}
