package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/austindbirch/taskhook/internal/model"
)

// Memory is a process-local Store used in tests and single-node demos
type Memory struct {
	mu       sync.RWMutex
	projects map[string]model.Project
	tasks    map[string]model.Task
	audit    map[string][]model.AuditRecord
	webhooks map[string]model.Webhook
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		projects: map[string]model.Project{},
		tasks:    map[string]model.Task{},
		audit:    map[string][]model.AuditRecord{},
		webhooks: map[string]model.Webhook{},
	}
}

func (m *Memory) CreateProject(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, ErrConflict)
	}
	m.projects[p.ID] = *p
	return nil
}

func (m *Memory) GetProject(_ context.Context, id string) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) CreateTask(_ context.Context, t *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, ErrConflict)
	}
	m.tasks[t.ID] = cloneTask(*t)
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	t = cloneTask(t)
	return &t, nil
}

func (m *Memory) ListTasks(_ context.Context, projectID string) ([]model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateTaskStatus(_ context.Context, id string, from, to model.TaskStatus, rec model.AuditRecord) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != from {
		return nil, fmt.Errorf("task %s is %s, expected %s: %w", id, t.Status, from, ErrConflict)
	}
	t.Status = to
	t.UpdatedAt = rec.CreatedAt
	m.tasks[id] = t

	rec.TaskID = id
	m.audit[id] = append(m.audit[id], rec)

	t = cloneTask(t)
	return &t, nil
}

func (m *Memory) ListAudit(_ context.Context, taskID string) ([]model.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.AuditRecord(nil), m.audit[taskID]...), nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	delete(m.audit, id)
	return nil
}

func (m *Memory) CreateWebhook(_ context.Context, w *model.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[w.ID]; ok {
		return fmt.Errorf("webhook %s: %w", w.ID, ErrConflict)
	}
	m.webhooks[w.ID] = cloneWebhook(*w)
	return nil
}

func (m *Memory) GetWebhook(_ context.Context, id string) (*model.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.webhooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	w = cloneWebhook(w)
	return &w, nil
}

func (m *Memory) ListWebhooks(_ context.Context) ([]model.Webhook, error) {
	return m.listWebhooks(func(model.Webhook) bool { return true }), nil
}

func (m *Memory) ListSubscribedWebhooks(_ context.Context, eventType string) ([]model.Webhook, error) {
	return m.listWebhooks(func(w model.Webhook) bool { return w.Subscribed(eventType) }), nil
}

func (m *Memory) listWebhooks(keep func(model.Webhook) bool) []model.Webhook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Webhook, 0, len(m.webhooks))
	for _, w := range m.webhooks {
		if keep(w) {
			out = append(out, cloneWebhook(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) UpdateWebhook(_ context.Context, w *model.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.webhooks[w.ID]
	if !ok {
		return ErrNotFound
	}
	updated := cloneWebhook(*w)
	updated.LastTriggered = existing.LastTriggered
	updated.CreatedAt = existing.CreatedAt
	m.webhooks[w.ID] = updated
	return nil
}

func (m *Memory) DeleteWebhook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return ErrNotFound
	}
	delete(m.webhooks, id)
	return nil
}

func (m *Memory) MarkWebhookTriggered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	w.LastTriggered = &at
	m.webhooks[id] = w
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func cloneTask(t model.Task) model.Task {
	t.DependsOn = append([]string(nil), t.DependsOn...)
	return t
}

func cloneWebhook(w model.Webhook) model.Webhook {
	w.Events = append([]string(nil), w.Events...)
	if w.LastTriggered != nil {
		lt := *w.LastTriggered
		w.LastTriggered = &lt
	}
	return w
}
