// Package storetest holds the behavior every store.Store backend must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/store"
)

// Factory returns an empty store; the suite closes it
type Factory func(t *testing.T) store.Store

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ProjectRoundTrip", testProjectRoundTrip},
		{"TaskRoundTrip", testTaskRoundTrip},
		{"ListTasksByProject", testListTasksByProject},
		{"UpdateTaskStatusWritesAudit", testUpdateTaskStatusWritesAudit},
		{"UpdateTaskStatusConflict", testUpdateTaskStatusConflict},
		{"UpdateTaskStatusConcurrent", testUpdateTaskStatusConcurrent},
		{"DeleteTask", testDeleteTask},
		{"WebhookLifecycle", testWebhookLifecycle},
		{"ListSubscribedWebhooks", testListSubscribedWebhooks},
		{"MarkWebhookTriggered", testMarkWebhookTriggered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func task(id, projectID string, deps ...string) *model.Task {
	return &model.Task{
		ID:         id,
		ProjectID:  projectID,
		Title:      "task " + id,
		Status:     model.StatusPending,
		Priority:   model.PriorityMedium,
		OrderIndex: 1,
		DependsOn:  deps,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
}

func testProjectRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateProject(ctx, &model.Project{ID: "p1", Name: "Launch", CreatedAt: base}); err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}
	got, err := s.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProject() error: %v", err)
	}
	if got.Name != "Launch" {
		t.Errorf("GetProject().Name = %q, want %q", got.Name, "Launch")
	}
	if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetProject(missing) error = %v, want ErrNotFound", err)
	}
}

func testTaskRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := task("t1", "p1", "t0", "tx")
	in.Priority = model.PriorityCritical
	in.Description = "ship it"
	if err := s.CreateTask(ctx, in); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if got.Title != in.Title || got.Description != in.Description || got.ProjectID != "p1" {
		t.Errorf("GetTask() = %+v, want %+v", got, in)
	}
	if got.Priority != model.PriorityCritical || got.Status != model.StatusPending {
		t.Errorf("GetTask() priority/status = %s/%s", got.Priority, got.Status)
	}
	if len(got.DependsOn) != 2 {
		t.Errorf("GetTask().DependsOn = %v, want 2 entries", got.DependsOn)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("GetTask().CreatedAt = %v, want %v", got.CreatedAt, base)
	}

	if _, err := s.GetTask(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTask(missing) error = %v, want ErrNotFound", err)
	}
}

func testListTasksByProject(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, tk := range []*model.Task{task("a", "p1"), task("b", "p1"), task("c", "p2")} {
		if err := s.CreateTask(ctx, tk); err != nil {
			t.Fatalf("CreateTask(%s) error: %v", tk.ID, err)
		}
	}

	p1, err := s.ListTasks(ctx, "p1")
	if err != nil {
		t.Fatalf("ListTasks(p1) error: %v", err)
	}
	if len(p1) != 2 {
		t.Errorf("ListTasks(p1) = %d tasks, want 2", len(p1))
	}

	all, err := s.ListTasks(ctx, "")
	if err != nil {
		t.Fatalf("ListTasks() error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListTasks() = %d tasks, want 3", len(all))
	}
}

func testUpdateTaskStatusWritesAudit(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateTask(ctx, task("t1", "p1")); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	at := base.Add(time.Hour)
	got, err := s.UpdateTaskStatus(ctx, "t1", model.StatusPending, model.StatusInProgress, model.AuditRecord{
		ID:        "a1",
		Action:    model.ActionStatusChange,
		OldValue:  string(model.StatusPending),
		NewValue:  string(model.StatusInProgress),
		Note:      "picked up",
		Actor:     "user-1",
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("UpdateTaskStatus() error: %v", err)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("UpdateTaskStatus().Status = %s, want in_progress", got.Status)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("UpdateTaskStatus().UpdatedAt = %v, want %v", got.UpdatedAt, at)
	}

	stored, _ := s.GetTask(ctx, "t1")
	if stored.Status != model.StatusInProgress {
		t.Errorf("stored status = %s, want in_progress", stored.Status)
	}

	history, err := s.ListAudit(ctx, "t1")
	if err != nil {
		t.Fatalf("ListAudit() error: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("ListAudit() = %d records, want 1", len(history))
	}
	rec := history[0]
	if rec.TaskID != "t1" || rec.OldValue != "pending" || rec.NewValue != "in_progress" || rec.Note != "picked up" || rec.Actor != "user-1" {
		t.Errorf("audit record = %+v", rec)
	}

	if _, err := s.UpdateTaskStatus(ctx, "missing", model.StatusPending, model.StatusInProgress, model.AuditRecord{ID: "a2", CreatedAt: at}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateTaskStatus(missing) error = %v, want ErrNotFound", err)
	}
}

func testUpdateTaskStatusConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateTask(ctx, task("t1", "p1")); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	_, err := s.UpdateTaskStatus(ctx, "t1", model.StatusInProgress, model.StatusCompleted, model.AuditRecord{ID: "a1", CreatedAt: base})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("UpdateTaskStatus() with stale status error = %v, want ErrConflict", err)
	}

	history, _ := s.ListAudit(ctx, "t1")
	if len(history) != 0 {
		t.Errorf("conflicting update wrote %d audit records, want 0", len(history))
	}
	stored, _ := s.GetTask(ctx, "t1")
	if stored.Status != model.StatusPending {
		t.Errorf("stored status = %s, want pending", stored.Status)
	}
}

func testUpdateTaskStatusConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateTask(ctx, task("t1", "p1")); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateTaskStatus(ctx, "t1", model.StatusPending, model.StatusInProgress, model.AuditRecord{
				ID:        "a" + string(rune('0'+i)),
				Action:    model.ActionStatusChange,
				CreatedAt: base,
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("concurrent transitions succeeded %d times, want 1", wins)
	}
	history, _ := s.ListAudit(ctx, "t1")
	if len(history) != 1 {
		t.Errorf("audit records = %d, want 1", len(history))
	}
}

func testDeleteTask(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, tk := range []*model.Task{task("t1", "p1"), task("t2", "p1", "t1")} {
		if err := s.CreateTask(ctx, tk); err != nil {
			t.Fatalf("CreateTask(%s) error: %v", tk.ID, err)
		}
	}
	if _, err := s.UpdateTaskStatus(ctx, "t1", model.StatusPending, model.StatusInProgress, model.AuditRecord{ID: "a1", CreatedAt: base}); err != nil {
		t.Fatalf("UpdateTaskStatus() error: %v", err)
	}

	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask() error: %v", err)
	}
	if _, err := s.GetTask(ctx, "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTask(deleted) error = %v, want ErrNotFound", err)
	}
	history, err := s.ListAudit(ctx, "t1")
	if err != nil {
		t.Fatalf("ListAudit() error: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("ListAudit(deleted) = %d records, want 0", len(history))
	}

	// dependents keep their reference to the deleted task
	dependent, err := s.GetTask(ctx, "t2")
	if err != nil {
		t.Fatalf("GetTask(t2) error: %v", err)
	}
	if len(dependent.DependsOn) != 1 || dependent.DependsOn[0] != "t1" {
		t.Errorf("t2.DependsOn = %v, want [t1]", dependent.DependsOn)
	}

	if err := s.DeleteTask(ctx, "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteTask(again) error = %v, want ErrNotFound", err)
	}
}

func testWebhookLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := &model.Webhook{
		ID:        "w1",
		Name:      "ops",
		URL:       "https://hooks.example.com/a",
		Events:    []string{model.EventTaskCreated},
		Active:    true,
		Secret:    "s3cret",
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := s.CreateWebhook(ctx, w); err != nil {
		t.Fatalf("CreateWebhook() error: %v", err)
	}

	got, err := s.GetWebhook(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWebhook() error: %v", err)
	}
	if got.URL != w.URL || got.Secret != "s3cret" || !got.Active || got.LastTriggered != nil {
		t.Errorf("GetWebhook() = %+v", got)
	}

	got.URL = "https://hooks.example.com/b"
	got.Events = []string{model.EventTaskCompleted, model.EventTaskCreated}
	got.Active = false
	got.UpdatedAt = base.Add(time.Minute)
	if err := s.UpdateWebhook(ctx, got); err != nil {
		t.Fatalf("UpdateWebhook() error: %v", err)
	}
	updated, _ := s.GetWebhook(ctx, "w1")
	if updated.URL != "https://hooks.example.com/b" || updated.Active || len(updated.Events) != 2 {
		t.Errorf("after UpdateWebhook() = %+v", updated)
	}

	list, err := s.ListWebhooks(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("ListWebhooks() = %d, %v; want 1 webhook", len(list), err)
	}

	if err := s.DeleteWebhook(ctx, "w1"); err != nil {
		t.Fatalf("DeleteWebhook() error: %v", err)
	}
	if _, err := s.GetWebhook(ctx, "w1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetWebhook() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteWebhook(ctx, "w1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteWebhook() error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateWebhook(ctx, w); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateWebhook(deleted) error = %v, want ErrNotFound", err)
	}
}

func testListSubscribedWebhooks(t *testing.T, s store.Store) {
	ctx := context.Background()
	hooks := []*model.Webhook{
		{ID: "created", URL: "https://a.example.com", Events: []string{model.EventTaskCreated}, Active: true, CreatedAt: base},
		{ID: "both", URL: "https://b.example.com", Events: []string{model.EventTaskCreated, model.EventTaskCompleted}, Active: true, CreatedAt: base.Add(time.Second)},
		{ID: "inactive", URL: "https://c.example.com", Events: []string{model.EventTaskCompleted}, Active: false, CreatedAt: base},
		{ID: "prefix", URL: "https://d.example.com", Events: []string{"task.completed.extra"}, Active: true, CreatedAt: base},
	}
	for _, w := range hooks {
		if err := s.CreateWebhook(ctx, w); err != nil {
			t.Fatalf("CreateWebhook(%s) error: %v", w.ID, err)
		}
	}

	got, err := s.ListSubscribedWebhooks(ctx, model.EventTaskCompleted)
	if err != nil {
		t.Fatalf("ListSubscribedWebhooks() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "both" {
		t.Errorf("ListSubscribedWebhooks(task.completed) = %v, want [both]", ids(got))
	}

	got, _ = s.ListSubscribedWebhooks(ctx, model.EventTaskCreated)
	if len(got) != 2 {
		t.Errorf("ListSubscribedWebhooks(task.created) = %v, want 2 webhooks", ids(got))
	}
}

func testMarkWebhookTriggered(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateWebhook(ctx, &model.Webhook{ID: "w1", URL: "https://a.example.com", Events: []string{model.EventTaskCreated}, Active: true, CreatedAt: base}); err != nil {
		t.Fatalf("CreateWebhook() error: %v", err)
	}

	at := base.Add(2 * time.Hour)
	if err := s.MarkWebhookTriggered(ctx, "w1", at); err != nil {
		t.Fatalf("MarkWebhookTriggered() error: %v", err)
	}
	got, _ := s.GetWebhook(ctx, "w1")
	if got.LastTriggered == nil || !got.LastTriggered.Equal(at) {
		t.Errorf("LastTriggered = %v, want %v", got.LastTriggered, at)
	}

	// Updating other fields keeps the trigger time.
	got.Name = "renamed"
	if err := s.UpdateWebhook(ctx, got); err != nil {
		t.Fatalf("UpdateWebhook() error: %v", err)
	}
	again, _ := s.GetWebhook(ctx, "w1")
	if again.LastTriggered == nil || !again.LastTriggered.Equal(at) {
		t.Errorf("LastTriggered after update = %v, want %v", again.LastTriggered, at)
	}

	if err := s.MarkWebhookTriggered(ctx, "missing", at); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkWebhookTriggered(missing) error = %v, want ErrNotFound", err)
	}
}

func ids(ws []model.Webhook) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.ID)
	}
	return out
}
