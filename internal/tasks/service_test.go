package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/taskhook/internal/delivery"
	"github.com/austindbirch/taskhook/internal/logging"
	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/notify"
	"github.com/austindbirch/taskhook/internal/store"
	"github.com/austindbirch/taskhook/internal/urlguard"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Dispatch(ctx context.Context, ev notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		out = append(out, ev.Type())
	}
	return out
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func newTestService(t *testing.T) (*Service, *fakeNotifier, store.Store) {
	t.Helper()
	st := store.NewMemory()
	n := &fakeNotifier{}
	clock := t0
	svc := NewService(Options{
		Store:    st,
		Notifier: n,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID:  sequentialIDs(),
		Logger: logging.NewWithWriter("test", io.Discard),
	})
	return svc, n, st
}

// walk moves a task through the given statuses, failing on any error
func walk(t *testing.T, svc *Service, id string, statuses ...model.TaskStatus) {
	t.Helper()
	for _, s := range statuses {
		if _, err := svc.UpdateStatus(context.Background(), id, s, "", "tester"); err != nil {
			t.Fatalf("UpdateStatus(%s, %s) error: %v", id, s, err)
		}
	}
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	svc, n, _ := newTestService(t)
	p, err := svc.CreateProject(ctx, "Website")
	if err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}

	task, err := svc.CreateTask(ctx, NewTask{ProjectID: p.ID, Title: "  Draft copy ", DependsOn: []string{"x", "x", ""}}, "ana")
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	if task.Status != model.StatusPending || task.Priority != model.PriorityMedium {
		t.Errorf("task status/priority = %s/%s, want pending/medium", task.Status, task.Priority)
	}
	if task.Title != "Draft copy" {
		t.Errorf("Title = %q, want trimmed", task.Title)
	}
	if len(task.DependsOn) != 1 || task.DependsOn[0] != "x" {
		t.Errorf("DependsOn = %v, want [x]", task.DependsOn)
	}

	if len(n.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(n.events))
	}
	created, ok := n.events[0].(notify.TaskCreated)
	if !ok {
		t.Fatalf("event = %T, want TaskCreated", n.events[0])
	}
	if created.ProjectName != "Website" || created.Actor != "ana" || created.Task.ID != task.ID {
		t.Errorf("TaskCreated = %+v", created)
	}
}

func TestCreateTask_UnknownProjectStillEmits(t *testing.T) {
	svc, n, _ := newTestService(t)
	if _, err := svc.CreateTask(context.Background(), NewTask{ProjectID: "nope", Title: "t"}, ""); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	created := n.events[0].(notify.TaskCreated)
	if created.ProjectName != "" {
		t.Errorf("ProjectName = %q, want empty for unknown project", created.ProjectName)
	}
	if got := notify.BuildMessage(created).Blocks[1].Fields[1].Text; got != "*Project:* Unknown Project" {
		t.Errorf("project field = %q", got)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   NewTask
	}{
		{name: "empty title", in: NewTask{ProjectID: "p", Title: "  "}},
		{name: "no project", in: NewTask{Title: "t"}},
		{name: "bad priority", in: NewTask{ProjectID: "p", Title: "t", Priority: "urgent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, n, _ := newTestService(t)
			_, err := svc.CreateTask(context.Background(), tt.in, "")
			if !errors.Is(err, ErrInvalidTask) {
				t.Errorf("CreateTask() error = %v, want ErrInvalidTask", err)
			}
			if len(n.events) != 0 {
				t.Errorf("emitted %d events for invalid input", len(n.events))
			}
		})
	}
}

func TestUpdateStatus_WritesAudit(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	task, _ := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "t"}, "")

	updated, err := svc.UpdateStatus(ctx, task.ID, model.StatusInProgress, "picking this up", "ben")
	if err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if updated.Status != model.StatusInProgress {
		t.Errorf("Status = %s, want in_progress", updated.Status)
	}

	history, err := svc.History(ctx, task.ID)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("History() returned %d records, want 1", len(history))
	}
	rec := history[0]
	if rec.OldValue != "pending" || rec.NewValue != "in_progress" || rec.Note != "picking this up" || rec.Actor != "ben" {
		t.Errorf("audit record = %+v", rec)
	}
	if rec.Action != model.ActionStatusChange || rec.CreatedAt.IsZero() {
		t.Errorf("audit record = %+v", rec)
	}
}

func TestUpdateStatus_CompletedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, n, _ := newTestService(t)
	task, _ := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "t"}, "")
	walk(t, svc, task.ID, model.StatusInProgress, model.StatusCompleted)

	_, err := svc.UpdateStatus(ctx, task.ID, model.StatusCompleted, "", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed -> completed error = %v, want ErrInvalidTransition", err)
	}

	got := strings.Join(n.types(), ",")
	if got != "task.created,task.completed" {
		t.Errorf("emitted %s, want exactly one task.completed", got)
	}
}

func TestUpdateStatus_TerminalRejects(t *testing.T) {
	ctx := context.Background()
	for _, terminal := range []model.TaskStatus{model.StatusCompleted, model.StatusFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			svc, _, _ := newTestService(t)
			task, _ := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "t"}, "")
			walk(t, svc, task.ID, model.StatusInProgress, terminal)

			_, err := svc.UpdateStatus(ctx, task.ID, model.StatusInProgress, "", "")
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> in_progress error = %v, want ErrInvalidTransition", terminal, err)
			}
			history, _ := svc.History(ctx, task.ID)
			if len(history) != 2 {
				t.Errorf("History() has %d records, want 2", len(history))
			}
		})
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	task, _ := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "t"}, "")

	if _, err := svc.UpdateStatus(ctx, "missing", model.StatusInProgress, "", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown task error = %v, want ErrNotFound", err)
	}
	if _, err := svc.UpdateStatus(ctx, task.ID, "done", "", ""); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("unknown status error = %v, want ErrInvalidTask", err)
	}
	if _, err := svc.UpdateStatus(ctx, task.ID, model.StatusCompleted, "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> completed error = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.History(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("History(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatus_OnlyCompletedEmits(t *testing.T) {
	ctx := context.Background()
	svc, n, _ := newTestService(t)
	task, _ := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "t"}, "")
	walk(t, svc, task.ID,
		model.StatusInProgress, model.StatusBlocked, model.StatusInProgress,
		model.StatusTesting, model.StatusFailed,
	)
	if got := strings.Join(n.types(), ","); got != "task.created" {
		t.Errorf("emitted %s, want only task.created", got)
	}
}

func TestNextTask_DependencyUnblocks(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	b, _ := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "B", Priority: model.PriorityLow}, "")
	a, _ := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "A", Priority: model.PriorityHigh, DependsOn: []string{b.ID}}, "")

	next, err := svc.NextTask(ctx, "p")
	if err != nil {
		t.Fatalf("NextTask() error: %v", err)
	}
	if next == nil || next.ID != b.ID {
		t.Fatalf("NextTask() = %v, want B while A waits on it", next)
	}

	walk(t, svc, b.ID, model.StatusInProgress, model.StatusCompleted)

	next, err = svc.NextTask(ctx, "p")
	if err != nil {
		t.Fatalf("NextTask() error: %v", err)
	}
	if next == nil || next.ID != a.ID {
		t.Fatalf("NextTask() = %v, want A after B completed", next)
	}

	walk(t, svc, a.ID, model.StatusInProgress)
	if next, _ := svc.NextTask(ctx, ""); next != nil {
		t.Errorf("NextTask() = %s, want nil", next.ID)
	}
}

func TestDeleteTask_DependentsStopBeingReady(t *testing.T) {
	ctx := context.Background()
	svc, n, st := newTestService(t)
	b, _ := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "B"}, "")
	a, _ := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "A", DependsOn: []string{b.ID}}, "")
	walk(t, svc, b.ID, model.StatusInProgress, model.StatusCompleted)

	next, err := svc.NextTask(ctx, "p")
	if err != nil {
		t.Fatalf("NextTask() error: %v", err)
	}
	if next == nil || next.ID != a.ID {
		t.Fatalf("NextTask() = %v, want A after B completed", next)
	}

	emitted := len(n.types())
	if err := svc.DeleteTask(ctx, b.ID, "ana"); err != nil {
		t.Fatalf("DeleteTask() error: %v", err)
	}
	if got := len(n.types()); got != emitted {
		t.Errorf("DeleteTask emitted %d events, want none", got-emitted)
	}

	if next, _ := svc.NextTask(ctx, "p"); next != nil {
		t.Errorf("NextTask() = %s, want nil once B is gone", next.ID)
	}
	if history, _ := st.ListAudit(ctx, b.ID); len(history) != 0 {
		t.Errorf("audit trail of deleted task = %d records, want 0", len(history))
	}
	if _, err := svc.History(ctx, b.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("History(deleted) error = %v, want ErrNotFound", err)
	}
	if err := svc.DeleteTask(ctx, b.ID, "ana"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteTask(again) error = %v, want ErrNotFound", err)
	}
}

func TestOnTaskStatusChanged(t *testing.T) {
	svc, n, _ := newTestService(t)
	task := model.Task{ID: "ext", ProjectID: "p", Title: "external", Status: model.StatusCompleted}

	svc.OnTaskStatusChanged(context.Background(), task, model.StatusCompleted, model.StatusCompleted, "")
	svc.OnTaskStatusChanged(context.Background(), task, model.StatusTesting, model.StatusCompleted, "")

	if got := strings.Join(n.types(), ","); got != "task.completed" {
		t.Errorf("emitted %s, want one task.completed", got)
	}
}

func TestEndToEnd_CompleteTaskNotifiesWebhook(t *testing.T) {
	ctx := context.Background()

	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// allow the loopback test server, keep every other check
	guard := urlguard.Guard{MetadataHosts: urlguard.DefaultMetadataHosts}
	st := store.NewMemory()
	logger := logging.NewWithWriter("test", io.Discard)
	dispatcher := notify.NewDispatcher(notify.Options{
		Store: st,
		Deliverer: delivery.New(delivery.Options{
			Timeout:   delivery.DefaultTimeout,
			Guard:     guard,
			Transport: srv.Client().Transport,
		}),
		Guard:  guard,
		Logger: logger,
	})
	svc := NewService(Options{Store: st, Notifier: dispatcher, Logger: logger})

	now := time.Now().UTC()
	hook := &model.Webhook{
		ID: "hook-1", Name: "team chat", URL: srv.URL, Events: []string{model.EventTaskCompleted},
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateWebhook(ctx, hook); err != nil {
		t.Fatalf("CreateWebhook() error: %v", err)
	}

	task, err := svc.CreateTask(ctx, NewTask{ProjectID: "p", Title: "Publish release notes"}, "ana")
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	next, err := svc.NextTask(ctx, "")
	if err != nil || next == nil || next.ID != task.ID {
		t.Fatalf("NextTask() = %v, %v; want the new task", next, err)
	}

	begin := time.Now().UTC()
	walk(t, svc, task.ID, model.StatusInProgress, model.StatusCompleted)
	dispatcher.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("endpoint received %d POSTs, want 1", len(bodies))
	}
	if !strings.Contains(bodies[0], "Publish release notes") {
		t.Errorf("body %s does not mention the task title", bodies[0])
	}

	got, err := st.GetWebhook(ctx, hook.ID)
	if err != nil {
		t.Fatalf("GetWebhook() error: %v", err)
	}
	if got.LastTriggered == nil || got.LastTriggered.Before(begin) {
		t.Errorf("last_triggered = %v, want after %v", got.LastTriggered, begin)
	}
}
