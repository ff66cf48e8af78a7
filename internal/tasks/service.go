// Package tasks owns the task lifecycle: creation, status transitions with
// their audit trail, next-task selection and the events they emit.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskhook/internal/logging"
	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/notify"
	"github.com/austindbirch/taskhook/internal/store"
	"github.com/austindbirch/taskhook/internal/tracing"
)

// ErrInvalidTask is returned when task or project input fails validation
var ErrInvalidTask = errors.New("invalid task")

// Notifier receives lifecycle events. Dispatch must not block on delivery.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event)
}

type Options struct {
	Store    store.Store
	Notifier Notifier
	Now      func() time.Time
	NewID    func() string
	Logger   *logging.Logger
}

type Service struct {
	store    store.Store
	notifier Notifier
	now      func() time.Time
	newID    func() string
	logger   *logging.Logger
}

func NewService(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		notifier: opts.Notifier,
		now:      opts.Now,
		newID:    opts.NewID,
		logger:   opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = logging.New("taskhook-tasks")
	}
	return s
}

// NewTask is the input of CreateTask
type NewTask struct {
	ProjectID   string         `json:"project_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    model.Priority `json:"priority"`
	OrderIndex  int            `json:"order_index"`
	DependsOn   []string       `json:"depends_on"`
}

func (s *Service) CreateProject(ctx context.Context, name string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalidTask)
	}
	p := &model.Project{ID: s.newID(), Name: name, CreatedAt: s.now().UTC()}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return s.store.GetProject(ctx, id)
}

// CreateTask stores a new pending task and emits task.created
func (s *Service) CreateTask(ctx context.Context, in NewTask, actor string) (*model.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if strings.TrimSpace(in.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrInvalidTask)
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, priority)
	}

	// the id is generated below, so a caller can never name the new task
	// as its own dependency
	var deps []string
	seen := map[string]bool{}
	for _, dep := range in.DependsOn {
		dep = strings.TrimSpace(dep)
		if dep == "" || seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
	}

	now := s.now().UTC()
	t := &model.Task{
		ID:          s.newID(),
		ProjectID:   strings.TrimSpace(in.ProjectID),
		Title:       title,
		Description: in.Description,
		Status:      model.StatusPending,
		Priority:    priority,
		OrderIndex:  in.OrderIndex,
		DependsOn:   deps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.logger.WithContext(ctx).WithTask(t.ID).WithIdentity(actor).Info("task created")
	s.OnTaskCreated(ctx, *t, actor)
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return s.store.GetTask(ctx, id)
}

// DeleteTask removes a task and its audit trail. Tasks that depended on it
// stop being ready, since a missing dependency never counts as completed.
func (s *Service) DeleteTask(ctx context.Context, id, actor string) error {
	ctx, span := tracing.StartSpan(ctx, "tasks.DeleteTask", attribute.String("task.id", id))
	defer span.End()

	if err := s.store.DeleteTask(ctx, id); err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}
	s.logger.WithContext(ctx).WithTask(id).WithIdentity(actor).Info("task deleted")
	return nil
}

// ListTasks returns the tasks of one project, or all tasks when projectID is empty
func (s *Service) ListTasks(ctx context.Context, projectID string) ([]model.Task, error) {
	return s.store.ListTasks(ctx, projectID)
}

// UpdateStatus applies one lifecycle transition. The status write and its
// audit record are committed together; events are dispatched afterwards and
// never affect the result.
func (s *Service) UpdateStatus(ctx context.Context, id string, to model.TaskStatus, note, actor string) (*model.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "tasks.UpdateStatus",
		attribute.String("task.id", id),
		attribute.String("task.status.to", string(to)),
	)
	defer span.End()

	if !to.Valid() {
		err := fmt.Errorf("%w: unknown status %q", ErrInvalidTask, to)
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	current, err := s.store.GetTask(ctx, id)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	from := current.Status
	span.SetAttributes(attribute.String("task.status.from", string(from)))

	if !CanTransition(from, to) {
		err := fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	rec := model.AuditRecord{
		ID:        s.newID(),
		TaskID:    id,
		Action:    model.ActionStatusChange,
		OldValue:  string(from),
		NewValue:  string(to),
		Note:      note,
		Actor:     actor,
		CreatedAt: s.now().UTC(),
	}
	updated, err := s.store.UpdateTaskStatus(ctx, id, from, to, rec)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.logger.WithContext(ctx).
		WithTask(id).
		WithIdentity(actor).
		WithField("from", from).
		WithField("to", to).
		Info("task status changed")

	s.OnTaskStatusChanged(ctx, *updated, from, to, actor)
	return updated, nil
}

// History returns the audit trail of a task, oldest first
func (s *Service) History(ctx context.Context, id string) ([]model.AuditRecord, error) {
	if _, err := s.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, id)
}

// NextTask returns the next actionable task, or nil when none is ready
func (s *Service) NextTask(ctx context.Context, projectID string) (*model.Task, error) {
	// dependencies may live in other projects, so load everything
	all, err := s.store.ListTasks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return SelectNext(all, projectID), nil
}

// OnTaskCreated emits task.created for a task that has been stored
func (s *Service) OnTaskCreated(ctx context.Context, t model.Task, actor string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, notify.TaskCreated{
		Task:        t,
		ProjectName: s.projectName(ctx, t.ProjectID),
		Actor:       actor,
	})
}

// OnTaskStatusChanged emits task.completed when a task first reaches
// completed. Other transitions emit nothing.
func (s *Service) OnTaskStatusChanged(ctx context.Context, t model.Task, old, next model.TaskStatus, actor string) {
	if s.notifier == nil || !emitsCompleted(old, next) {
		return
	}
	s.notifier.Dispatch(ctx, notify.TaskCompleted{
		Task:        t,
		ProjectName: s.projectName(ctx, t.ProjectID),
		Actor:       actor,
	})
}

func (s *Service) projectName(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.WithContext(ctx).WithError(err).WithField("project_id", id).Warn("project lookup failed")
		}
		return ""
	}
	return p.Name
}
