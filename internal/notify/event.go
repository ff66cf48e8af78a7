package notify

import "github.com/austindbirch/taskhook/internal/model"

// Event is a lifecycle event that can be dispatched to webhooks. The set of
// implementations is closed: TaskCreated, TaskCompleted and Generic.
type Event interface {
	Type() string
	isEvent()
}

// TaskCreated is emitted when a task is created
type TaskCreated struct {
	Task        model.Task
	ProjectName string
	Actor       string
}

// TaskCompleted is emitted when a task first reaches completed
type TaskCompleted struct {
	Task        model.Task
	ProjectName string
	Actor       string
}

// Generic carries any other event type with free-form data
type Generic struct {
	EventType string
	Data      any
}

func (TaskCreated) Type() string   { return model.EventTaskCreated }
func (TaskCompleted) Type() string { return model.EventTaskCompleted }
func (g Generic) Type() string     { return g.EventType }

func (TaskCreated) isEvent()   {}
func (TaskCompleted) isEvent() {}
func (Generic) isEvent()       {}

// eventData is the structured form of an event, mirrored to the event bus
func eventData(ev Event) any {
	switch e := ev.(type) {
	case TaskCreated:
		return taskData(e.Task, e.ProjectName, e.Actor)
	case TaskCompleted:
		return taskData(e.Task, e.ProjectName, e.Actor)
	case Generic:
		return e.Data
	}
	return nil
}

func taskData(t model.Task, projectName, actor string) map[string]any {
	return map[string]any{
		"task_id":      t.ID,
		"project_id":   t.ProjectID,
		"title":        t.Title,
		"status":       t.Status,
		"priority":     t.Priority,
		"project_name": projectName,
		"actor":        actor,
	}
}
