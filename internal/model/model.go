// Package model holds the task tracker records shared by the stores, the
// task service and the webhook dispatcher.
package model

import "time"

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusTesting    TaskStatus = "testing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Valid reports whether s is one of the known statuses
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusBlocked, StatusTesting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are accepted from s
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority orders pending work; critical sorts first
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns a comparable weight, higher is more urgent. Unknown
// priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	OrderIndex  int        `json:"order_index"`
	DependsOn   []string   `json:"depends_on,omitempty"` // ids of tasks this one waits on
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AuditRecord is one entry of a task's history
type AuditRecord struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Action    string    `json:"action"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const ActionStatusChange = "status_change"

// Webhook is a subscription of an external endpoint to lifecycle events
type Webhook struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Events        []string   `json:"events"`
	Active        bool       `json:"active"`
	Secret        string     `json:"secret,omitempty"` // carried as metadata, never used for signing
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Subscribed reports whether the webhook is active and listens to eventType
func (w Webhook) Subscribed(eventType string) bool {
	if !w.Active {
		return false
	}
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Event types understood by webhook subscriptions
const (
	EventTaskCreated      = "task.created"
	EventTaskUpdated      = "task.updated"
	EventTaskCompleted    = "task.completed"
	EventTaskDeleted      = "task.deleted"
	EventProjectCreated   = "project.created"
	EventProjectUpdated   = "project.updated"
	EventProjectCompleted = "project.completed"
	EventProjectDeleted   = "project.deleted"
)

// KnownEvents lists every event type a webhook may subscribe to
var KnownEvents = []string{
	EventTaskCreated, EventTaskUpdated, EventTaskCompleted, EventTaskDeleted,
	EventProjectCreated, EventProjectUpdated, EventProjectCompleted, EventProjectDeleted,
}

// IsKnownEvent reports whether eventType is in KnownEvents
func IsKnownEvent(eventType string) bool {
	for _, e := range KnownEvents {
		if e == eventType {
			return true
		}
	}
	return false
}
