package tasks

import (
	"errors"

	"github.com/austindbirch/taskhook/internal/model"
)

// ErrInvalidTransition is returned for any status change the lifecycle does
// not allow, including leaving a terminal state and same-status updates
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[model.TaskStatus][]model.TaskStatus{
	model.StatusPending:    {model.StatusInProgress},
	model.StatusInProgress: {model.StatusBlocked, model.StatusTesting, model.StatusCompleted, model.StatusFailed},
	model.StatusBlocked:    {model.StatusInProgress},
	model.StatusTesting:    {model.StatusCompleted, model.StatusFailed},
}

// CanTransition reports whether a task may move from one status to another
func CanTransition(from, to model.TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// emitsCompleted reports whether a change from old to next fires task.completed
func emitsCompleted(old, next model.TaskStatus) bool {
	return next == model.StatusCompleted && old != model.StatusCompleted
}
