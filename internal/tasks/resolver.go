package tasks

import (
	"sort"

	"github.com/austindbirch/taskhook/internal/model"
)

// SelectNext returns the most urgent pending task whose dependencies are all
// completed, or nil. When projectID is set only that project's tasks are
// candidates; dependencies are looked up across all of tasks.
//
// A dependency on a task that is not in tasks never counts as completed,
// and cycles are not detected: tasks on a cycle simply never become ready.
func SelectNext(tasks []model.Task, projectID string) *model.Task {
	status := make(map[string]model.TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	var ready []model.Task
	for _, t := range tasks {
		if t.Status != model.StatusPending {
			continue
		}
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		completed := 0
		for _, dep := range t.DependsOn {
			if status[dep] == model.StatusCompleted {
				completed++
			}
		}
		if completed == len(t.DependsOn) {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	next := ready[0]
	return &next
}
