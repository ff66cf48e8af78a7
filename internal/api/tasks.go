package api

import (
	"errors"
	"net/http"

	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/store"
	"github.com/austindbirch/taskhook/internal/tasks"
)

type createProjectRequest struct {
	Name string `json:"name"`
}

type updateStatusRequest struct {
	Status model.TaskStatus `json:"status"`
	Note   string           `json:"note"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.tasks.CreateProject(r.Context(), req.Name)
	if err != nil {
		s.writeTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.tasks.GetProject(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req tasks.NewTask
	if !decode(w, r, &req) {
		return
	}
	t, err := s.tasks.CreateTask(r.Context(), req, actor(r))
	if err != nil {
		s.writeTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.tasks.ListTasks(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.DeleteTask(r.Context(), r.PathValue("id"), actor(r)); err != nil {
		s.writeTaskError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) taskHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.tasks.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeTaskError(w, r, err)
		return
	}
	if history == nil {
		history = []model.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := s.tasks.UpdateStatus(r.Context(), r.PathValue("id"), req.Status, req.Note, actor(r))
	if err != nil {
		s.writeTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) nextTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.NextTask(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if t == nil {
		writeJSON(w, http.StatusOK, messageResponse{Message: "No pending tasks found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}
