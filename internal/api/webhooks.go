package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/austindbirch/taskhook/internal/delivery"
	"github.com/austindbirch/taskhook/internal/metrics"
	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/notify"
	"github.com/austindbirch/taskhook/internal/store"
)

const (
	msgInvalidURL      = "Invalid webhook URL. Only HTTPS URLs to public endpoints are allowed."
	msgMissingFields   = "Name, URL, and events are required"
	msgWebhookNotFound = "Webhook not found"
)

// webhookRequest is used for create and update; nil fields are left
// unchanged on update
type webhookRequest struct {
	Name   *string   `json:"name"`
	URL    *string   `json:"url"`
	Events *[]string `json:"events"`
	Active *bool     `json:"active"`
	Secret *string   `json:"secret"`
}

func (req webhookRequest) apply(w *model.Webhook) {
	if req.Name != nil {
		w.Name = *req.Name
	}
	if req.URL != nil {
		w.URL = *req.URL
	}
	if req.Events != nil {
		w.Events = append([]string(nil), (*req.Events)...)
	}
	if req.Active != nil {
		w.Active = *req.Active
	}
	if req.Secret != nil {
		w.Secret = *req.Secret
	}
}

type testResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

type urlCheckRequest struct {
	URL string `json:"url"`
}

type urlCheckResponse struct {
	URL     string `json:"url"`
	Allowed bool   `json:"allowed"`
}

// writeValidationError reports a notify.ValidateWebhook failure. It returns
// false when err is not a validation error.
func writeValidationError(w http.ResponseWriter, err error, stage string) bool {
	switch {
	case errors.Is(err, notify.ErrMissingField):
		writeError(w, http.StatusBadRequest, msgMissingFields)
	case errors.Is(err, notify.ErrInvalidURL):
		metrics.RecordURLBlocked(stage)
		writeError(w, http.StatusBadRequest, msgInvalidURL)
	case errors.Is(err, notify.ErrInvalidEvents):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Invalid event types",
			Details: fmt.Sprintf("allowed: %v", model.KnownEvents),
		})
	default:
		return false
	}
	return true
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !decode(w, r, &req) {
		return
	}

	now := s.now().UTC()
	hook := model.Webhook{ID: s.newID(), Active: true, CreatedAt: now, UpdatedAt: now}
	req.apply(&hook)

	if err := notify.ValidateWebhook(&hook, s.guard); err != nil {
		if !writeValidationError(w, err, "create") {
			s.internalError(w, r, err)
		}
		return
	}
	if err := s.store.CreateWebhook(r.Context(), &hook); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logger.WithContext(r.Context()).WithWebhook(hook.ID).Info("webhook created")
	writeJSON(w, http.StatusCreated, hook)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListWebhooks(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Webhook{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	hook, err := s.store.GetWebhook(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgWebhookNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !decode(w, r, &req) {
		return
	}

	hook, err := s.store.GetWebhook(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgWebhookNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	req.apply(hook)
	hook.UpdatedAt = s.now().UTC()
	if err := notify.ValidateWebhook(hook, s.guard); err != nil {
		if !writeValidationError(w, err, "update") {
			s.internalError(w, r, err)
		}
		return
	}
	if err := s.store.UpdateWebhook(r.Context(), hook); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgWebhookNotFound)
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteWebhook(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgWebhookNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	out, err := s.tester.SendTest(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgWebhookNotFound)
		return
	case errors.Is(err, notify.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, msgInvalidURL)
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}

	if !out.OK() {
		writeJSON(w, http.StatusBadRequest, testResponse{
			Success: false,
			Error:   "Failed to send test notification",
			Details: testFailureDetails(out),
		})
		return
	}
	writeJSON(w, http.StatusOK, testResponse{Success: true, Message: "Test notification sent successfully!"})
}

func testFailureDetails(out delivery.Outcome) string {
	switch {
	case out.Result == delivery.ResultTimeout:
		return "Request timeout"
	case out.StatusCode > 0:
		return delivery.StatusText(out)
	}
	return "Connection failed"
}

func (s *Server) urlCheck(w http.ResponseWriter, r *http.Request) {
	var req urlCheckRequest
	if !decode(w, r, &req) {
		return
	}
	allowed := s.guard != nil && s.guard.Allowed(req.URL)
	writeJSON(w, http.StatusOK, urlCheckResponse{URL: req.URL, Allowed: allowed})
}
