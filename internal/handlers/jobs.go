package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/fleetworks/jobfleet/internal/api/v1alpha1"
	"github.com/fleetworks/jobfleet/internal/events"
	"github.com/fleetworks/jobfleet/internal/service"
)

// Handler exposes the job management surface over HTTP.
type Handler struct {
	service *service.ServiceHandler
	stream  *events.StreamWriter
}

func New(svc *service.ServiceHandler, stream *events.StreamWriter) *Handler {
	return &Handler{service: svc, stream: stream}
}

// Routes mounts the management surface on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/jobs", h.listJobTypes)
	r.Post("/jobs", h.queueJob)
	r.Get("/executions", h.listExecutions)
	r.Get("/executions/stats", h.statistics)
	r.Get("/executions/{id}", h.getExecution)
	r.Post("/executions/{id}/cancel", h.cancelExecution)
	r.Post("/executions/{id}/retry", h.retryExecution)
	r.Post("/executions/{id}/pin", h.pinExecution)
	r.Post("/executions/{id}/unpin", h.unpinExecution)
	r.Post("/executions/{id}/dismiss", h.dismissExecution)
	r.Get("/events/stream", h.streamEvents)
}

func (h *Handler) listJobTypes(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.ListJobTypes(r.Context()))
}

func (h *Handler) queueJob(w http.ResponseWriter, r *http.Request) {
	var request api.QueueJobRequest
	if err := render.DecodeJSON(r.Body, &request); err != nil {
		renderError(w, r, service.NewErrInvalidRequest("invalid request body: %s", err.Error()))
		return
	}

	execution, err := h.service.QueueJob(r.Context(), request)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, execution)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	offset := queryInt(r, "offset")

	executions, err := h.service.ListExecutions(r.Context(), r.URL.Query().Get("name"), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, executions)
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := h.service.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, execution)
}

func (h *Handler) cancelExecution(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.CancelExecution)
}

func (h *Handler) retryExecution(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.RetryExecution)
}

func (h *Handler) pinExecution(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.PinExecution)
}

func (h *Handler) unpinExecution(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.UnpinExecution)
}

func (h *Handler) dismissExecution(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.service.DismissExecution)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, byUserID string) (*api.JobExecution, error)) {
	var request api.ActionRequest
	// the body is optional; a missing acting user is fine
	_ = render.DecodeJSON(r.Body, &request)

	execution, err := op(r.Context(), chi.URLParam(r, "id"), request.UserID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, execution)
}

func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *service.ErrResourceNotFound
	var invalid *service.ErrInvalidRequest
	var transition *service.ErrInvalidTransition

	switch {
	case errors.As(err, &notFound):
		render.Status(r, http.StatusNotFound)
	case errors.As(err, &invalid), errors.As(err, &transition):
		render.Status(r, http.StatusBadRequest)
	default:
		render.Status(r, http.StatusInternalServerError)
	}
	render.JSON(w, r, api.Error{Message: err.Error()})
}
