package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voicockpit/cockpit/internal/task"
)

// tasksHandler groups task, subtask, comment and activity HTTP handlers.
type tasksHandler struct {
	svc *task.Service
}

func newTasksHandler(svc *task.Service) *tasksHandler {
	return &tasksHandler{svc: svc}
}

// ListTasks handles GET /api/v1/tasks.
func (h *tasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "task not found")
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CreateTask handles POST /api/v1/tasks.
func (h *tasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req task.CreateTaskInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	t, err := h.svc.Create(r.Context(), actorID(r), req)
	if err != nil {
		writeDomainError(w, r, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *tasksHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTask handles PUT /api/v1/tasks/{id}.
func (h *tasksHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req task.UpdateTaskInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	t, err := h.svc.Update(r.Context(), actorID(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, r, err, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTask handles DELETE /api/v1/tasks/{id}.
func (h *tasksHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeDomainError(w, r, err, "Task not found")
		return
	}
	auditLog(r, "delete", "task", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

// SearchTasks handles POST /api/v1/tasks/search. Dates may be given as
// RFC 3339 timestamps or plain YYYY-MM-DD days.
func (h *tasksHandler) SearchTasks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query    string        `json:"query"`
		Status   task.Status   `json:"status"`
		Priority task.Priority `json:"priority"`
		Area     string        `json:"area"`
		DateFrom string        `json:"dateFrom"`
		DateTo   string        `json:"dateTo"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	params := task.SearchParams{
		Query:    req.Query,
		Status:   req.Status,
		Priority: req.Priority,
		Area:     req.Area,
	}
	var ok bool
	if params.DateFrom, ok = parseDate(req.DateFrom, false); !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid dateFrom")
		return
	}
	if params.DateTo, ok = parseDate(req.DateTo, true); !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid dateTo")
		return
	}

	tasks, err := h.svc.Search(r.Context(), actorID(r), params)
	if err != nil {
		writeDomainError(w, r, err, "task not found")
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// parseDate reads an optional date. A plain day used as an upper bound is
// extended to the end of that day.
func parseDate(s string, endOfDay bool) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, true
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, true
}

// AddSubtask handles POST /api/v1/tasks/{id}/subtasks.
func (h *tasksHandler) AddSubtask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	st, err := h.svc.AddSubtask(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		writeDomainError(w, r, err, "Task not found")
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// UpdateSubtask handles PUT /api/v1/tasks/{id}/subtasks/{subtaskID}.
func (h *tasksHandler) UpdateSubtask(w http.ResponseWriter, r *http.Request) {
	var req task.SubtaskUpdate
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	st, err := h.svc.UpdateSubtask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "subtaskID"), req)
	if err != nil {
		writeDomainError(w, r, err, "Subtask not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteSubtask handles DELETE /api/v1/tasks/{id}/subtasks/{subtaskID}.
func (h *tasksHandler) DeleteSubtask(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSubtask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "subtaskID")); err != nil {
		writeDomainError(w, r, err, "Subtask not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListComments handles GET /api/v1/tasks/{id}/comments.
func (h *tasksHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.svc.Comments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "Task not found")
		return
	}
	if comments == nil {
		comments = []*task.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

// AddComment handles POST /api/v1/tasks/{id}/comments.
func (h *tasksHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	c, err := h.svc.AddComment(r.Context(), chi.URLParam(r, "id"), actorID(r), req.Content)
	if err != nil {
		writeDomainError(w, r, err, "Task not found")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListActivities handles GET /api/v1/activities.
func (h *tasksHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	acts, err := h.svc.Activities(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "activity not found")
		return
	}
	if acts == nil {
		acts = []*task.Activity{}
	}
	writeJSON(w, http.StatusOK, acts)
}
