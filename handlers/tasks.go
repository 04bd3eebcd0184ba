package handlers

import (
	"net/http"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/IRCHrocks25/KatCon-sub001/services"
	"github.com/gorilla/mux"
)

// TaskHandler exposes the Task Store over HTTP.
type TaskHandler struct {
	tasks *services.TaskService
}

func NewTaskHandler(tasks *services.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

type createTaskRequest struct {
	services.TaskFields
	Assignees []string `json:"assignees"`
}

type assignmentsRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

type statusRequest struct {
	Status   database.Status `json:"status"`
	Position *int            `json:"position,omitempty"`
}

func parseTargets(raw []string) ([]database.Target, error) {
	targets := make([]database.Target, 0, len(raw))
	for _, s := range raw {
		t, err := database.ParseTarget(s)
		if err != nil {
			return nil, &services.Error{Kind: services.ErrValidation, Op: "parse target", Err: err}
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// respond writes the post-commit task as the actor sees it.
func (h *TaskHandler) respond(w http.ResponseWriter, r *http.Request, email string, task *database.Task) {
	view, err := h.tasks.View(r.Context(), email, task)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, view)
}

// List returns the caller's visible tasks, or their board with ?view=board.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	if r.URL.Query().Get("view") == "board" {
		board, err := h.tasks.Board(r.Context(), email)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]any{"columns": board})
		return
	}

	views, err := h.tasks.ListVisible(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, views)
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	var req createTaskRequest
	if !decode(w, r, &req) {
		return
	}
	targets, err := parseTargets(req.Assignees)
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := h.tasks.CreateTask(r.Context(), email, req.TaskFields, targets)
	if err != nil {
		writeError(w, err)
		return
	}
	h.respond(w, r, email, task)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	var patch services.TaskPatch
	if !decode(w, r, &patch) {
		return
	}
	task, err := h.tasks.UpdateTaskContent(r.Context(), email, mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	h.respond(w, r, email, task)
}

func (h *TaskHandler) Assignments(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	var req assignmentsRequest
	if !decode(w, r, &req) {
		return
	}
	add, err := parseTargets(req.Add)
	if err != nil {
		writeError(w, err)
		return
	}
	remove, err := parseTargets(req.Remove)
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := h.tasks.UpdateAssignments(r.Context(), email, mux.Vars(r)["id"], add, remove)
	if err != nil {
		writeError(w, err)
		return
	}
	h.respond(w, r, email, task)
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := h.tasks.TransitionCanonicalStatus(r.Context(), email, mux.Vars(r)["id"], req.Status, req.Position)
	if err != nil {
		writeError(w, err)
		return
	}
	h.respond(w, r, email, task)
}

func (h *TaskHandler) PersonalStatus(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := h.tasks.TransitionPersonalStatus(r.Context(), email, mux.Vars(r)["id"], req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	h.respond(w, r, email, task)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	email, ok := actor(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not found", "unauthorized", false)
		return
	}

	if err := h.tasks.SoftDelete(r.Context(), email, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
