package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/repo"
)

const defaultListLimit = 50

// launchablePrecondition — run ещё не запускался и не завершён.
var launchablePrecondition = repo.Precondition{
	Statuses: []domain.RunStatus{domain.RunStatusPending, domain.RunStatusQueued},
	Unlinked: true,
}

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?pipeline=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{
		Pipeline: q.Get("pipeline"),
		Status:   domain.RunStatus(q.Get("status")),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit"), defaultListLimit); err != nil {
		BadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		BadRequest(w, "invalid offset")
		return
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun создаёт run для pipeline. При launch=true run получает
// статус QUEUED и запрос на запуск уходит в очередь.
// POST /api/v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Pipeline == "" {
		BadRequest(w, "pipeline is required")
		return
	}
	for _, key := range []string{domain.TagTaskARN, domain.TagCluster} {
		if _, ok := req.Tags[key]; ok {
			BadRequest(w, fmt.Sprintf("tag %s is reserved", key))
			return
		}
	}

	if _, err := h.pipelines.GetByName(r.Context(), req.Pipeline); HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	run := &domain.Run{
		ID:           uuid.NewString(),
		PipelineName: req.Pipeline,
		Status:       domain.RunStatusPending,
		Tags:         req.Tags,
		CreatedAt:    time.Now().UTC(),
	}
	if req.Launch {
		run.MarkQueued()
	}

	if HandleRepoError(w, h.logger, h.runs.Create(r.Context(), run), "pipeline not found") {
		return
	}

	if req.Launch {
		h.enqueueLaunch(r, run.ID)
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetByID(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// LaunchRun запускает run в ECS.
// С ?async=true run переводится в QUEUED, запуск выполнит coordinator.
// POST /api/v1/runs/{id}/launch
func (h *Handler) LaunchRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetByID(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}
	if ref, ok := run.TaskRef(); ok {
		Error(w, http.StatusConflict, ErrCodeAlreadyLinked, fmt.Sprintf("run %s already linked to task %s", run.ID, ref.TaskARN))
		return
	}
	if run.IsFinished() {
		Conflict(w, fmt.Sprintf("run %s is already %s", run.ID, run.Status))
		return
	}

	if r.URL.Query().Get("async") == "true" {
		run.MarkQueued()
		err := h.runs.UpdateIf(r.Context(), run, launchablePrecondition)
		if errors.Is(err, repo.ErrConflict) {
			Conflict(w, fmt.Sprintf("run %s is being launched or has changed", run.ID))
			return
		}
		if HandleRepoError(w, h.logger, err, "run not found") {
			return
		}
		h.enqueueLaunch(r, run.ID)
		Accepted(w, LaunchResponse{RunID: run.ID, Queued: true})
		return
	}

	pipeline, err := h.pipelines.GetByName(r.Context(), run.PipelineName)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	task, err := h.launcher.Launch(r.Context(), run.ID, pipeline)
	if HandleLauncherError(w, h.logger, err) {
		return
	}

	Success(w, LaunchResponse{RunID: run.ID, Task: TaskFromDomain(task)})
}

// GetTermination возвращает состояние запуска и возможность остановки.
// GET /api/v1/runs/{id}/termination
func (h *Handler) GetTermination(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	state, task, err := h.launcher.State(r.Context(), id)
	if HandleLauncherError(w, h.logger, err) {
		return
	}

	Success(w, TerminationResponse{
		RunID:        id,
		State:        string(state),
		CanTerminate: state == domain.LaunchStateActive,
		Task:         TaskFromDomain(task),
	})
}

// TerminateRun останавливает ECS task run.
// terminated=false — run не был в состоянии ACTIVE.
// С ?async=true запрос уходит в очередь.
// POST /api/v1/runs/{id}/terminate
func (h *Handler) TerminateRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if r.URL.Query().Get("async") == "true" {
		if h.queue == nil {
			Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "request queue is not configured")
			return
		}
		if _, err := h.runs.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "run not found") {
			return
		}
		if err := h.queue.PublishRunTerminate(r.Context(), id); err != nil {
			h.logger.Error("failed to publish run.terminate", "run_id", id, "error", err)
			Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "failed to queue terminate request")
			return
		}
		Accepted(w, TerminateResponse{RunID: id, Queued: true})
		return
	}

	terminated, err := h.launcher.Terminate(r.Context(), id)
	if HandleLauncherError(w, h.logger, err) {
		return
	}

	Success(w, TerminateResponse{RunID: id, Terminated: terminated})
}

// enqueueLaunch публикует run.launch. Ошибка не фатальна:
// run уже QUEUED, coordinator подберёт его polling.
func (h *Handler) enqueueLaunch(r *http.Request, runID string) {
	if h.queue == nil {
		return
	}
	if err := h.queue.PublishRunLaunch(r.Context(), runID); err != nil {
		h.logger.Warn("failed to publish run.launch", "run_id", runID, "error", err)
	}
}

// intParam разбирает неотрицательное целое из query.
func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
