package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/automata-ecs/internal/domain"
)

// ListPipelines возвращает зарегистрированные pipelines.
// GET /api/v1/pipelines
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.pipelines.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(pipelines))
	for i, p := range pipelines {
		result[i] = PipelineFromDomain(p)
	}

	List(w, result, len(result))
}

// CreatePipeline регистрирует pipeline.
// POST /api/v1/pipelines
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Image = strings.TrimSpace(req.Image)
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.Image == "" {
		BadRequest(w, "image is required")
		return
	}

	p := &domain.ExternalPipeline{
		Name:      req.Name,
		Image:     req.Image,
		CreatedAt: time.Now().UTC(),
	}
	if HandleRepoError(w, h.logger, h.pipelines.Create(r.Context(), p), "") {
		return
	}

	Created(w, PipelineFromDomain(*p))
}

// GetPipeline возвращает pipeline по имени.
// GET /api/v1/pipelines/{name}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := h.pipelines.GetByName(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*p))
}

// UpdatePipeline меняет образ pipeline. Запущенные runs не затрагиваются.
// PUT /api/v1/pipelines/{name}
func (h *Handler) UpdatePipeline(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req UpdatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	image := strings.TrimSpace(req.Image)
	if image == "" {
		BadRequest(w, "image is required")
		return
	}

	if HandleRepoError(w, h.logger, h.pipelines.UpdateImage(r.Context(), name, image), "pipeline not found") {
		return
	}

	p, err := h.pipelines.GetByName(r.Context(), name)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*p))
}
