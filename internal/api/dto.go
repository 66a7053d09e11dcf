package api

import (
	"time"

	"github.com/shaiso/automata-ecs/internal/domain"
)

// Pipeline DTOs

// CreatePipelineRequest — запрос на регистрацию pipeline.
type CreatePipelineRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// UpdatePipelineRequest — запрос на смену образа pipeline.
type UpdatePipelineRequest struct {
	Image string `json:"image"`
}

// PipelineResponse — ответ с pipeline.
type PipelineResponse struct {
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"created_at"`
}

// PipelineFromDomain конвертирует domain.ExternalPipeline в PipelineResponse.
func PipelineFromDomain(p domain.ExternalPipeline) PipelineResponse {
	return PipelineResponse{
		Name:      p.Name,
		Image:     p.Image,
		CreatedAt: p.CreatedAt,
	}
}

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Pipeline string            `json:"pipeline"`
	Tags     map[string]string `json:"tags,omitempty"`

	// Launch — сразу поставить запуск в очередь.
	Launch bool `json:"launch,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID         string            `json:"id"`
	Pipeline   string            `json:"pipeline"`
	Status     string            `json:"status"`
	Tags       map[string]string `json:"tags,omitempty"`
	TaskARN    string            `json:"task_arn,omitempty"`
	ClusterARN string            `json:"cluster_arn,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	ref, _ := r.TaskRef()
	return RunResponse{
		ID:         r.ID,
		Pipeline:   r.PipelineName,
		Status:     string(r.Status),
		Tags:       r.Tags,
		TaskARN:    ref.TaskARN,
		ClusterARN: ref.ClusterARN,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
	}
}

// Launch / terminate DTOs

// TaskResponse — ECS task run.
type TaskResponse struct {
	TaskARN           string `json:"task_arn"`
	ClusterARN        string `json:"cluster_arn"`
	TaskDefinitionARN string `json:"task_definition_arn,omitempty"`
	LastStatus        string `json:"last_status,omitempty"`
	DesiredStatus     string `json:"desired_status,omitempty"`
	StoppedReason     string `json:"stopped_reason,omitempty"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse. nil → nil.
func TaskFromDomain(t *domain.Task) *TaskResponse {
	if t == nil {
		return nil
	}
	return &TaskResponse{
		TaskARN:           t.TaskARN,
		ClusterARN:        t.ClusterARN,
		TaskDefinitionARN: t.TaskDefinitionARN,
		LastStatus:        string(t.LastStatus),
		DesiredStatus:     string(t.DesiredStatus),
		StoppedReason:     t.StoppedReason,
	}
}

// LaunchResponse — результат синхронного запуска или постановки в очередь.
type LaunchResponse struct {
	RunID  string        `json:"run_id"`
	Queued bool          `json:"queued"`
	Task   *TaskResponse `json:"task,omitempty"`
}

// TerminationResponse — состояние запуска run.
type TerminationResponse struct {
	RunID        string        `json:"run_id"`
	State        string        `json:"state"`
	CanTerminate bool          `json:"can_terminate"`
	Task         *TaskResponse `json:"task,omitempty"`
}

// TerminateResponse — результат Terminate.
type TerminateResponse struct {
	RunID      string `json:"run_id"`
	Terminated bool   `json:"terminated"`
	Queued     bool   `json:"queued,omitempty"`
}
