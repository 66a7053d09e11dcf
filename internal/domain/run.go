package domain

import (
	"time"
)

// Run — экземпляр выполнения pipeline.
//
// Run создаётся внешним кодом (API, CLI) до запуска.
// Launcher добавляет в Tags ссылки на ECS task, больше ничего в run не меняет,
// кроме статуса. Удалением runs этот сервис не занимается.
type Run struct {
	// ID — непрозрачный идентификатор run.
	ID string `json:"id"`

	// PipelineName — ссылка на pipeline, который выполняется.
	PipelineName string `json:"pipeline_name"`

	// Status — статус для учёта. Состояние запуска (LaunchState)
	// вычисляется по тегам и ECS, а не по этому полю.
	Status RunStatus `json:"status"`

	// Tags — произвольные теги run, включая ecs/task_arn и ecs/cluster.
	Tags map[string]string `json:"tags,omitempty"`

	// StartedAt — время, когда ECS task был создан.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного, с ошибкой или отмены).
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// TaskRef возвращает ссылку на ECS task из тегов run.
// ok=false, если run ещё не запускался.
func (r *Run) TaskRef() (TaskRef, bool) {
	return TaskRefFromTags(r.Tags)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// MarkQueued переводит run в статус QUEUED (запуск запрошен).
func (r *Run) MarkQueued() {
	r.Status = RunStatusQueued
}

// MarkStarting переводит run в статус STARTING (ECS task создан).
func (r *Run) MarkStarting() {
	now := time.Now()
	r.Status = RunStatusStarting
	r.StartedAt = &now
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	r.Status = RunStatusRunning
	if r.StartedAt == nil {
		now := time.Now()
		r.StartedAt = &now
	}
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
