package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/repo"
)

// RunStore — хранилище runs. Реализация: repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id string) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	UpdateIf(ctx context.Context, run *domain.Run, pre repo.Precondition) error
}

// PipelineStore — хранилище pipelines. Реализация: repo.PipelineRepo.
type PipelineStore interface {
	Create(ctx context.Context, p *domain.ExternalPipeline) error
	GetByName(ctx context.Context, name string) (*domain.ExternalPipeline, error)
	List(ctx context.Context) ([]domain.ExternalPipeline, error)
	UpdateImage(ctx context.Context, name, image string) error
}

// RunLauncher — синхронные операции с ECS. Реализация: launcher.Launcher.
type RunLauncher interface {
	Launch(ctx context.Context, runID string, pipeline *domain.ExternalPipeline) (*domain.Task, error)
	State(ctx context.Context, runID string) (domain.LaunchState, *domain.Task, error)
	Terminate(ctx context.Context, runID string) (bool, error)
}

// RequestQueue — асинхронные запросы. Реализация: mq.Publisher.
type RequestQueue interface {
	PublishRunLaunch(ctx context.Context, runID string) error
	PublishRunTerminate(ctx context.Context, runID string) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runs      RunStore
	pipelines PipelineStore
	launcher  RunLauncher
	queue     RequestQueue
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runs      RunStore
	Pipelines PipelineStore
	Launcher  RunLauncher
	Queue     RequestQueue // nil — QUEUED runs подберёт polling coordinator
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runs:      cfg.Runs,
		pipelines: cfg.Pipelines,
		launcher:  cfg.Launcher,
		queue:     cfg.Queue,
		logger:    logger,
	}
}
