package launcher

import (
	"context"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/repo"
)

// RunStore — хранилище runs. Реализация: repo.RunRepo.
// GetByID возвращает repo.ErrNotFound, если run нет; UpdateIf —
// repo.ErrConflict, если строка не удовлетворяет условию.
type RunStore interface {
	GetByID(ctx context.Context, id string) (*domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
	UpdateIf(ctx context.Context, run *domain.Run, pre repo.Precondition) error
}

// EventPublisher публикует события жизненного цикла run.
// Реализация: mq.Publisher. Может отсутствовать.
type EventPublisher interface {
	PublishRunLaunched(ctx context.Context, runID string, ref domain.TaskRef) error
	PublishRunTerminated(ctx context.Context, runID string, ref domain.TaskRef) error
}
