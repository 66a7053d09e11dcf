package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/ecs"
	"github.com/shaiso/automata-ecs/internal/telemetry"
)

const (
	// RunContainerName — имя единственного контейнера в definition для run.
	RunContainerName = "run"

	// derivedFamilySuffix добавляется к базовой family.
	derivedFamilySuffix = "-run"
)

// DerivedFamily возвращает family definition, которую launcher регистрирует для run.
func DerivedFamily(baseFamily string) string {
	return baseFamily + derivedFamilySuffix
}

// Resolver строит task definition для run из базовой definition.
type Resolver struct {
	client ecs.Client
	logger *slog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(client ecs.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, logger: logger}
}

// Resolve регистрирует новую ревизию "<baseFamily>-run" с одним контейнером "run".
//
// Environment берётся из первого контейнера базовой definition без изменений,
// остальные поля контейнера не наследуются. Сетевой режим, совместимость,
// cpu/memory и роли переносятся с уровня task definition.
// Каждый вызов регистрирует новую ревизию, кэша нет.
func (r *Resolver) Resolve(ctx context.Context, baseFamily, runID, image string, command []string) (*domain.TaskDefinition, error) {
	if baseFamily == "" {
		return nil, fmt.Errorf("base family is empty: %w", ErrInvalidArgument)
	}
	if image == "" {
		return nil, fmt.Errorf("image is empty: %w", ErrInvalidArgument)
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("command is empty: %w", ErrInvalidArgument)
	}

	base, err := r.client.DescribeTaskDefinition(ctx, baseFamily)
	if err != nil {
		if errors.Is(err, ecs.ErrDefinitionNotFound) {
			return nil, fmt.Errorf("base task definition %q: %w: %w", baseFamily, ErrNotFound, err)
		}
		return nil, &LaunchError{RunID: runID, Op: "describe base task definition", Err: err}
	}
	if len(base.Containers) == 0 {
		return nil, fmt.Errorf("base task definition %q has no containers: %w", baseFamily, ErrInvalidArgument)
	}

	derived := domain.TaskDefinition{
		Family: DerivedFamily(baseFamily),
		Containers: []domain.ContainerSpec{{
			Name:        RunContainerName,
			Image:       image,
			Command:     slices.Clone(command),
			Environment: slices.Clone(base.Containers[0].Environment),
		}},
		NetworkMode:             base.NetworkMode,
		RequiresCompatibilities: slices.Clone(base.RequiresCompatibilities),
		CPU:                     base.CPU,
		Memory:                  base.Memory,
		ExecutionRoleARN:        base.ExecutionRoleARN,
		TaskRoleARN:             base.TaskRoleARN,
	}

	registered, err := r.client.RegisterTaskDefinition(ctx, derived)
	if err != nil {
		return nil, &LaunchError{RunID: runID, Op: "register task definition", Err: err}
	}
	telemetry.TaskDefinitionsRegistered.Inc()

	r.logger.Info("task definition registered",
		"run_id", runID,
		"family", registered.Family,
		"revision", registered.Revision,
		"base", base.ARN,
	)

	return registered, nil
}
