package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/ecs"
	"github.com/shaiso/automata-ecs/internal/repo"
	"github.com/shaiso/automata-ecs/internal/telemetry"
)

// Default configuration values.
const (
	defaultBaseFamily = "automata"
	defaultCluster    = "default"
	executeRunCommand = "execute_run"
	stopReason        = "Terminated by automata launcher"
)

// DefaultEntrypoint — исполняемый файл внутри образа pipeline.
var DefaultEntrypoint = []string{"automata"}

// Launcher запускает runs как ECS tasks и останавливает их.
//
// Launch и Terminate для одного run_id взаимно исключаются;
// разные runs не блокируют друг друга.
type Launcher struct {
	client    ecs.Client
	runs      RunStore
	publisher EventPublisher

	resolver *Resolver
	tags     *TagStore
	locks    *runLocks

	cluster    string
	baseFamily string
	launchType string
	network    domain.NetworkConfig
	entrypoint []string

	logger *slog.Logger
}

// Config — конфигурация Launcher.
type Config struct {
	// ECS
	Client     ecs.Client
	Cluster    string               // кластер для RunTask (default: "default")
	BaseFamily string               // базовая task definition (default: "automata")
	LaunchType string               // FARGATE / EC2, пусто — стратегия кластера
	Network    domain.NetworkConfig // подсети и security groups для awsvpc

	// Entrypoint — команда перед "execute_run --run-id <id>" (default: ["automata"]).
	Entrypoint []string

	// Stores
	Runs RunStore

	// Publisher — события run.launched / run.terminated (опционально).
	Publisher EventPublisher

	// Logger
	Logger *slog.Logger
}

// New создаёт Launcher.
func New(cfg Config) *Launcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cluster := cfg.Cluster
	if cluster == "" {
		cluster = defaultCluster
	}

	baseFamily := cfg.BaseFamily
	if baseFamily == "" {
		baseFamily = defaultBaseFamily
	}

	entrypoint := cfg.Entrypoint
	if len(entrypoint) == 0 {
		entrypoint = DefaultEntrypoint
	}

	return &Launcher{
		client:     cfg.Client,
		runs:       cfg.Runs,
		publisher:  cfg.Publisher,
		resolver:   NewResolver(cfg.Client, logger),
		tags:       NewTagStore(cfg.Runs, cfg.Client, logger),
		locks:      newRunLocks(),
		cluster:    cluster,
		baseFamily: baseFamily,
		launchType: cfg.LaunchType,
		network:    cfg.Network,
		entrypoint: slices.Clone(entrypoint),
		logger:     logger,
	}
}

// Tags возвращает TagStore launcher'а.
func (l *Launcher) Tags() *TagStore {
	return l.tags
}

// Command возвращает команду, которой контейнер выполняет run.
func (l *Launcher) Command(runID string) []string {
	cmd := slices.Clone(l.entrypoint)
	return append(cmd, executeRunCommand, "--run-id", runID)
}

// Launch запускает run в ECS.
//
// Порядок:
//  1. Проверяет, что run ещё не связан с task
//  2. Захватывает run в хранилище: STARTING без ссылки на task
//  3. Регистрирует новую definition "<base>-run" с образом pipeline
//  4. Вызывает RunTask с сетью из конфигурации и override контейнера "run"
//  5. Записывает связь run ↔ task
//
// Захват и запись связи — условные записи, поэтому из нескольких реплик
// task создаёт только одна. Ошибки ECS возвращаются как *LaunchError,
// захват при этом снимается и run остаётся UNLAUNCHED.
func (l *Launcher) Launch(ctx context.Context, runID string, pipeline *domain.ExternalPipeline) (*domain.Task, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is nil: %w", ErrInvalidArgument)
	}

	unlock := l.locks.lock(runID)
	defer unlock()

	logger := telemetry.WithPipeline(telemetry.WithRunID(l.logger, runID), pipeline.Name)

	task, err := l.launch(ctx, runID, pipeline, logger)
	switch {
	case errors.Is(err, ErrAlreadyLinked):
		telemetry.LaunchesTotal.WithLabelValues(telemetry.ResultSkipped).Inc()
	default:
		telemetry.LaunchesTotal.WithLabelValues(telemetry.ResultLabel(err)).Inc()
	}
	if err != nil {
		logger.Warn("run launch failed", "error", err)
		return nil, err
	}
	return task, nil
}

func (l *Launcher) launch(ctx context.Context, runID string, pipeline *domain.ExternalPipeline, logger *slog.Logger) (*domain.Task, error) {
	// 1. Загружаем run
	run, err := l.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	// 2. Один task на run
	if ref, ok := run.TaskRef(); ok {
		return nil, fmt.Errorf("run %s has task %s: %w", runID, ref.TaskARN, ErrAlreadyLinked)
	}
	if run.Status == domain.RunStatusStarting {
		return nil, fmt.Errorf("run %s is being launched: %w", runID, ErrAlreadyLinked)
	}

	image := pipeline.GetImage()
	if image == "" {
		return nil, fmt.Errorf("pipeline %s has no image: %w", pipeline.Name, ErrInvalidArgument)
	}
	command := l.Command(runID)

	// 3. Захват
	claimed, err := l.claim(ctx, run)
	if err != nil {
		return nil, err
	}

	// 4. Definition для run
	def, err := l.resolver.Resolve(ctx, l.baseFamily, runID, image, command)
	if err != nil {
		l.release(ctx, run, logger)
		return nil, asLaunchError(runID, "resolve task definition", err)
	}

	// 5. RunTask
	task, err := l.client.RunTask(ctx, ecs.RunTaskInput{
		Cluster:           l.cluster,
		TaskDefinitionARN: def.ARN,
		LaunchType:        l.launchType,
		Network:           l.network,
		Overrides: []domain.ContainerOverride{
			{Name: RunContainerName, Command: command},
		},
		Tags: map[string]string{domain.TagRunID: runID},
	})
	if err != nil {
		l.release(ctx, run, logger)
		return nil, asLaunchError(runID, "run task", err)
	}

	// 6. Связь run ↔ task
	if err := l.tags.link(ctx, claimed, task, &claimedPrecondition); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// run изменён в обход захвата, task никому не принадлежит
			l.stopOrphan(ctx, task, logger)
		}
		// task уже создан и помечен dagster/run_id — его можно найти со стороны ECS
		logger.Error("task started but run was not linked",
			"task_arn", task.TaskARN,
			"error", err,
		)
		return nil, asLaunchError(runID, "link run to task", err)
	}

	if l.publisher != nil {
		if err := l.publisher.PublishRunLaunched(ctx, runID, task.Ref()); err != nil {
			logger.Warn("failed to publish run.launched", "error", err)
		}
	}

	logger.Info("run launched",
		"task_arn", task.TaskARN,
		"cluster", task.ClusterARN,
		"task_definition", def.ARN,
	)

	return task, nil
}

// claimedPrecondition — run захвачен этим вызовом Launch и ещё не связан.
var claimedPrecondition = repo.Precondition{
	Statuses: []domain.RunStatus{domain.RunStatusStarting},
	Unlinked: true,
}

// claim переводит run в STARTING, если в хранилище он всё ещё в том статусе,
// в котором был прочитан, и без task.
func (l *Launcher) claim(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	claimed := cloneRun(run)
	claimed.MarkStarting()

	err := l.runs.UpdateIf(ctx, claimed, repo.Precondition{
		Statuses: []domain.RunStatus{run.Status},
		Unlinked: true,
	})
	switch {
	case err == nil:
		return claimed, nil
	case errors.Is(err, repo.ErrConflict):
		return nil, fmt.Errorf("run %s changed concurrently: %w", run.ID, ErrAlreadyLinked)
	case errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("run %s: %w", run.ID, ErrRunNotFound)
	default:
		return nil, fmt.Errorf("claim run %s: %w", run.ID, err)
	}
}

// release возвращает run в прочитанное состояние после неудачного запуска.
func (l *Launcher) release(ctx context.Context, run *domain.Run, logger *slog.Logger) {
	if err := l.runs.UpdateIf(context.WithoutCancel(ctx), run, claimedPrecondition); err != nil {
		// монитор завершит зависший захват по таймауту
		logger.Error("failed to release run claim", "error", err)
	}
}

// stopOrphan останавливает task, связь с которым записать не удалось.
func (l *Launcher) stopOrphan(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	err := l.client.StopTask(context.WithoutCancel(ctx), task.ClusterARN, task.TaskARN, stopReason)
	if err != nil && !ecs.IsGone(err) {
		logger.Error("failed to stop unlinked task", "task_arn", task.TaskARN, "error", err)
	}
}

func cloneRun(r *domain.Run) *domain.Run {
	out := *r
	out.Tags = maps.Clone(r.Tags)
	return &out
}

// loadRun загружает run и переводит "не найден" в ErrRunNotFound.
func (l *Launcher) loadRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := l.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}
