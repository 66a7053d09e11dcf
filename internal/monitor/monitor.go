package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/ecs"
	"github.com/shaiso/automata-ecs/internal/launcher"
	"github.com/shaiso/automata-ecs/internal/repo"
	"github.com/shaiso/automata-ecs/internal/telemetry"
)

// LeaderLockKey — ключ pg_advisory_lock монитора.
const LeaderLockKey int64 = 424243

const (
	defaultBatchSize    = 100
	defaultClaimTimeout = 10 * time.Minute
)

// TaskDescriber — чтение состояния task. Реализация: ecs.Client.
type TaskDescriber interface {
	DescribeTask(ctx context.Context, cluster, taskARN string) (*domain.Task, error)
}

// RunStore — хранилище runs. Реализация: repo.RunRepo.
type RunStore interface {
	UpdateIf(ctx context.Context, run *domain.Run, pre repo.Precondition) error
	ListByStatus(ctx context.Context, statuses []domain.RunStatus, limit int) ([]domain.Run, error)
}

// Leader — лидерство между репликами. Реализация: repo.Leader.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// Monitor переносит состояние ECS tasks в статусы runs.
type Monitor struct {
	tasks     TaskDescriber
	runs      RunStore
	leader    Leader
	schedule     cron.Schedule
	batchSize    int
	claimTimeout time.Duration
	logger       *slog.Logger
}

// Config — конфигурация Monitor.
type Config struct {
	Tasks  TaskDescriber
	Runs   RunStore
	Leader Leader // nil — без лидерства (одна реплика)

	Schedule  cron.Schedule
	BatchSize int // runs за один sweep (default: 100)

	// ClaimTimeout — через сколько STARTING без task считается брошенным
	// запуском (default: 10m).
	ClaimTimeout time.Duration

	Logger *slog.Logger
}

// New создаёт новый Monitor.
func New(cfg Config) *Monitor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	schedule := cfg.Schedule
	if schedule == nil {
		schedule = cron.Every(30 * time.Second)
	}

	claimTimeout := cfg.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = defaultClaimTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		tasks:        cfg.Tasks,
		runs:         cfg.Runs,
		leader:       cfg.Leader,
		schedule:     schedule,
		batchSize:    batchSize,
		claimTimeout: claimTimeout,
		logger:       logger.With("component", "monitor"),
	}
}

// Run выполняет Sweep по расписанию до отмены ctx.
// Sweep выполняется только на реплике, которая держит лидерство.
func (m *Monitor) Run(ctx context.Context) {
	defer func() {
		if m.leader != nil {
			m.leader.Release(context.Background())
		}
	}()

	for {
		next := m.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if m.leader != nil {
			ok, err := m.leader.TryAcquire(ctx)
			if err != nil {
				m.logger.Error("leader election failed", "error", err)
				continue
			}
			if !ok {
				m.logger.Debug("not leader, skipping sweep")
				continue
			}
		}

		if err := m.Sweep(ctx); err != nil {
			m.logger.Error("sweep failed", "error", err)
		}
	}
}

// Sweep проверяет runs в STARTING и RUNNING.
// Ошибка одного run не останавливает обработку остальных.
func (m *Monitor) Sweep(ctx context.Context) error {
	runs, err := m.runs.ListByStatus(ctx, []domain.RunStatus{domain.RunStatusStarting, domain.RunStatusRunning}, m.batchSize)
	if err != nil {
		return fmt.Errorf("list active runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}

	var changed int
	for i := range runs {
		ok, err := m.reconcile(ctx, &runs[i])
		if err != nil {
			m.logger.Error("failed to reconcile run", "run_id", runs[i].ID, "error", err)
			continue
		}
		if ok {
			changed++
		}
	}

	m.logger.Info("sweep completed", "checked", len(runs), "changed", changed)
	return nil
}

// reconcile сверяет один run с его task. true — статус run изменён.
func (m *Monitor) reconcile(ctx context.Context, run *domain.Run) (bool, error) {
	ref, ok := run.TaskRef()
	if !ok {
		return m.expireClaim(ctx, run)
	}

	var next Transition
	task, err := m.tasks.DescribeTask(ctx, ref.ClusterARN, ref.TaskARN)
	switch {
	case errors.Is(err, ecs.ErrTaskNotFound):
		next = Transition{Status: domain.RunStatusFailed, Reason: "task no longer known to ECS"}
	case err != nil:
		return false, fmt.Errorf("describe task %s: %w", ref.TaskARN, err)
	default:
		next = Classify(run.Status, task)
	}

	if next.Status == "" || next.Status == run.Status {
		return false, nil
	}

	// run мог быть остановлен через Terminate, пока шёл DescribeTask
	pre := repo.Precondition{Statuses: []domain.RunStatus{run.Status}}
	return m.write(ctx, run, next, pre, ref.TaskARN)
}

// expireClaim завершает run, который захвачен для запуска (STARTING без task)
// дольше claimTimeout: процесс, запускавший его, не дошёл до записи связи.
func (m *Monitor) expireClaim(ctx context.Context, run *domain.Run) (bool, error) {
	if run.Status != domain.RunStatusStarting || run.StartedAt == nil {
		return false, nil
	}
	if time.Since(*run.StartedAt) < m.claimTimeout {
		return false, nil
	}

	next := Transition{Status: domain.RunStatusFailed, Reason: "launch did not complete"}
	pre := repo.Precondition{Statuses: []domain.RunStatus{domain.RunStatusStarting}, Unlinked: true}
	return m.write(ctx, run, next, pre, "")
}

// write применяет переход к копии run и сохраняет её, если pre ещё выполняется.
func (m *Monitor) write(ctx context.Context, run *domain.Run, next Transition, pre repo.Precondition, taskARN string) (bool, error) {
	updated := *run
	next.apply(&updated)

	err := m.runs.UpdateIf(ctx, &updated, pre)
	if errors.Is(err, repo.ErrConflict) {
		m.logger.Debug("run changed during reconcile, skipping", "run_id", run.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update run: %w", err)
	}

	telemetry.RunsReconciled.WithLabelValues(string(next.Status)).Inc()
	logger := telemetry.WithRunID(m.logger, run.ID)
	if taskARN != "" {
		logger = telemetry.WithTaskARN(logger, taskARN)
	}
	logger.Info("run status changed",
		"from", run.Status,
		"to", next.Status,
		"reason", next.Reason,
	)
	return true, nil
}

// Transition — новый статус run. Пустой Status — без изменений.
type Transition struct {
	Status domain.RunStatus
	Reason string
}

func (t Transition) apply(run *domain.Run) {
	switch t.Status {
	case domain.RunStatusRunning:
		run.MarkRunning()
	case domain.RunStatusSucceeded:
		run.MarkSucceeded()
	case domain.RunStatusFailed:
		run.MarkFailed(t.Reason)
	}
}

// Classify выбирает статус run по состоянию task.
//
// Run завершается только когда task в STOPPED: успех определяется
// кодом выхода контейнера run.
func Classify(current domain.RunStatus, task *domain.Task) Transition {
	switch {
	case task.LastStatus == domain.TaskStatusStopped:
		return stoppedTransition(task)
	case task.LastStatus == domain.TaskStatusRunning && current == domain.RunStatusStarting:
		return Transition{Status: domain.RunStatusRunning}
	default:
		return Transition{}
	}
}

func stoppedTransition(task *domain.Task) Transition {
	c, ok := task.Container(launcher.RunContainerName)
	if !ok {
		return Transition{Status: domain.RunStatusFailed, Reason: stopReason(task, "run container missing")}
	}
	if c.ExitCode == nil {
		return Transition{Status: domain.RunStatusFailed, Reason: stopReason(task, firstNonEmpty(c.Reason, "run container did not exit"))}
	}
	if *c.ExitCode == 0 {
		return Transition{Status: domain.RunStatusSucceeded}
	}
	return Transition{Status: domain.RunStatusFailed, Reason: stopReason(task, fmt.Sprintf("run container exited with code %d", *c.ExitCode))}
}

func stopReason(task *domain.Task, detail string) string {
	if task.StoppedReason == "" {
		return detail
	}
	return detail + ": " + task.StoppedReason
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
