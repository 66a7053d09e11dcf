package launcher

import (
	"context"
	"errors"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/ecs"
	"github.com/shaiso/automata-ecs/internal/repo"
	"github.com/shaiso/automata-ecs/internal/telemetry"
)

// State вычисляет состояние запуска run.
//
//   - UNLAUNCHED — в тегах run нет ссылки на task
//   - TERMINATED — run уже в финальном статусе (ECS не опрашивается),
//     task остановлен или ECS его не знает
//   - ACTIVE — task в PROVISIONING / PENDING / ACTIVATING / RUNNING
//
// Возвращаемый task равен nil, если ECS не опрашивался или task не найден.
func (l *Launcher) State(ctx context.Context, runID string) (domain.LaunchState, *domain.Task, error) {
	run, err := l.loadRun(ctx, runID)
	if err != nil {
		return "", nil, err
	}
	return l.stateOf(ctx, run)
}

func (l *Launcher) stateOf(ctx context.Context, run *domain.Run) (domain.LaunchState, *domain.Task, error) {
	ref, ok := run.TaskRef()
	if !ok {
		return domain.LaunchStateUnlaunched, nil, nil
	}
	if run.Status.IsTerminal() {
		return domain.LaunchStateTerminated, nil, nil
	}

	task, err := l.client.DescribeTask(ctx, ref.ClusterARN, ref.TaskARN)
	if err != nil {
		if errors.Is(err, ecs.ErrTaskNotFound) {
			return domain.LaunchStateTerminated, nil, nil
		}
		return "", nil, &OrchestratorError{RunID: run.ID, TaskARN: ref.TaskARN, Op: "describe task", Err: err}
	}
	if task.IsStopped() {
		return domain.LaunchStateTerminated, task, nil
	}
	return domain.LaunchStateActive, task, nil
}

// cancellableStatuses — CANCELLED не перезаписывает финальный статус.
var cancellableStatuses = []domain.RunStatus{
	domain.RunStatusPending,
	domain.RunStatusQueued,
	domain.RunStatusStarting,
	domain.RunStatusRunning,
}

// CanTerminate возвращает true, если run в состоянии ACTIVE.
// Ничего не меняет ни в ECS, ни в хранилище.
func (l *Launcher) CanTerminate(ctx context.Context, runID string) (bool, error) {
	state, _, err := l.State(ctx, runID)
	if err != nil {
		return false, err
	}
	return state == domain.LaunchStateActive, nil
}

// Terminate останавливает task run'а.
//
// Возвращает true, только если run был ACTIVE и StopTask прошёл. Для
// UNLAUNCHED и TERMINATED возвращает false без обращения к StopTask, поэтому
// повторный вызов безопасен. Ответ ECS "не найден"/"уже остановлен" даёт false
// без ошибки; остальные ошибки StopTask — *OrchestratorError.
func (l *Launcher) Terminate(ctx context.Context, runID string) (bool, error) {
	unlock := l.locks.lock(runID)
	defer unlock()

	logger := telemetry.WithRunID(l.logger, runID)

	run, err := l.loadRun(ctx, runID)
	if err != nil {
		return false, err
	}

	state, _, err := l.stateOf(ctx, run)
	if err != nil {
		telemetry.TerminationsTotal.WithLabelValues(telemetry.ResultError).Inc()
		return false, err
	}
	if state != domain.LaunchStateActive {
		telemetry.TerminationsTotal.WithLabelValues(telemetry.ResultSkipped).Inc()
		logger.Debug("run not terminable", "state", state)
		return false, nil
	}

	ref, _ := run.TaskRef()
	logger = telemetry.WithTaskARN(logger, ref.TaskARN)

	stopped := true
	if err := l.client.StopTask(ctx, ref.ClusterARN, ref.TaskARN, stopReason); err != nil {
		if !ecs.IsGone(err) {
			telemetry.TerminationsTotal.WithLabelValues(telemetry.ResultError).Inc()
			return false, &OrchestratorError{RunID: runID, TaskARN: ref.TaskARN, Op: "stop task", Err: err}
		}
		logger.Info("task already gone", "reason", err)
		stopped = false
	}

	run.MarkCancelled()
	err = l.runs.UpdateIf(ctx, run, repo.Precondition{Statuses: cancellableStatuses})
	switch {
	case errors.Is(err, repo.ErrConflict):
		// монитор успел записать финальный статус по task
		logger.Info("run status changed during terminate, keeping it")
	case err != nil:
		// desiredStatus в ECS уже STOPPED, повторный Terminate вернёт false
		logger.Error("failed to save cancelled run", "error", err)
	}

	if !stopped {
		telemetry.TerminationsTotal.WithLabelValues(telemetry.ResultSkipped).Inc()
		return false, nil
	}

	if l.publisher != nil {
		if err := l.publisher.PublishRunTerminated(ctx, runID, ref); err != nil {
			logger.Warn("failed to publish run.terminated", "error", err)
		}
	}

	telemetry.TerminationsTotal.WithLabelValues(telemetry.ResultSuccess).Inc()
	logger.Info("run terminated")
	return true, nil
}
