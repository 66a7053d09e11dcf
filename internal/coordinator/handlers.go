package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/launcher"
	"github.com/shaiso/automata-ecs/internal/mq"
	"github.com/shaiso/automata-ecs/internal/repo"
	"github.com/shaiso/automata-ecs/internal/telemetry"
)

// handleLaunch обрабатывает запрос run.launch.
func (c *Coordinator) handleLaunch(ctx context.Context, msg *mq.Message) error {
	runID, err := parseRunID(msg)
	if err != nil {
		return err
	}
	return c.processLaunch(ctx, runID)
}

// handleTerminate обрабатывает запрос run.terminate.
func (c *Coordinator) handleTerminate(ctx context.Context, msg *mq.Message) error {
	runID, err := parseRunID(msg)
	if err != nil {
		return err
	}
	return c.processTerminate(ctx, runID)
}

func parseRunID(msg *mq.Message) (string, error) {
	payload, err := mq.ParsePayload[mq.RunRequestPayload](msg)
	if err != nil {
		return "", mq.Permanent(fmt.Errorf("parse %s payload: %w", msg.Type, err))
	}
	if payload.RunID == "" {
		return "", mq.Permanent(fmt.Errorf("%s without run_id", msg.Type))
	}
	return payload.RunID, nil
}

// processLaunch запускает run.
//
// nil возвращается и тогда, когда запуск не нужен (run уже связан,
// удалён или завершён) или провалился окончательно (run переведён в FAILED).
// Ошибка означает сбой хранилища, запрос стоит повторить.
func (c *Coordinator) processLaunch(ctx context.Context, runID string) error {
	if !c.tryBegin(runID) {
		c.logger.Debug("run launch already in flight", "run_id", runID)
		return nil
	}
	defer c.finish(runID)

	logger := telemetry.WithRunID(c.logger, runID)

	run, err := c.runs.GetByID(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("launch requested for unknown run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}

	if _, linked := run.TaskRef(); linked {
		logger.Debug("run already linked, skipping launch")
		return nil
	}
	if run.IsFinished() {
		logger.Debug("run already finished, skipping launch", "status", run.Status)
		return nil
	}

	pipeline, err := c.pipelines.GetByName(ctx, run.PipelineName)
	if errors.Is(err, repo.ErrNotFound) {
		return c.failRun(ctx, runID, fmt.Sprintf("pipeline %s not found", run.PipelineName))
	}
	if err != nil {
		return fmt.Errorf("get pipeline: %w", err)
	}

	_, err = c.launcher.Launch(ctx, runID, pipeline)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, launcher.ErrAlreadyLinked), errors.Is(err, launcher.ErrRunNotFound):
		logger.Debug("launch skipped", "reason", err)
		return nil
	case errors.Is(err, launcher.ErrLaunch), errors.Is(err, launcher.ErrInvalidArgument):
		return c.failRun(ctx, runID, err.Error())
	default:
		return err
	}
}

// failRun переводит ещё не связанный run в FAILED.
func (c *Coordinator) failRun(ctx context.Context, runID, reason string) error {
	run, err := c.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("reload run: %w", err)
	}
	if _, linked := run.TaskRef(); linked || run.IsFinished() {
		return nil
	}

	pre := repo.Precondition{Statuses: []domain.RunStatus{run.Status}, Unlinked: true}
	run.MarkFailed(reason)
	err = c.runs.UpdateIf(ctx, run, pre)
	if errors.Is(err, repo.ErrConflict) {
		c.logger.Debug("run changed concurrently, not failing it", "run_id", runID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}

	c.logger.Warn("run failed to launch", "run_id", runID, "reason", reason)
	return nil
}

// processTerminate останавливает run. Ошибка ECS возвращается,
// чтобы запрос был повторён.
func (c *Coordinator) processTerminate(ctx context.Context, runID string) error {
	logger := telemetry.WithRunID(c.logger, runID)

	stopped, err := c.launcher.Terminate(ctx, runID)
	if errors.Is(err, launcher.ErrRunNotFound) {
		logger.Warn("terminate requested for unknown run")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("terminate request processed", "stopped", stopped)
	return nil
}
