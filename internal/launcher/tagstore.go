package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/ecs"
	"github.com/shaiso/automata-ecs/internal/repo"
)

// TagStore хранит двустороннюю связь run ↔ task.
//
// Со стороны run — теги ecs/task_arn и ecs/cluster в хранилище runs,
// со стороны task — тег dagster/run_id в ECS.
type TagStore struct {
	runs   RunStore
	client ecs.Client
	logger *slog.Logger
}

// NewTagStore создаёт TagStore.
func NewTagStore(runs RunStore, client ecs.Client, logger *slog.Logger) *TagStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TagStore{runs: runs, client: client, logger: logger}
}

// LinkRunToTask записывает связь с обеих сторон.
//
// Тег на task ставится, только если его там ещё нет с нужным значением
// (RunTask уже передаёт его при создании). Теги run перезаписываются,
// run сохраняется вместе с текущим статусом.
func (s *TagStore) LinkRunToTask(ctx context.Context, run *domain.Run, task *domain.Task) error {
	return s.link(ctx, run, task, nil)
}

// link — LinkRunToTask с условной записью run, если pre не nil.
func (s *TagStore) link(ctx context.Context, run *domain.Run, task *domain.Task, pre *repo.Precondition) error {
	if task.Tags[domain.TagRunID] != run.ID {
		if err := s.client.TagResource(ctx, task.TaskARN, map[string]string{domain.TagRunID: run.ID}); err != nil {
			return fmt.Errorf("tag task %s: %w", task.TaskARN, err)
		}
		if task.Tags == nil {
			task.Tags = make(map[string]string)
		}
		task.Tags[domain.TagRunID] = run.ID
	}

	if run.Tags == nil {
		run.Tags = make(map[string]string)
	}
	maps.Copy(run.Tags, task.Ref().Tags())

	var err error
	if pre != nil {
		err = s.runs.UpdateIf(ctx, run, *pre)
	} else {
		err = s.runs.Update(ctx, run)
	}
	if err != nil {
		return fmt.Errorf("save run tags: %w", err)
	}

	s.logger.Debug("run linked to task",
		"run_id", run.ID,
		"task_arn", task.TaskARN,
		"cluster", task.ClusterARN,
	)
	return nil
}

// ResolveTask читает ссылку на task из тегов run.
func (s *TagStore) ResolveTask(ctx context.Context, runID string) (domain.TaskRef, bool, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TaskRef{}, false, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return domain.TaskRef{}, false, fmt.Errorf("get run %s: %w", runID, err)
	}
	ref, ok := run.TaskRef()
	return ref, ok, nil
}

// RunIDForTask находит run по тегу dagster/run_id на task.
func (s *TagStore) RunIDForTask(ctx context.Context, taskARN string) (string, bool, error) {
	tags, err := s.client.ListTagsForResource(ctx, taskARN)
	if err != nil {
		if errors.Is(err, ecs.ErrTaskNotFound) {
			return "", false, fmt.Errorf("task %s: %w: %w", taskARN, ErrNotFound, err)
		}
		return "", false, fmt.Errorf("list tags for %s: %w", taskARN, err)
	}
	runID, ok := tags[domain.TagRunID]
	return runID, ok && runID != "", nil
}
