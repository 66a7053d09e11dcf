package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/automata-ecs/internal/domain"
)

const runColumns = `id, pipeline_name, status, tags, started_at, finished_at, error, created_at`

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	tagsJSON, err := marshalTags(run.Tags)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, pipeline_name, status, tags, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.PipelineName,
		run.Status,
		tagsJSON,
		run.CreatedAt,
	)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return fmt.Errorf("insert run %s: %w", run.ID, ErrAlreadyExists)
		case pgForeignKeyViolation:
			return fmt.Errorf("insert run: pipeline %s: %w", run.PipelineName, ErrNotFound)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// GetByTaskARN возвращает run по тегу ecs/task_arn.
func (r *RunRepo) GetByTaskARN(ctx context.Context, taskARN string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE tags ->> $1 = $2`
	run, err := scanRun(r.pool.QueryRow(ctx, query, domain.TagTaskARN, taskARN))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR pipeline_name = $1)
		  AND ($2::text IS NULL OR status = $2::run_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Pipeline),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// ListByStatus возвращает самые старые runs в указанных статусах.
func (r *RunRepo) ListByStatus(ctx context.Context, statuses []domain.RunStatus, limit int) ([]domain.Run, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status::text = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, names, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by status: %w", err)
	}
	return collectRuns(rows)
}

// Update сохраняет статус, теги и времена run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	tagsJSON, err := marshalTags(run.Tags)
	if err != nil {
		return err
	}

	query := `
		UPDATE runs
		SET status = $2, tags = $3, started_at = $4, finished_at = $5, error = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		tagsJSON,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateIf сохраняет run, только если строка в БД удовлетворяет pre.
// Проверка и запись выполняются одним UPDATE. ErrConflict — run есть,
// но условие не выполнено; ErrNotFound — run нет.
func (r *RunRepo) UpdateIf(ctx context.Context, run *domain.Run, pre Precondition) error {
	tagsJSON, err := marshalTags(run.Tags)
	if err != nil {
		return err
	}

	query := `
		UPDATE runs
		SET status = $2, tags = $3, started_at = $4, finished_at = $5, error = $6
		WHERE id = $1
		  AND (cardinality($7::text[]) = 0 OR status::text = ANY($7))
		  AND (NOT $8 OR COALESCE(tags ->> $9, '') = '')
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		tagsJSON,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
		pre.statusNames(),
		pre.Unlinked,
		domain.TagTaskARN,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, run.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("update run %s: %w", run.ID, ErrConflict)
}

// --- Helpers ---

// Precondition — условие на текущую строку run для UpdateIf.
type Precondition struct {
	// Statuses — допустимые текущие статусы; пусто — любой.
	Statuses []domain.RunStatus

	// Unlinked — у run ещё нет тега ecs/task_arn.
	Unlinked bool
}

// Holds проверяет условие на run в памяти (так же, как UPDATE в UpdateIf).
func (p Precondition) Holds(run *domain.Run) bool {
	if len(p.Statuses) > 0 && !slices.Contains(p.Statuses, run.Status) {
		return false
	}
	if p.Unlinked && run.Tags[domain.TagTaskARN] != "" {
		return false
	}
	return true
}

// statusNames всегда возвращает не-nil срез: nil ушёл бы в SQL как NULL.
func (p Precondition) statusNames() []string {
	names := make([]string, 0, len(p.Statuses))
	for _, s := range p.Statuses {
		names = append(names, string(s))
	}
	return names
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Pipeline string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

// scanRun сканирует одну строку в Run. pgx.Rows тоже реализует pgx.Row.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var tagsJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.PipelineName,
		&run.Status,
		&tagsJSON,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &run.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func marshalTags(tags map[string]string) ([]byte, error) {
	if tags == nil {
		tags = map[string]string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return data, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
