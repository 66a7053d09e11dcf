package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/automata-ecs/internal/domain"
)

// PipelineRepo — репозиторий зарегистрированных pipelines.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

// Create регистрирует pipeline.
func (r *PipelineRepo) Create(ctx context.Context, p *domain.ExternalPipeline) error {
	query := `
		INSERT INTO pipelines (name, image, created_at)
		VALUES ($1, $2, $3)
	`
	_, err := r.pool.Exec(ctx, query, p.Name, p.Image, p.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("pipeline %s: %w", p.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

// GetByName возвращает pipeline по имени.
func (r *PipelineRepo) GetByName(ctx context.Context, name string) (*domain.ExternalPipeline, error) {
	query := `
		SELECT name, image, created_at
		FROM pipelines
		WHERE name = $1
	`
	var p domain.ExternalPipeline
	err := r.pool.QueryRow(ctx, query, name).Scan(&p.Name, &p.Image, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline by name: %w", err)
	}
	return &p, nil
}

// List возвращает все pipelines.
func (r *PipelineRepo) List(ctx context.Context) ([]domain.ExternalPipeline, error) {
	query := `
		SELECT name, image, created_at
		FROM pipelines
		ORDER BY name
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.ExternalPipeline
	for rows.Next() {
		var p domain.ExternalPipeline
		if err := rows.Scan(&p.Name, &p.Image, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// UpdateImage меняет образ pipeline. Уже запущенные runs не затрагиваются.
func (r *PipelineRepo) UpdateImage(ctx context.Context, name, image string) error {
	result, err := r.pool.Exec(ctx, `UPDATE pipelines SET image = $2 WHERE name = $1`, name, image)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
