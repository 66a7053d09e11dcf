package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict — запись есть, но условие UpdateIf не выполнено.
	ErrConflict = errors.New("conflict")
)

// SQLSTATE, которые репозитории переводят в свои ошибки.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// pgCode возвращает SQLSTATE ошибки Postgres или "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
