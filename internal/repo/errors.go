package repo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound — запись (или запись, на которую она ссылается) не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — повторный idempotency_key run или (run_id, node_id) stage.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем статусе записи.
	ErrInvalidState = errors.New("invalid state")

	// ErrStageClaimed — stage уже не QUEUED: его забрал другой worker.
	ErrStageClaimed = fmt.Errorf("stage already claimed: %w", ErrInvalidState)
)

// Коды ошибок Postgres, которые репозитории переводят в sentinel-ошибки.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapWriteError переводит нарушения ограничений в ErrAlreadyExists и ErrNotFound
// (stage для несуществующего run).
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, ErrAlreadyExists, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w (%s)", op, ErrNotFound, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
