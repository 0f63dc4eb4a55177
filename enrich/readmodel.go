// Package enrich completes candidate domain events with reference data
// resolved through a read-through cache over an external read model.
package enrich

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// ErrNotFound reports a reference key with no entry in the read model.
// A missing reference is not retryable and not fatal: the candidate keeps
// its raw code and validation decides its fate.
var ErrNotFound = errors.New("enrich: reference not found")

// ReadModel resolves a reference code to its display value. Lookups are
// read-only and must never mutate the source system.
type ReadModel interface {
	Lookup(ctx context.Context, entityType string, key string) (string, error)
}

// UnavailableError marks a lookup failure as transient: the reference
// store could not be reached, so the candidate should be retried with
// backoff rather than dropped or fabricated.
type UnavailableError struct {
	cause error
}

func (e *UnavailableError) Error() string {
	return "enrich: reference store unavailable: " + e.cause.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.cause
}

func Unavailable(cause error) error {
	return &UnavailableError{cause: cause}
}

func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}

// SQLReadModel serves reference lookups from the HR database's reference
// tables over database/sql. One parameterized query per entity type.
type SQLReadModel struct {
	db      *sql.DB
	queries map[string]string
}

func NewSQLReadModel(db *sql.DB) *SQLReadModel {
	return &SQLReadModel{
		db: db,
		queries: map[string]string{
			"position":   "SELECT title FROM positions WHERE id = ?",
			"department": "SELECT name FROM departments WHERE id = ?",
		},
	}
}

func (m *SQLReadModel) Lookup(ctx context.Context, entityType string, key string) (string, error) {
	query, ok := m.queries[entityType]
	if !ok {
		return "", errors.Errorf("enrich: no reference query for entity type %q", entityType)
	}

	var value string
	if err := m.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", Unavailable(err)
	}

	return value, nil
}
