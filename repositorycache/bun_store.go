package repositorycache

import (
	"context"
	"database/sql"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// BunStore adapts a go-repository-bun repository to Store. Identities are
// the string primary keys go-repository-bun works with.
type BunStore[T any] struct {
	repo     repository.Repository[T]
	idColumn string
}

var _ Store[any, string] = (*BunStore[any])(nil)

// NewBunStore wraps repo. idColumn names the primary key column used by the
// bulk queries; empty means "id".
func NewBunStore[T any](repo repository.Repository[T], idColumn string) *BunStore[T] {
	if idColumn == "" {
		idColumn = "id"
	}
	return &BunStore[T]{repo: repo, idColumn: idColumn}
}

func (s *BunStore[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		var zero T
		if isNotFound(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return record, true, nil
}

func (s *BunStore[T]) ListByIDs(ctx context.Context, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}
	records, _, err := s.repo.List(ctx, unlimited, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("? IN (?)", bun.Ident(s.idColumn), bun.In(ids))
	})
	return records, err
}

// List returns every row of the table.
func (s *BunStore[T]) List(ctx context.Context) ([]T, error) {
	records, _, err := s.repo.List(ctx, unlimited)
	return records, err
}

func (s *BunStore[T]) Create(ctx context.Context, record T) (T, error) {
	return s.repo.Create(ctx, record)
}

func (s *BunStore[T]) CreateMany(ctx context.Context, records []T) ([]T, error) {
	return s.repo.CreateMany(ctx, records)
}

// Update skips zero-valued fields so partially filled records do not wipe
// stored columns.
func (s *BunStore[T]) Update(ctx context.Context, record T) (T, error) {
	return s.repo.Update(ctx, record, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.OmitZero()
	})
}

func (s *BunStore[T]) UpdateAllFields(ctx context.Context, record T) (T, error) {
	return s.repo.Update(ctx, record)
}

func (s *BunStore[T]) UpdateMany(ctx context.Context, records []T) ([]T, error) {
	return s.repo.UpdateMany(ctx, records)
}

func (s *BunStore[T]) DeleteByID(ctx context.Context, id string) error {
	return s.repo.DeleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("? = ?", bun.Ident(s.idColumn), id)
	})
}

func (s *BunStore[T]) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.repo.DeleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("? IN (?)", bun.Ident(s.idColumn), bun.In(ids))
	})
}

// unlimited lifts the page size go-repository-bun applies to List by
// default (25 rows).
func unlimited(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Limit(0).Offset(0)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || goerrors.IsNotFound(err)
}
