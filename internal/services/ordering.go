package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"todo-tracker/internal/models"
	"todo-tracker/internal/repositories"

	"github.com/gofrs/uuid"
)

// OrderPair is one entry of a bulk reorder request. ID stays a string so
// malformed ids can be skipped instead of failing the whole batch.
type OrderPair struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

type AppliedOrder struct {
	ID    uuid.UUID `json:"id"`
	Order int       `json:"order"`
}

type ReorderResult struct {
	Applied []AppliedOrder `json:"applied"`
	Skipped []string       `json:"skipped"`
}

type OrderingEngine struct {
	repo repositories.TodoRepository
}

func NewOrderingEngine(repo repositories.TodoRepository) *OrderingEngine {
	return &OrderingEngine{repo: repo}
}

// NextOrder returns the order for a new record: one past the owner's highest,
// or 0 for an owner without records. Trashed records count.
func (e *OrderingEngine) NextOrder(ctx context.Context, ownerID uuid.UUID) (int, error) {
	highest, ok, err := e.repo.MaxOrder(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read max order: %w", ErrInternal, err)
	}
	if !ok {
		return 0, nil
	}
	return highest + 1, nil
}

// Reorder applies each pair as an independent point update scoped by owner.
// Unparsable or foreign ids are skipped; a failing write is collected and the
// batch continues.
func (e *OrderingEngine) Reorder(ctx context.Context, ownerID uuid.UUID, pairs []OrderPair) (ReorderResult, error) {
	result := ReorderResult{
		Applied: []AppliedOrder{},
		Skipped: []string{},
	}

	var writeErrs []error
	for _, pair := range pairs {
		id, err := uuid.FromString(pair.ID)
		if err != nil {
			result.Skipped = append(result.Skipped, pair.ID)
			continue
		}

		rows, err := e.repo.UpdateOrder(ctx, ownerID, id, pair.Order)
		if err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("reorder %s: %w", id, err))
			result.Skipped = append(result.Skipped, pair.ID)
			continue
		}
		if rows == 0 {
			result.Skipped = append(result.Skipped, pair.ID)
			continue
		}
		result.Applied = append(result.Applied, AppliedOrder{ID: id, Order: pair.Order})
	}

	if len(writeErrs) > 0 {
		return result, fmt.Errorf("%w: %w", ErrInternal, errors.Join(writeErrs...))
	}
	return result, nil
}

// SortForDisplay orders todos by order ascending, then creation time ascending.
func SortForDisplay(todos []models.Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		if todos[i].Order != todos[j].Order {
			return todos[i].Order < todos[j].Order
		}
		return todos[i].CreatedAt.Before(todos[j].CreatedAt)
	})
}
