package repositories_test

import (
	"context"
	"testing"
	"time"

	"todo-tracker/internal/database"
	"todo-tracker/internal/models"
	"todo-tracker/internal/repositories"

	"github.com/gofrs/uuid"
)

func setupTestRepo(t *testing.T) *repositories.GormTodoRepository {
	t.Helper()
	pool, err := database.NewSQLiteMemoryPool()
	if err != nil {
		t.Fatalf("Failed to setup test database: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return repositories.NewTodoRepository(pool.DB)
}

func newTodo(owner uuid.UUID, title string, order int) *models.Todo {
	return &models.Todo{
		ID:       uuid.Must(uuid.NewV4()),
		OwnerID:  owner,
		Title:    title,
		Status:   models.StatusTodo,
		Category: models.DefaultCategory,
		Order:    order,
	}
}

func TestTodoRepository_CreateAndFind(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())

	todo := newTodo(owner, "Write report", 0)
	todo.Tags = []string{"work"}
	todo.SubTasks = []models.SubTask{{Title: "outline"}}
	if err := repo.Create(ctx, todo); err != nil {
		t.Fatalf("Failed to create todo: %v", err)
	}

	found, err := repo.FindByID(ctx, todo.ID)
	if err != nil {
		t.Fatalf("Failed to find todo: %v", err)
	}
	if found.Title != "Write report" || found.OwnerID != owner {
		t.Errorf("Unexpected todo: %+v", found)
	}
	if len(found.Tags) != 1 || found.Tags[0] != "work" {
		t.Errorf("Expected tags to round-trip, got %v", found.Tags)
	}
	if len(found.SubTasks) != 1 || found.SubTasks[0].Title != "outline" {
		t.Errorf("Expected sub tasks to round-trip, got %v", found.SubTasks)
	}
	if found.Attachments == nil {
		t.Error("Expected attachments to be normalized to an empty slice")
	}
}

func TestTodoRepository_FindMissing(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.FindByID(context.Background(), uuid.Must(uuid.NewV4()))
	if err != repositories.ErrRecordNotFound {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestTodoRepository_ListFilters(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	groceries := newTodo(owner, "Buy groceries", 0)
	groceries.Category = "Home"
	report := newTodo(owner, "Quarterly REPORT", 1)
	report.Status = models.StatusDone
	trashed := newTodo(owner, "Old report", 2)
	trashed.IsDeleted = true
	percent := newTodo(owner, "100% done", 3)
	foreign := newTodo(other, "Someone else's report", 0)

	for _, todo := range []*models.Todo{groceries, report, trashed, percent, foreign} {
		if err := repo.Create(ctx, todo); err != nil {
			t.Fatalf("Failed to create todo: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter repositories.TodoFilter
		want   int
	}{
		{"default active only", repositories.TodoFilter{}, 3},
		{"trash view", repositories.TodoFilter{Trash: true}, 1},
		{"status", repositories.TodoFilter{Status: string(models.StatusDone)}, 1},
		{"category", repositories.TodoFilter{Category: "Home"}, 1},
		{"search case insensitive", repositories.TodoFilter{Search: "report"}, 1},
		{"search escapes wildcard", repositories.TodoFilter{Search: "%"}, 1},
		{"search underscore literal", repositories.TodoFilter{Search: "_"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			todos, err := repo.List(ctx, owner, tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(todos) != tt.want {
				t.Errorf("Expected %d todos, got %d", tt.want, len(todos))
			}
			for _, todo := range todos {
				if todo.OwnerID != owner {
					t.Errorf("List leaked a record of another owner: %s", todo.ID)
				}
			}
		})
	}
}

func TestTodoRepository_ListOrderTieBreak(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())

	base := time.Now().Add(-time.Hour)
	first := newTodo(owner, "first", 1)
	first.CreatedAt = base
	second := newTodo(owner, "second", 1)
	second.CreatedAt = base.Add(time.Minute)
	zero := newTodo(owner, "zero", 0)
	zero.CreatedAt = base.Add(2 * time.Minute)

	for _, todo := range []*models.Todo{second, zero, first} {
		if err := repo.Create(ctx, todo); err != nil {
			t.Fatalf("Failed to create todo: %v", err)
		}
	}

	todos, err := repo.List(ctx, owner, repositories.TodoFilter{SortBy: "order", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{"zero", "first", "second"}
	for i, title := range want {
		if todos[i].Title != title {
			t.Errorf("Position %d: expected %s, got %s", i, title, todos[i].Title)
		}
	}
}

func TestTodoRepository_MaxOrder(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())

	_, ok, err := repo.MaxOrder(ctx, owner)
	if err != nil || ok {
		t.Fatalf("Expected no max for empty owner, ok=%v err=%v", ok, err)
	}

	trashed := newTodo(owner, "trashed", 7)
	trashed.IsDeleted = true
	for _, todo := range []*models.Todo{newTodo(owner, "a", 2), trashed} {
		if err := repo.Create(ctx, todo); err != nil {
			t.Fatalf("Failed to create todo: %v", err)
		}
	}

	max, ok, err := repo.MaxOrder(ctx, owner)
	if err != nil || !ok {
		t.Fatalf("Expected max, ok=%v err=%v", ok, err)
	}
	if max != 7 {
		t.Errorf("Expected trashed records to count toward max, got %d", max)
	}
}

func TestTodoRepository_UpdateOrderScopedByOwner(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())
	intruder := uuid.Must(uuid.NewV4())

	todo := newTodo(owner, "scoped", 0)
	if err := repo.Create(ctx, todo); err != nil {
		t.Fatalf("Failed to create todo: %v", err)
	}

	rows, err := repo.UpdateOrder(ctx, intruder, todo.ID, 9)
	if err != nil || rows != 0 {
		t.Errorf("Expected foreign update to affect nothing, rows=%d err=%v", rows, err)
	}

	rows, err = repo.UpdateOrder(ctx, owner, todo.ID, 5)
	if err != nil || rows != 1 {
		t.Fatalf("Expected owner update to affect one row, rows=%d err=%v", rows, err)
	}

	found, _ := repo.FindByID(ctx, todo.ID)
	if found.Order != 5 {
		t.Errorf("Expected order 5, got %d", found.Order)
	}
}

func TestTodoRepository_Delete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())

	todo := newTodo(owner, "doomed", 0)
	if err := repo.Create(ctx, todo); err != nil {
		t.Fatalf("Failed to create todo: %v", err)
	}

	rows, err := repo.Delete(ctx, owner, todo.ID)
	if err != nil || rows != 1 {
		t.Fatalf("Expected one deleted row, rows=%d err=%v", rows, err)
	}

	rows, err = repo.Delete(ctx, owner, todo.ID)
	if err != nil || rows != 0 {
		t.Errorf("Expected second delete to affect nothing, rows=%d err=%v", rows, err)
	}
}

func TestTodoRepository_UpdateKeepsUntouchedColumns(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())

	todo := newTodo(owner, "draft", 0)
	todo.Description = "keep me"
	if err := repo.Create(ctx, todo); err != nil {
		t.Fatalf("Failed to create todo: %v", err)
	}

	stale, err := repo.FindByID(ctx, todo.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}

	// a reorder lands between the read and the edit
	if _, err := repo.UpdateOrder(ctx, owner, todo.ID, 7); err != nil {
		t.Fatalf("UpdateOrder failed: %v", err)
	}

	stale.Title = "final"
	stale.Description = "overwritten by a stale copy"
	if err := repo.Update(ctx, stale, "title"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	found, _ := repo.FindByID(ctx, todo.ID)
	if found.Title != "final" {
		t.Errorf("Expected title final, got %s", found.Title)
	}
	if found.Order != 7 {
		t.Errorf("Expected concurrent order 7 to survive, got %d", found.Order)
	}
	if found.Description != "keep me" {
		t.Errorf("Expected unselected description to stay, got %q", found.Description)
	}
}

func TestTodoRepository_UpdateScopedByOwner(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())

	todo := newTodo(owner, "mine", 0)
	if err := repo.Create(ctx, todo); err != nil {
		t.Fatalf("Failed to create todo: %v", err)
	}

	forged := *todo
	forged.OwnerID = uuid.Must(uuid.NewV4())
	forged.Title = "hijacked"
	if err := repo.Update(ctx, &forged, "title"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	found, _ := repo.FindByID(ctx, todo.ID)
	if found.Title != "mine" {
		t.Errorf("Expected foreign update to change nothing, got %s", found.Title)
	}
}
