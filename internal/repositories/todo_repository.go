package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"todo-tracker/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("record not found")

// SortColumns maps public sort keys to their column names.
var SortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"order":      "sort_order",
	"title":      "title",
	"due_date":   "due_date",
	"status":     "status",
	"category":   "category",
}

type TodoFilter struct {
	Status    string
	Category  string
	Search    string
	Trash     bool
	SortBy    string
	SortOrder string
}

type TodoRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Todo, error)
	List(ctx context.Context, ownerID uuid.UUID, filter TodoFilter) ([]models.Todo, error)
	Create(ctx context.Context, todo *models.Todo) error
	Update(ctx context.Context, todo *models.Todo, columns ...string) error
	Delete(ctx context.Context, ownerID, id uuid.UUID) (int64, error)
	MaxOrder(ctx context.Context, ownerID uuid.UUID) (int, bool, error)
	UpdateOrder(ctx context.Context, ownerID, id uuid.UUID, order int) (int64, error)
}

type GormTodoRepository struct {
	db *gorm.DB
}

func NewTodoRepository(db *gorm.DB) *GormTodoRepository {
	return &GormTodoRepository{db: db}
}

func (r *GormTodoRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Todo, error) {
	var todo models.Todo
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&todo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &todo, nil
}

func (r *GormTodoRepository) List(ctx context.Context, ownerID uuid.UUID, filter TodoFilter) ([]models.Todo, error) {
	query := r.db.WithContext(ctx).Model(&models.Todo{}).
		Where("owner_id = ?", ownerID).
		Where("is_deleted = ?", filter.Trash)

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Search != "" {
		query = query.Where("LOWER(title) LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(filter.Search))+"%")
	}

	column, ok := SortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		direction = "ASC"
	}
	query = query.Order(column + " " + direction)
	if column == "sort_order" {
		query = query.Order("created_at ASC")
	}

	todos := []models.Todo{}
	if err := query.Find(&todos).Error; err != nil {
		return nil, err
	}
	return todos, nil
}

func (r *GormTodoRepository) Create(ctx context.Context, todo *models.Todo) error {
	return r.db.WithContext(ctx).Create(todo).Error
}

// Update writes only the named columns (plus updated_at) of an owned record,
// leaving sort_order and every other column as stored.
func (r *GormTodoRepository) Update(ctx context.Context, todo *models.Todo, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(todo).
		Where("owner_id = ?", todo.OwnerID).
		Select(append(columns, "updated_at")).
		Updates(todo).Error
}

func (r *GormTodoRepository) Delete(ctx context.Context, ownerID, id uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&models.Todo{})
	return result.RowsAffected, result.Error
}

// MaxOrder reports the owner's highest order value across active and trashed
// records. The bool is false when the owner has no records.
func (r *GormTodoRepository) MaxOrder(ctx context.Context, ownerID uuid.UUID) (int, bool, error) {
	var highest sql.NullInt64
	err := r.db.WithContext(ctx).Model(&models.Todo{}).
		Where("owner_id = ?", ownerID).
		Select("MAX(sort_order)").
		Scan(&highest).Error
	if err != nil {
		return 0, false, err
	}
	if !highest.Valid {
		return 0, false, nil
	}
	return int(highest.Int64), true, nil
}

func (r *GormTodoRepository) UpdateOrder(ctx context.Context, ownerID, id uuid.UUID, order int) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Todo{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		UpdateColumns(map[string]interface{}{"sort_order": order, "updated_at": time.Now()})
	return result.RowsAffected, result.Error
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
