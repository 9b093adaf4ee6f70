package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"mime/multipart"
	"time"

	"todo-tracker/internal/cache"
	"todo-tracker/internal/logging"
	"todo-tracker/internal/models"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
)

// CachedTodoService caches list reads per owner. List keys carry the owner's
// cache generation, read before the inner list runs; every mutation moves the
// generation, so a list that raced a mutation is written under a key nobody
// reads anymore. Cache failures never fail the request.
type CachedTodoService struct {
	todoService TodoService
	cache       cache.Cache
	ttl         time.Duration
	logger      *log.Logger
}

func NewCachedTodoService(todoService TodoService, cacheInstance cache.Cache, ttl time.Duration, logger *log.Logger) *CachedTodoService {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &CachedTodoService{
		todoService: todoService,
		cache:       cacheInstance,
		ttl:         ttl,
		logger:      logger,
	}
}

// initialGeneration is used until an owner's first mutation.
const initialGeneration = "0"

func generationKey(ownerID uuid.UUID) string {
	return fmt.Sprintf("todos_gen:%s", ownerID)
}

func listCacheKey(ownerID uuid.UUID, generation string, filter TodoFilter) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%t|%s|%s", filter.Status, filter.Category, filter.Search, filter.Trash, filter.SortBy, filter.SortOrder)
	return fmt.Sprintf("todos:%s:%s:%x", ownerID, generation, h.Sum64())
}

// generation reports the owner's current cache generation; ok is false when
// it cannot be read and the list must bypass the cache.
func (s *CachedTodoService) generation(ctx context.Context, ownerID uuid.UUID) (string, bool) {
	var generation string
	err := s.cache.Get(ctx, generationKey(ownerID), &generation)
	switch {
	case err == nil:
		return generation, true
	case errors.Is(err, cache.ErrCacheMiss):
		return initialGeneration, true
	default:
		s.logger.Debug("todo list cache generation unavailable", "owner_id", ownerID, "err", err)
		return "", false
	}
}

func (s *CachedTodoService) List(ctx context.Context, ownerID uuid.UUID, filter TodoFilter) ([]models.Todo, error) {
	generation, ok := s.generation(ctx, ownerID)
	if !ok {
		return s.todoService.List(ctx, ownerID, filter)
	}
	cacheKey := listCacheKey(ownerID, generation, filter)

	var cachedTodos []models.Todo
	if err := s.cache.Get(ctx, cacheKey, &cachedTodos); err == nil {
		return cachedTodos, nil
	}

	todos, err := s.todoService.List(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, cacheKey, todos, s.ttl); err != nil {
		s.logger.Debug("todo list cache write failed", "owner_id", ownerID, "err", err)
	}
	return todos, nil
}

func (s *CachedTodoService) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Todo, error) {
	return s.todoService.Get(ctx, ownerID, id)
}

func (s *CachedTodoService) Create(ctx context.Context, ownerID uuid.UUID, input TodoInput) (*models.Todo, error) {
	todo, err := s.todoService.Create(ctx, ownerID, input)
	if err == nil {
		s.invalidate(ctx, ownerID)
	}
	return todo, err
}

func (s *CachedTodoService) Update(ctx context.Context, ownerID, id uuid.UUID, patch TodoPatch) (*models.Todo, error) {
	todo, err := s.todoService.Update(ctx, ownerID, id, patch)
	if err == nil {
		s.invalidate(ctx, ownerID)
	}
	return todo, err
}

func (s *CachedTodoService) SoftDelete(ctx context.Context, ownerID, id uuid.UUID) error {
	err := s.todoService.SoftDelete(ctx, ownerID, id)
	if err == nil {
		s.invalidate(ctx, ownerID)
	}
	return err
}

func (s *CachedTodoService) Restore(ctx context.Context, ownerID, id uuid.UUID) (*models.Todo, error) {
	todo, err := s.todoService.Restore(ctx, ownerID, id)
	if err == nil {
		s.invalidate(ctx, ownerID)
	}
	return todo, err
}

func (s *CachedTodoService) PermanentlyDelete(ctx context.Context, ownerID, id uuid.UUID) error {
	err := s.todoService.PermanentlyDelete(ctx, ownerID, id)
	if err == nil {
		s.invalidate(ctx, ownerID)
	}
	return err
}

// Reorder invalidates even on a partial failure since some pairs may have applied.
func (s *CachedTodoService) Reorder(ctx context.Context, ownerID uuid.UUID, pairs []OrderPair) (ReorderResult, error) {
	result, err := s.todoService.Reorder(ctx, ownerID, pairs)
	if len(result.Applied) > 0 {
		s.invalidate(ctx, ownerID)
	}
	return result, err
}

func (s *CachedTodoService) AddAttachments(ctx context.Context, ownerID, id uuid.UUID, files []*multipart.FileHeader) (*models.Todo, error) {
	todo, err := s.todoService.AddAttachments(ctx, ownerID, id, files)
	if err == nil {
		s.invalidate(ctx, ownerID)
	}
	return todo, err
}

func (s *CachedTodoService) GetCacheStats() map[string]interface{} {
	return s.cache.Stats()
}

// invalidate moves the owner to a fresh generation, then drops the entries
// of older ones. The generation outlives any list entry written under the
// initial one.
func (s *CachedTodoService) invalidate(ctx context.Context, ownerID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	next, err := uuid.NewV4()
	if err == nil {
		err = s.cache.Set(ctx, generationKey(ownerID), next.String(), 10*s.ttl)
	}
	if err != nil {
		s.logger.Warn("todo list cache generation not advanced", "owner_id", ownerID, "err", err)
	}

	pattern := fmt.Sprintf("todos:%s:*", ownerID)
	if err := s.cache.DeletePattern(ctx, pattern); err != nil {
		s.logger.Warn("todo list cache invalidation failed", "owner_id", ownerID, "err", err)
	}
}
