package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"todo-tracker/internal/logging"
	"todo-tracker/internal/models"
	"todo-tracker/internal/realtime"
	"todo-tracker/internal/repositories"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
)

type TodoFilter = repositories.TodoFilter

type TodoInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Status      models.Status    `json:"status"`
	Category    string           `json:"category"`
	Tags        []string         `json:"tags"`
	DueDate     *time.Time       `json:"due_date"`
	DueTime     string           `json:"due_time"`
	Reminder    *time.Time       `json:"reminder"`
	SubTasks    []models.SubTask `json:"sub_tasks"`

	Files []*multipart.FileHeader `json:"-"`
}

// TodoPatch carries only the fields present in the request. Identity,
// ownership, deletion flag, order and timestamps cannot be patched.
type TodoPatch struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Status      *models.Status    `json:"status"`
	Category    *string           `json:"category"`
	Tags        *[]string         `json:"tags"`
	DueDate     NullableTime      `json:"due_date"`
	DueTime     *string           `json:"due_time"`
	Reminder    NullableTime      `json:"reminder"`
	SubTasks    *[]models.SubTask `json:"sub_tasks"`
}

// columns lists the stored columns a patch touches.
func (p TodoPatch) columns() []string {
	var cols []string
	add := func(set bool, name string) {
		if set {
			cols = append(cols, name)
		}
	}
	add(p.Title != nil, "title")
	add(p.Description != nil, "description")
	add(p.Status != nil, "status")
	add(p.Category != nil, "category")
	add(p.Tags != nil, "tags")
	add(p.DueDate.Set, "due_date")
	add(p.DueTime != nil, "due_time")
	add(p.Reminder.Set, "reminder")
	add(p.SubTasks != nil, "sub_tasks")
	return cols
}

// NullableTime tells an absent field apart from an explicit null.
type NullableTime struct {
	Set   bool
	Value *time.Time
}

func (n *NullableTime) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	n.Value = &t
	return nil
}

type TodoService interface {
	List(ctx context.Context, ownerID uuid.UUID, filter TodoFilter) ([]models.Todo, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Todo, error)
	Create(ctx context.Context, ownerID uuid.UUID, input TodoInput) (*models.Todo, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, patch TodoPatch) (*models.Todo, error)
	SoftDelete(ctx context.Context, ownerID, id uuid.UUID) error
	Restore(ctx context.Context, ownerID, id uuid.UUID) (*models.Todo, error)
	PermanentlyDelete(ctx context.Context, ownerID, id uuid.UUID) error
	Reorder(ctx context.Context, ownerID uuid.UUID, pairs []OrderPair) (ReorderResult, error)
	AddAttachments(ctx context.Context, ownerID, id uuid.UUID, files []*multipart.FileHeader) (*models.Todo, error)
}

type TodoServiceConfig struct {
	Broadcaster    realtime.Broadcaster
	Blobs          BlobStore
	Cleaner        AttachmentCleaner
	Logger         *log.Logger
	MaxAttachments int
}

type TodoServiceImpl struct {
	repo           repositories.TodoRepository
	ordering       *OrderingEngine
	broadcaster    realtime.Broadcaster
	blobs          BlobStore
	cleaner        AttachmentCleaner
	logger         *log.Logger
	maxAttachments int
	locks          ownerLocks
}

func NewTodoService(repo repositories.TodoRepository, cfg TodoServiceConfig) *TodoServiceImpl {
	s := &TodoServiceImpl{
		repo:           repo,
		ordering:       NewOrderingEngine(repo),
		broadcaster:    cfg.Broadcaster,
		blobs:          cfg.Blobs,
		cleaner:        cfg.Cleaner,
		logger:         cfg.Logger,
		maxAttachments: cfg.MaxAttachments,
	}
	if s.broadcaster == nil {
		s.broadcaster = realtime.NopBroadcaster{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.cleaner == nil && s.blobs != nil {
		s.cleaner = &InlineCleaner{Blobs: s.blobs, Logger: s.logger}
	}
	if s.maxAttachments <= 0 {
		s.maxAttachments = 5
	}
	return s
}

func (s *TodoServiceImpl) List(ctx context.Context, ownerID uuid.UUID, filter TodoFilter) ([]models.Todo, error) {
	if err := validateFilter(&filter); err != nil {
		return nil, err
	}
	todos, err := s.repo.List(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list todos: %w", ErrInternal, err)
	}
	return todos, nil
}

func (s *TodoServiceImpl) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Todo, error) {
	return s.loadOwned(ctx, ownerID, id)
}

func (s *TodoServiceImpl) Create(ctx context.Context, ownerID uuid.UUID, input TodoInput) (*models.Todo, error) {
	todo, err := buildTodo(ownerID, input)
	if err != nil {
		return nil, err
	}
	if len(input.Files) > 0 {
		attachments, err := s.storeFiles(ctx, input.Files)
		if err != nil {
			return nil, err
		}
		todo.Attachments = attachments
	}

	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.lock(ownerID)
	defer unlock()

	order, err := s.ordering.NextOrder(ctx, ownerID)
	if err != nil {
		s.discardAttachments(ctx, ownerID, todo.Attachments)
		return nil, err
	}
	todo.Order = order

	if err := s.repo.Create(ctx, todo); err != nil {
		s.discardAttachments(ctx, ownerID, todo.Attachments)
		return nil, fmt.Errorf("%w: failed to create todo: %w", ErrInternal, err)
	}

	s.logger.Debug("todo created", "owner_id", ownerID, "todo_id", todo.ID, "order", todo.Order)
	s.broadcaster.Broadcast(ownerID, realtime.NewEvent(realtime.EventTodoCreated, todo))
	return todo, nil
}

func (s *TodoServiceImpl) Update(ctx context.Context, ownerID, id uuid.UUID, patch TodoPatch) (*models.Todo, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.lock(ownerID)
	defer unlock()

	todo, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if _, _, err := todo.Apply(models.TransitionEdit); err != nil {
		return nil, transitionError(err, id)
	}
	if err := applyPatch(todo, patch); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, todo, patch.columns()...); err != nil {
		return nil, fmt.Errorf("%w: failed to update todo: %w", ErrInternal, err)
	}

	s.broadcaster.Broadcast(ownerID, realtime.NewEvent(realtime.EventTodoUpdated, todo))
	return todo, nil
}

func (s *TodoServiceImpl) SoftDelete(ctx context.Context, ownerID, id uuid.UUID) error {
	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.lock(ownerID)
	defer unlock()

	todo, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	_, changed, err := todo.Apply(models.TransitionSoftDelete)
	if err != nil {
		return transitionError(err, id)
	}
	if changed {
		if err := s.repo.Update(ctx, todo, "is_deleted"); err != nil {
			return fmt.Errorf("%w: failed to trash todo: %w", ErrInternal, err)
		}
	}

	s.broadcaster.Broadcast(ownerID, realtime.NewEvent(realtime.EventTodoDeleted, realtime.IDPayload{ID: id}))
	return nil
}

func (s *TodoServiceImpl) Restore(ctx context.Context, ownerID, id uuid.UUID) (*models.Todo, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.lock(ownerID)
	defer unlock()

	todo, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	_, changed, err := todo.Apply(models.TransitionRestore)
	if err != nil {
		return nil, transitionError(err, id)
	}
	if changed {
		if err := s.repo.Update(ctx, todo, "is_deleted"); err != nil {
			return nil, fmt.Errorf("%w: failed to restore todo: %w", ErrInternal, err)
		}
	}

	s.broadcaster.Broadcast(ownerID, realtime.NewEvent(realtime.EventTodoRestored, todo))
	return todo, nil
}

func (s *TodoServiceImpl) PermanentlyDelete(ctx context.Context, ownerID, id uuid.UUID) error {
	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.lock(ownerID)
	defer unlock()

	todo, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if _, _, err := todo.Apply(models.TransitionPurge); err != nil {
		return transitionError(err, id)
	}

	rows, err := s.repo.Delete(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete todo: %w", ErrInternal, err)
	}
	if rows == 0 {
		s.logger.Debug("todo vanished before permanent delete", "owner_id", ownerID, "todo_id", id)
	}

	s.broadcaster.Broadcast(ownerID, realtime.NewEvent(realtime.EventTodoPermanentlyDeleted, realtime.IDPayload{ID: id}))

	if len(todo.Attachments) > 0 && s.cleaner != nil {
		if err := s.cleaner.CleanupAttachments(ctx, ownerID, todo.Attachments); err != nil {
			s.logger.Warn("attachment cleanup not scheduled", "owner_id", ownerID, "todo_id", id, "err", err)
		}
	}
	return nil
}

func (s *TodoServiceImpl) Reorder(ctx context.Context, ownerID uuid.UUID, pairs []OrderPair) (ReorderResult, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.lock(ownerID)
	defer unlock()

	result, err := s.ordering.Reorder(ctx, ownerID, pairs)
	if len(result.Skipped) > 0 {
		s.logger.Debug("reorder skipped pairs", "owner_id", ownerID, "skipped", len(result.Skipped))
	}
	if len(result.Applied) > 0 {
		s.broadcaster.Broadcast(ownerID, realtime.NewEvent(realtime.EventTodosReordered, result.Applied))
	}
	return result, err
}

func (s *TodoServiceImpl) AddAttachments(ctx context.Context, ownerID, id uuid.UUID, files []*multipart.FileHeader) (*models.Todo, error) {
	if len(files) == 0 {
		return nil, NewValidationError("attachments", "at least one file is required")
	}

	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.lock(ownerID)
	defer unlock()

	todo, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if _, _, err := todo.Apply(models.TransitionEdit); err != nil {
		return nil, transitionError(err, id)
	}

	attachments, err := s.storeFiles(ctx, files)
	if err != nil {
		return nil, err
	}
	todo.Attachments = append(todo.Attachments, attachments...)

	if err := s.repo.Update(ctx, todo, "attachments"); err != nil {
		s.discardAttachments(ctx, ownerID, attachments)
		return nil, fmt.Errorf("%w: failed to attach files: %w", ErrInternal, err)
	}

	s.broadcaster.Broadcast(ownerID, realtime.NewEvent(realtime.EventTodoUpdated, todo))
	return todo, nil
}

func (s *TodoServiceImpl) loadOwned(ctx context.Context, ownerID, id uuid.UUID) (*models.Todo, error) {
	todo, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, fmt.Errorf("todo %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load todo: %w", ErrInternal, err)
	}
	if todo.OwnerID != ownerID {
		return nil, fmt.Errorf("todo %s: %w", id, ErrUnauthorized)
	}
	return todo, nil
}

func (s *TodoServiceImpl) storeFiles(ctx context.Context, files []*multipart.FileHeader) ([]models.Attachment, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("%w: no blob store configured", ErrStorage)
	}
	if len(files) > s.maxAttachments {
		return nil, NewValidationError("attachments", fmt.Sprintf("at most %d files per upload", s.maxAttachments))
	}

	attachments := make([]models.Attachment, 0, len(files))
	for _, file := range files {
		attachment, err := s.blobs.Store(ctx, file)
		if err != nil {
			for _, stored := range attachments {
				if removeErr := s.blobs.Remove(ctx, stored.PublicID); removeErr != nil {
					s.logger.Warn("failed to roll back stored attachment", "public_id", stored.PublicID, "err", removeErr)
				}
			}
			return nil, err
		}
		attachments = append(attachments, attachment)
	}
	return attachments, nil
}

// discardAttachments hands blobs of a write that did not persist to the cleaner.
func (s *TodoServiceImpl) discardAttachments(ctx context.Context, ownerID uuid.UUID, attachments []models.Attachment) {
	if len(attachments) == 0 || s.cleaner == nil {
		return
	}
	if err := s.cleaner.CleanupAttachments(ctx, ownerID, attachments); err != nil {
		s.logger.Warn("orphaned attachments not cleaned up", "owner_id", ownerID, "count", len(attachments), "err", err)
	}
}

func transitionError(err error, id uuid.UUID) error {
	switch {
	case errors.Is(err, models.ErrTransitionNotAllowed):
		return fmt.Errorf("todo %s is in trash: %w", id, ErrConflict)
	case errors.Is(err, models.ErrRecordGone):
		return fmt.Errorf("todo %s: %w", id, ErrNotFound)
	default:
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
}

func buildTodo(ownerID uuid.UUID, input TodoInput) (*models.Todo, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, NewValidationError("title", "title is required")
	}

	status := input.Status
	if status == "" {
		status = models.StatusTodo
	}
	if !status.Valid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	category := strings.TrimSpace(input.Category)
	if category == "" {
		category = models.DefaultCategory
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate id: %w", ErrInternal, err)
	}

	todo := &models.Todo{
		ID:          id,
		OwnerID:     ownerID,
		Title:       title,
		Description: input.Description,
		Status:      status,
		Category:    category,
		Tags:        models.UniqueTags(input.Tags),
		DueDate:     input.DueDate,
		DueTime:     input.DueTime,
		Reminder:    input.Reminder,
		SubTasks:    input.SubTasks,
	}
	todo.Normalize()
	return todo, nil
}

func applyPatch(todo *models.Todo, patch TodoPatch) error {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return NewValidationError("title", "title cannot be blank")
		}
		todo.Title = title
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return NewValidationError("status", fmt.Sprintf("unknown status %q", *patch.Status))
		}
		todo.Status = *patch.Status
	}
	if patch.Description != nil {
		todo.Description = *patch.Description
	}
	if patch.Category != nil {
		category := strings.TrimSpace(*patch.Category)
		if category == "" {
			category = models.DefaultCategory
		}
		todo.Category = category
	}
	if patch.Tags != nil {
		todo.Tags = models.UniqueTags(*patch.Tags)
	}
	if patch.DueDate.Set {
		todo.DueDate = patch.DueDate.Value
	}
	if patch.DueTime != nil {
		todo.DueTime = *patch.DueTime
	}
	if patch.Reminder.Set {
		todo.Reminder = patch.Reminder.Value
	}
	if patch.SubTasks != nil {
		todo.SubTasks = *patch.SubTasks
	}
	todo.Normalize()
	return nil
}

// validateFilter defaults to newest first. An explicit sortBy without a
// direction sorts ascending.
func validateFilter(filter *TodoFilter) error {
	defaultOrder := "asc"
	if filter.SortBy == "" {
		filter.SortBy = "created_at"
		defaultOrder = "desc"
	}
	if _, ok := repositories.SortColumns[filter.SortBy]; !ok {
		return NewValidationError("sortBy", fmt.Sprintf("cannot sort by %q", filter.SortBy))
	}
	switch strings.ToLower(filter.SortOrder) {
	case "":
		filter.SortOrder = defaultOrder
	case "asc", "desc":
		filter.SortOrder = strings.ToLower(filter.SortOrder)
	default:
		return NewValidationError("sortOrder", "sort order must be asc or desc")
	}
	if filter.Status != "" && !models.Status(filter.Status).Valid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	return nil
}

const lockStripes = 64

// ownerLocks serializes one owner's mutations across persist and broadcast,
// so that owner's events leave in the order the store accepted them.
type ownerLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *ownerLocks) lock(ownerID uuid.UUID) func() {
	h := fnv.New32a()
	h.Write(ownerID.Bytes())
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
