package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"todo-tracker/internal/middleware"
	"todo-tracker/internal/models"
	"todo-tracker/internal/services"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type TodoHandler struct {
	todoService services.TodoService
	logger      *log.Logger
}

func NewTodoHandler(todoService services.TodoService, logger *log.Logger) *TodoHandler {
	return &TodoHandler{todoService: todoService, logger: logger}
}

type ReorderRequest struct {
	NewOrder []services.OrderPair `json:"new_order" binding:"required"`
}

type ReorderResponse struct {
	Message string   `json:"message"`
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
}

// RegisterRoutes mounts the todo routes on an authenticated group.
func (h *TodoHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/todos", h.ListTodos)
	r.POST("/todos", h.CreateTodo)
	r.PUT("/todos/reorder", h.ReorderTodos)
	r.GET("/todos/:id", h.GetTodo)
	r.PUT("/todos/:id", h.UpdateTodo)
	r.DELETE("/todos/:id", h.DeleteTodo)
	r.PUT("/todos/:id/restore", h.RestoreTodo)
	r.DELETE("/todos/:id/permanent", h.PermanentlyDeleteTodo)
	r.POST("/todos/:id/attachments", h.AddAttachments)
}

func (h *TodoHandler) ListTodos(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	trash, err := strconv.ParseBool(c.DefaultQuery("trash", "false"))
	if err != nil {
		h.handleTodoError(c, services.NewValidationError("trash", "trash must be true or false"))
		return
	}
	filter := services.TodoFilter{
		Status:    c.Query("status"),
		Category:  c.Query("category"),
		Search:    c.Query("search"),
		Trash:     trash,
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}

	todos, err := h.todoService.List(c.Request.Context(), userID, filter)
	if err != nil {
		h.handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, todos)
}

func (h *TodoHandler) GetTodo(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := h.todoID(c)
	if !ok {
		return
	}

	todo, err := h.todoService.Get(c.Request.Context(), userID, id)
	if err != nil {
		h.handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (h *TodoHandler) CreateTodo(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var input services.TodoInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			badRequest(c, "invalid multipart form")
			return
		}
		if input, err = todoInputFromForm(form); err != nil {
			h.handleTodoError(c, err)
			return
		}
	} else if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	todo, err := h.todoService.Create(c.Request.Context(), userID, input)
	if err != nil {
		h.handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusCreated, todo)
}

func (h *TodoHandler) UpdateTodo(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := h.todoID(c)
	if !ok {
		return
	}

	var patch services.TodoPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	todo, err := h.todoService.Update(c.Request.Context(), userID, id, patch)
	if err != nil {
		h.handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (h *TodoHandler) DeleteTodo(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := h.todoID(c)
	if !ok {
		return
	}

	if err := h.todoService.SoftDelete(c.Request.Context(), userID, id); err != nil {
		h.handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Todo moved to trash"})
}

func (h *TodoHandler) RestoreTodo(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := h.todoID(c)
	if !ok {
		return
	}

	todo, err := h.todoService.Restore(c.Request.Context(), userID, id)
	if err != nil {
		h.handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (h *TodoHandler) PermanentlyDeleteTodo(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := h.todoID(c)
	if !ok {
		return
	}

	if err := h.todoService.PermanentlyDelete(c.Request.Context(), userID, id); err != nil {
		h.handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Todo permanently deleted"})
}

func (h *TodoHandler) ReorderTodos(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid order data")
		return
	}

	result, err := h.todoService.Reorder(c.Request.Context(), userID, req.NewOrder)
	if err != nil {
		h.handleTodoError(c, err)
		return
	}

	applied := make([]string, 0, len(result.Applied))
	for _, pair := range result.Applied {
		applied = append(applied, pair.ID.String())
	}
	skipped := result.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	c.JSON(http.StatusOK, ReorderResponse{Message: "Reordered successfully", Applied: applied, Skipped: skipped})
}

func (h *TodoHandler) AddAttachments(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := h.todoID(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "invalid multipart form")
		return
	}

	todo, err := h.todoService.AddAttachments(c.Request.Context(), userID, id, form.File["attachments"])
	if err != nil {
		h.handleTodoError(c, err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

// todoID parses the :id path parameter. A malformed id cannot name a record,
// so it is reported as not found.
func (h *TodoHandler) todoID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		h.logger.Debug("todo lookup failed", "reason", "malformed_id", "id", c.Param("id"))
		c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
		return uuid.Nil, false
	}
	return id, true
}

func callerID(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return uuid.Nil, false
	}
	return userID, true
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}

func (h *TodoHandler) handleTodoError(c *gin.Context, err error) {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": validationErr.Error()})
	case errors.Is(err, services.ErrNotFound):
		h.logger.Debug("todo lookup failed", "reason", "not_found", "path", c.Request.URL.Path)
		c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
	case errors.Is(err, services.ErrUnauthorized):
		h.logger.Warn("todo lookup failed", "reason", "foreign_owner", "path", c.Request.URL.Path)
		c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "todo is in the trash"})
	case errors.Is(err, services.ErrStorage):
		h.logger.Error("blob storage failed", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "attachment storage failed"})
	default:
		h.logger.Error("todo request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process todo request"})
	}
}

// todoInputFromForm reads a multipart create request. tags and sub_tasks may
// be sent as JSON arrays; tags may also repeat or be comma separated.
func todoInputFromForm(form *multipart.Form) (services.TodoInput, error) {
	value := func(key string) string {
		if values := form.Value[key]; len(values) > 0 {
			return values[0]
		}
		return ""
	}

	input := services.TodoInput{
		Title:       value("title"),
		Description: value("description"),
		Status:      models.Status(value("status")),
		Category:    value("category"),
		DueTime:     value("due_time"),
		Files:       form.File["attachments"],
	}

	tags, err := formTags(form.Value["tags"])
	if err != nil {
		return input, err
	}
	input.Tags = tags

	if raw := value("sub_tasks"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.SubTasks); err != nil {
			return input, services.NewValidationError("sub_tasks", "must be a JSON array")
		}
	}
	if input.DueDate, err = formTime("due_date", value("due_date")); err != nil {
		return input, err
	}
	if input.Reminder, err = formTime("reminder", value("reminder")); err != nil {
		return input, err
	}
	return input, nil
}

func formTags(values []string) ([]string, error) {
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var tags []string
		if err := json.Unmarshal([]byte(values[0]), &tags); err != nil {
			return nil, services.NewValidationError("tags", "must be a JSON array of strings")
		}
		return tags, nil
	}
	var tags []string
	for _, value := range values {
		for _, tag := range strings.Split(value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags, nil
}

func formTime(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, services.NewValidationError(field, "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
}
