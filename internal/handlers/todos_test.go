package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"todo-tracker/internal/handlers"
	"todo-tracker/internal/logging"
	"todo-tracker/internal/models"
	"todo-tracker/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTodoService struct {
	mock.Mock
}

func (m *MockTodoService) List(ctx context.Context, ownerID uuid.UUID, filter services.TodoFilter) ([]models.Todo, error) {
	args := m.Called(ctx, ownerID, filter)
	todos, _ := args.Get(0).([]models.Todo)
	return todos, args.Error(1)
}

func (m *MockTodoService) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Todo, error) {
	args := m.Called(ctx, ownerID, id)
	todo, _ := args.Get(0).(*models.Todo)
	return todo, args.Error(1)
}

func (m *MockTodoService) Create(ctx context.Context, ownerID uuid.UUID, input services.TodoInput) (*models.Todo, error) {
	args := m.Called(ctx, ownerID, input)
	todo, _ := args.Get(0).(*models.Todo)
	return todo, args.Error(1)
}

func (m *MockTodoService) Update(ctx context.Context, ownerID, id uuid.UUID, patch services.TodoPatch) (*models.Todo, error) {
	args := m.Called(ctx, ownerID, id, patch)
	todo, _ := args.Get(0).(*models.Todo)
	return todo, args.Error(1)
}

func (m *MockTodoService) SoftDelete(ctx context.Context, ownerID, id uuid.UUID) error {
	return m.Called(ctx, ownerID, id).Error(0)
}

func (m *MockTodoService) Restore(ctx context.Context, ownerID, id uuid.UUID) (*models.Todo, error) {
	args := m.Called(ctx, ownerID, id)
	todo, _ := args.Get(0).(*models.Todo)
	return todo, args.Error(1)
}

func (m *MockTodoService) PermanentlyDelete(ctx context.Context, ownerID, id uuid.UUID) error {
	return m.Called(ctx, ownerID, id).Error(0)
}

func (m *MockTodoService) Reorder(ctx context.Context, ownerID uuid.UUID, pairs []services.OrderPair) (services.ReorderResult, error) {
	args := m.Called(ctx, ownerID, pairs)
	return args.Get(0).(services.ReorderResult), args.Error(1)
}

func (m *MockTodoService) AddAttachments(ctx context.Context, ownerID, id uuid.UUID, files []*multipart.FileHeader) (*models.Todo, error) {
	args := m.Called(ctx, ownerID, id, files)
	todo, _ := args.Get(0).(*models.Todo)
	return todo, args.Error(1)
}

func setupTodoHandler() (*MockTodoService, *gin.Engine, uuid.UUID) {
	gin.SetMode(gin.TestMode)
	mockService := new(MockTodoService)
	handler := handlers.NewTodoHandler(mockService, logging.Discard())
	userID := uuid.Must(uuid.NewV4())

	router := gin.New()
	// stands in for the auth middleware
	router.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	})
	handler.RegisterRoutes(router.Group("/api"))

	return mockService, router, userID
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return serve(router, req)
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestListTodos_PassesFilter(t *testing.T) {
	mockService, router, userID := setupTodoHandler()

	filter := services.TodoFilter{Status: "Done", Category: "Home", Search: "milk", Trash: true, SortBy: "order", SortOrder: "asc"}
	todos := []models.Todo{{ID: uuid.Must(uuid.NewV4()), OwnerID: userID, Title: "Buy milk"}}
	mockService.On("List", mock.Anything, userID, filter).Return(todos, nil)

	w := doJSON(router, "GET", "/api/todos?status=Done&category=Home&search=milk&trash=true&sortBy=order&sortOrder=asc", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var got []models.Todo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 1)
	mockService.AssertExpectations(t)
}

func TestListTodos_BadSortIsValidationError(t *testing.T) {
	mockService, router, userID := setupTodoHandler()
	mockService.On("List", mock.Anything, userID, mock.Anything).
		Return(nil, services.NewValidationError("sortBy", "unsupported sort field"))

	w := doJSON(router, "GET", "/api/todos?sortBy=priority", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := errorBody(t, w)
	assert.Equal(t, "validation_failed", body["error"])
	assert.Contains(t, body["message"], "sortBy")
}

func TestListTodos_InvalidTrashFlag(t *testing.T) {
	mockService, router, _ := setupTodoHandler()

	w := doJSON(router, "GET", "/api/todos?trash=maybe", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := errorBody(t, w)
	assert.Equal(t, "validation_failed", body["error"])
	assert.Contains(t, body["message"], "trash")
	mockService.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetTodo_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"missing record", fmt.Errorf("todo: %w", services.ErrNotFound), http.StatusNotFound, "todo not found"},
		{"foreign owner", fmt.Errorf("todo: %w", services.ErrUnauthorized), http.StatusNotFound, "todo not found"},
		{"trashed", fmt.Errorf("todo: %w", services.ErrConflict), http.StatusConflict, "conflict"},
		{"storage", fmt.Errorf("%w: disk full", services.ErrStorage), http.StatusBadGateway, "attachment storage failed"},
		{"internal", fmt.Errorf("%w: boom", services.ErrInternal), http.StatusInternalServerError, "failed to process todo request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService, router, userID := setupTodoHandler()
			id := uuid.Must(uuid.NewV4())
			mockService.On("Get", mock.Anything, userID, id).Return(nil, tt.err)

			w := doJSON(router, "GET", "/api/todos/"+id.String(), nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.body, errorBody(t, w)["error"])
		})
	}
}

func TestGetTodo_MalformedIDIsNotFound(t *testing.T) {
	mockService, router, _ := setupTodoHandler()

	w := doJSON(router, "GET", "/api/todos/not-a-uuid", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockService.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateTodo_JSON(t *testing.T) {
	mockService, router, userID := setupTodoHandler()

	created := &models.Todo{ID: uuid.Must(uuid.NewV4()), OwnerID: userID, Title: "Write report", Order: 3}
	mockService.On("Create", mock.Anything, userID, mock.MatchedBy(func(in services.TodoInput) bool {
		return in.Title == "Write report" && len(in.Tags) == 2 && in.Files == nil
	})).Return(created, nil)

	w := doJSON(router, "POST", "/api/todos", map[string]interface{}{
		"title": "Write report",
		"tags":  []string{"work", "q3"},
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	var got models.Todo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 3, got.Order)
	mockService.AssertExpectations(t)
}

func TestCreateTodo_BlankTitle(t *testing.T) {
	mockService, router, userID := setupTodoHandler()
	mockService.On("Create", mock.Anything, userID, mock.Anything).
		Return(nil, services.NewValidationError("title", "title is required"))

	w := doJSON(router, "POST", "/api/todos", map[string]string{"title": "   "})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", errorBody(t, w)["error"])
}

func TestCreateTodo_InvalidJSON(t *testing.T) {
	mockService, router, _ := setupTodoHandler()

	w := doJSON(router, "POST", "/api/todos", "invalid json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateTodo_Multipart(t *testing.T) {
	mockService, router, userID := setupTodoHandler()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.WriteField("title", "Scan receipts")
	writer.WriteField("tags", "finance, home")
	writer.WriteField("due_date", "2026-11-01")
	writer.WriteField("sub_tasks", `[{"title":"find them","is_completed":false}]`)
	part, _ := writer.CreateFormFile("attachments", "receipt.png")
	part.Write([]byte("png bytes"))
	writer.Close()

	created := &models.Todo{ID: uuid.Must(uuid.NewV4()), OwnerID: userID, Title: "Scan receipts"}
	mockService.On("Create", mock.Anything, userID, mock.MatchedBy(func(in services.TodoInput) bool {
		return in.Title == "Scan receipts" &&
			assert.ObjectsAreEqual([]string{"finance", "home"}, in.Tags) &&
			in.DueDate != nil && in.DueDate.Day() == 1 &&
			len(in.SubTasks) == 1 &&
			len(in.Files) == 1 && in.Files[0].Filename == "receipt.png"
	})).Return(created, nil)

	req, _ := http.NewRequest("POST", "/api/todos", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	mockService.AssertExpectations(t)
}

func TestCreateTodo_MultipartBadDate(t *testing.T) {
	mockService, router, _ := setupTodoHandler()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.WriteField("title", "Sometime")
	writer.WriteField("due_date", "next tuesday")
	writer.Close()

	req, _ := http.NewRequest("POST", "/api/todos", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorBody(t, w)["message"], "due_date")
	mockService.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateTodo_NullClearsDueDate(t *testing.T) {
	mockService, router, userID := setupTodoHandler()
	id := uuid.Must(uuid.NewV4())

	updated := &models.Todo{ID: id, OwnerID: userID, Title: "Renamed"}
	mockService.On("Update", mock.Anything, userID, id, mock.MatchedBy(func(p services.TodoPatch) bool {
		return p.Title != nil && *p.Title == "Renamed" &&
			p.DueDate.Set && p.DueDate.Value == nil &&
			!p.Reminder.Set && p.Status == nil
	})).Return(updated, nil)

	w := doJSON(router, "PUT", "/api/todos/"+id.String(), `{"title":"Renamed","due_date":null}`)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestUpdateTodo_TrashedIsConflict(t *testing.T) {
	mockService, router, userID := setupTodoHandler()
	id := uuid.Must(uuid.NewV4())
	mockService.On("Update", mock.Anything, userID, id, mock.Anything).
		Return(nil, fmt.Errorf("todo %s is in the trash: %w", id, services.ErrConflict))

	w := doJSON(router, "PUT", "/api/todos/"+id.String(), `{"title":"nope"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteRestorePermanent(t *testing.T) {
	mockService, router, userID := setupTodoHandler()
	id := uuid.Must(uuid.NewV4())

	mockService.On("SoftDelete", mock.Anything, userID, id).Return(nil)
	mockService.On("Restore", mock.Anything, userID, id).Return(&models.Todo{ID: id, OwnerID: userID}, nil)
	mockService.On("PermanentlyDelete", mock.Anything, userID, id).Return(nil).Once()
	mockService.On("PermanentlyDelete", mock.Anything, userID, id).Return(fmt.Errorf("todo: %w", services.ErrNotFound)).Once()

	w := doJSON(router, "DELETE", "/api/todos/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Todo moved to trash", errorBody(t, w)["message"])

	w = doJSON(router, "PUT", "/api/todos/"+id.String()+"/restore", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "DELETE", "/api/todos/"+id.String()+"/permanent", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Todo permanently deleted", errorBody(t, w)["message"])

	w = doJSON(router, "DELETE", "/api/todos/"+id.String()+"/permanent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	mockService.AssertExpectations(t)
}

func TestReorderTodos(t *testing.T) {
	mockService, router, userID := setupTodoHandler()
	x := uuid.Must(uuid.NewV4())
	pairs := []services.OrderPair{{ID: x.String(), Order: 1}, {ID: "bogus", Order: 0}}

	mockService.On("Reorder", mock.Anything, userID, pairs).Return(services.ReorderResult{
		Applied: []services.AppliedOrder{{ID: x, Order: 1}},
		Skipped: []string{"bogus"},
	}, nil)

	w := doJSON(router, "PUT", "/api/todos/reorder", map[string]interface{}{"new_order": pairs})

	require.Equal(t, http.StatusOK, w.Code)
	var body handlers.ReorderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Reordered successfully", body.Message)
	assert.Equal(t, []string{x.String()}, body.Applied)
	assert.Equal(t, []string{"bogus"}, body.Skipped)
}

func TestReorderTodos_EmptyBatch(t *testing.T) {
	mockService, router, userID := setupTodoHandler()
	mockService.On("Reorder", mock.Anything, userID, []services.OrderPair{}).Return(services.ReorderResult{}, nil)

	w := doJSON(router, "PUT", "/api/todos/reorder", `{"new_order":[]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Reordered successfully","applied":[],"skipped":[]}`, w.Body.String())
}

func TestReorderTodos_MissingOrder(t *testing.T) {
	mockService, router, _ := setupTodoHandler()

	w := doJSON(router, "PUT", "/api/todos/reorder", `{"order":[]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "Reorder", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddAttachments(t *testing.T) {
	mockService, router, userID := setupTodoHandler()
	id := uuid.Must(uuid.NewV4())

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range []string{"a.jpg", "b.pdf"} {
		part, _ := writer.CreateFormFile("attachments", name)
		part.Write([]byte(name))
	}
	writer.Close()

	mockService.On("AddAttachments", mock.Anything, userID, id, mock.MatchedBy(func(files []*multipart.FileHeader) bool {
		return len(files) == 2
	})).Return(&models.Todo{ID: id, OwnerID: userID}, nil)

	req, _ := http.NewRequest("POST", "/api/todos/"+id.String()+"/attachments", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestTodoRoutes_RequireCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockService := new(MockTodoService)
	router := gin.New()
	handlers.NewTodoHandler(mockService, logging.Discard()).RegisterRoutes(router)

	w := doJSON(router, "GET", "/todos", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	mockService.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}
