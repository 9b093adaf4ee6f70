package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"todo-tracker/internal/models"
	"todo-tracker/internal/services"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	accounts services.AccountDirectory
	logger   *log.Logger
}

func NewAuthHandler(accounts services.AccountDirectory, logger *log.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, logger: logger}
}

type LoginRequest struct {
	// Username accepts either the username or the email address.
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type UserProfileResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

type LoginResponse struct {
	services.TokenPair
	User UserProfileResponse `json:"user"`
}

func profile(user *models.User) UserProfileResponse {
	return UserProfileResponse{
		ID:          user.ID.String(),
		Username:    user.Username,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		IsActive:    user.IsActive,
		LastLoginAt: user.LastLoginAt,
	}
}

// RegisterPublicRoutes mounts the routes that need no access token.
func (h *AuthHandler) RegisterPublicRoutes(r gin.IRoutes) {
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if err := validateRegistrationRequest(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "registration_failed",
				"message": strings.TrimSuffix(err.Error(), ": "+services.ErrConflict.Error()),
			})
		default:
			h.logger.Error("registration failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "registration_failed",
				"message": "An unexpected error occurred. Please try again later.",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Your account has been created successfully.",
		"user":    profile(user),
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request format",
		})
		return
	}

	user, err := h.accounts.Login(c.Request.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": "Invalid username or password",
			})
			return
		}
		h.logger.Error("login failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	tokens, err := h.accounts.IssueTokens(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("token generation failed", "user_id", user.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "token_generation_failed",
			"message": "Failed to generate authentication tokens",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{TokenPair: tokens, User: profile(user)})
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "refresh_token is required"})
		return
	}

	tokens, err := h.accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
			return
		}
		h.logger.Error("token refresh failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_refresh_failed"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// Logout succeeds for unknown or already revoked tokens.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request format",
		})
		return
	}

	err := h.accounts.Revoke(c.Request.Context(), req.RefreshToken)
	if err != nil && !errors.Is(err, services.ErrNotFound) && !errors.Is(err, services.ErrUnauthorized) {
		h.logger.Error("logout failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	user, err := h.accounts.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("user lookup failed", "user_id", userID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	c.JSON(http.StatusOK, profile(user))
}

func validateRegistrationRequest(req *services.RegistrationRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 {
		return errors.New("username must be at least 3 characters long")
	}

	for _, char := range req.Username {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '_') {
			return errors.New("username can only contain letters, numbers, and underscores")
		}
	}

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	return validatePassword(req.Password)
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters long")
	}

	var hasLetter, hasDigit bool
	for _, char := range password {
		switch {
		case (char >= 'A' && char <= 'Z') || (char >= 'a' && char <= 'z'):
			hasLetter = true
		case char >= '0' && char <= '9':
			hasDigit = true
		}
	}

	var missing []string
	if !hasLetter {
		missing = append(missing, "letter")
	}
	if !hasDigit {
		missing = append(missing, "number")
	}
	if len(missing) > 0 {
		return errors.New("password must contain at least one " + strings.Join(missing, " and one "))
	}
	return nil
}
