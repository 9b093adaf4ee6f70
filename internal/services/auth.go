package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"todo-tracker/internal/config"
	"todo-tracker/internal/models"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type RegistrationRequest struct {
	Username  string `json:"username" binding:"required,min=3,max=50"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"max=50"`
	LastName  string `json:"last_name" binding:"max=50"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AccountDirectory owns users and their credentials. Todo code only needs
// ResolveCaller; the rest backs the auth routes.
type AccountDirectory interface {
	Register(ctx context.Context, req RegistrationRequest) (*models.User, error)
	Login(ctx context.Context, username, password string) (*models.User, error)
	IssueTokens(ctx context.Context, userID uuid.UUID) (TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
	ResolveCaller(ctx context.Context, accessToken string) (uuid.UUID, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

type AccountDirectoryImpl struct {
	db  *gorm.DB
	cfg config.AuthConfig
	now func() time.Time
}

func NewAccountDirectory(db *gorm.DB, cfg config.AuthConfig) *AccountDirectoryImpl {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = time.Hour
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if cfg.BCryptCost == 0 {
		cfg.BCryptCost = bcrypt.DefaultCost
	}
	return &AccountDirectoryImpl{db: db, cfg: cfg, now: time.Now}
}

func VerifyPassword(hashedPassword, plainPassword string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(plainPassword))
	return err == nil
}

func (s *AccountDirectoryImpl) Register(ctx context.Context, req RegistrationRequest) (*models.User, error) {
	db := s.db.WithContext(ctx)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if count > 0 {
		return nil, fmt.Errorf("email already exists: %w", ErrConflict)
	}
	if err := db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if count > 0 {
		return nil, fmt.Errorf("username already exists: %w", ErrConflict)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	now := s.now()
	user := models.User{
		ID:        uuid.Must(uuid.NewV4()),
		Username:  username,
		Email:     email,
		Password:  string(hashedPassword),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to create user: %w", ErrInternal, err)
	}
	return &user, nil
}

func (s *AccountDirectoryImpl) Login(ctx context.Context, username, password string) (*models.User, error) {
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Where("username = ? OR email = ?", username, strings.ToLower(username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if !user.IsActive || !VerifyPassword(user.Password, password) {
		return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	}

	now := s.now()
	user.LastLoginAt = &now
	db.Model(&user).UpdateColumn("last_login_at", now)
	return &user, nil
}

func (s *AccountDirectoryImpl) IssueTokens(ctx context.Context, userID uuid.UUID) (TokenPair, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"iss":     s.cfg.Issuer,
		"iat":     now.Unix(),
		"exp":     now.Add(s.cfg.AccessTokenTTL).Unix(),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: failed to sign token: %w", ErrInternal, err)
	}

	refreshTokenUUID, err := uuid.NewV4()
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	token := models.Token{
		ID:           uuid.Must(uuid.NewV4()),
		UserId:       userID,
		RefreshToken: refreshTokenUUID,
		ExpiresAt:    now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.db.WithContext(ctx).Create(&token).Error; err != nil {
		return TokenPair{}, fmt.Errorf("%w: failed to store refresh token: %w", ErrInternal, err)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenUUID.String(),
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// Refresh rotates a refresh token: the presented one is consumed and a new pair issued.
func (s *AccountDirectoryImpl) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	parsed, err := uuid.FromString(refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("malformed refresh token: %w", ErrUnauthorized)
	}

	var token models.Token
	err = s.db.WithContext(ctx).
		Where("refresh_token = ? AND expires_at > ?", parsed, s.now()).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TokenPair{}, fmt.Errorf("refresh token expired or revoked: %w", ErrUnauthorized)
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	result := s.db.WithContext(ctx).Delete(&token)
	if result.Error != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrInternal, result.Error)
	}
	if result.RowsAffected == 0 {
		// consumed concurrently by another refresh
		return TokenPair{}, fmt.Errorf("refresh token already used: %w", ErrUnauthorized)
	}

	return s.IssueTokens(ctx, token.UserId)
}

func (s *AccountDirectoryImpl) Revoke(ctx context.Context, refreshToken string) error {
	parsed, err := uuid.FromString(refreshToken)
	if err != nil {
		return fmt.Errorf("malformed refresh token: %w", ErrUnauthorized)
	}
	result := s.db.WithContext(ctx).Where("refresh_token = ?", parsed).Delete(&models.Token{})
	if result.Error != nil {
		return fmt.Errorf("%w: %w", ErrInternal, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("refresh token: %w", ErrNotFound)
	}
	return nil
}

// ResolveCaller validates an access token and returns the owner it was issued to.
func (s *AccountDirectoryImpl) ResolveCaller(ctx context.Context, accessToken string) (uuid.UUID, error) {
	accessToken = strings.TrimSpace(strings.TrimPrefix(accessToken, "Bearer "))
	if accessToken == "" {
		return uuid.Nil, fmt.Errorf("missing access token: %w", ErrUnauthorized)
	}

	token, err := jwt.Parse(accessToken, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid access token: %w", ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token claims: %w", ErrUnauthorized)
	}
	raw, _ := claims["user_id"].(string)
	userID, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id claim: %w", ErrUnauthorized)
	}
	return userID, nil
}

func (s *AccountDirectoryImpl) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return &user, nil
}
