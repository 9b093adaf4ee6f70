package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"todo-tracker/internal/config"
	"todo-tracker/internal/models"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
)

type BlobStore interface {
	Store(ctx context.Context, file *multipart.FileHeader) (models.Attachment, error)
	Remove(ctx context.Context, publicID string) error
}

// LocalBlobStore keeps uploads on disk under Dir and serves them under BaseURL.
type LocalBlobStore struct {
	dir         string
	baseURL     string
	maxFileSize int64
	allowed     map[string]struct{}
}

func NewLocalBlobStore(cfg config.BlobConfig) (*LocalBlobStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create upload dir: %w", ErrStorage, err)
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &LocalBlobStore{
		dir:         cfg.Dir,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxFileSize: cfg.MaxFileSize,
		allowed:     allowed,
	}, nil
}

func (s *LocalBlobStore) Store(ctx context.Context, file *multipart.FileHeader) (models.Attachment, error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if _, ok := s.allowed[ext]; !ok {
		return models.Attachment{}, NewValidationError("attachments", fmt.Sprintf("file type %q is not allowed", ext))
	}
	if s.maxFileSize > 0 && file.Size > s.maxFileSize {
		return models.Attachment{}, NewValidationError("attachments", fmt.Sprintf("%s exceeds the %d byte limit", file.Filename, s.maxFileSize))
	}

	src, err := file.Open()
	if err != nil {
		return models.Attachment{}, fmt.Errorf("%w: failed to open upload: %w", ErrStorage, err)
	}
	defer src.Close()

	publicID := uuid.Must(uuid.NewV4()).String()
	dst, err := os.Create(filepath.Join(s.dir, publicID+ext))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("%w: failed to create blob: %w", ErrStorage, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return models.Attachment{}, fmt.Errorf("%w: failed to write blob: %w", ErrStorage, err)
	}

	return models.Attachment{
		URL:      s.baseURL + "/" + publicID + ext,
		PublicID: publicID + ext,
		FileName: file.Filename,
	}, nil
}

func (s *LocalBlobStore) Remove(ctx context.Context, publicID string) error {
	if publicID == "" || publicID != filepath.Base(publicID) {
		return NewValidationError("public_id", "invalid blob id")
	}
	err := os.Remove(filepath.Join(s.dir, publicID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove blob: %w", ErrStorage, err)
	}
	return nil
}

// AttachmentCleaner removes the blobs of a permanently deleted todo.
type AttachmentCleaner interface {
	CleanupAttachments(ctx context.Context, ownerID uuid.UUID, attachments []models.Attachment) error
}

// InlineCleaner removes blobs synchronously. Used when no job queue is configured.
type InlineCleaner struct {
	Blobs  BlobStore
	Logger *log.Logger
}

func (c *InlineCleaner) CleanupAttachments(ctx context.Context, ownerID uuid.UUID, attachments []models.Attachment) error {
	var errs []error
	for _, attachment := range attachments {
		if err := c.Blobs.Remove(ctx, attachment.PublicID); err != nil {
			if c.Logger != nil {
				c.Logger.Warn("attachment cleanup failed", "owner_id", ownerID, "public_id", attachment.PublicID, "err", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
