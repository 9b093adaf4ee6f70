package worker

import (
	"context"
	"errors"
	"fmt"

	"todo-tracker/internal/models"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
)

// BlobRemover deletes one stored blob. Removing a missing blob is not an error.
type BlobRemover interface {
	Remove(ctx context.Context, publicID string) error
}

type AttachmentCleanupPayload struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	PublicIDs []string  `json:"public_ids"`
}

// CleanupAttachments queues removal of a deleted todo's blobs.
func (q *JobQueue) CleanupAttachments(ctx context.Context, ownerID uuid.UUID, attachments []models.Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	payload := AttachmentCleanupPayload{OwnerID: ownerID, PublicIDs: make([]string, 0, len(attachments))}
	for _, attachment := range attachments {
		payload.PublicIDs = append(payload.PublicIDs, attachment.PublicID)
	}
	_, err := q.Enqueue(ctx, DefaultQueue, JobTypeAttachmentCleanup, payload)
	return err
}

// AttachmentCleanupHandler removes every blob named in the job. A retry
// repeats the whole list.
func AttachmentCleanupHandler(blobs BlobRemover, logger *log.Logger) JobHandler {
	return func(ctx context.Context, job *Job) error {
		var payload AttachmentCleanupPayload
		if err := job.Decode(&payload); err != nil {
			return fmt.Errorf("invalid cleanup payload: %w", err)
		}

		var errs []error
		for _, publicID := range payload.PublicIDs {
			if err := blobs.Remove(ctx, publicID); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", publicID, err))
			}
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
		logger.Debug("attachments removed", "owner_id", payload.OwnerID, "count", len(payload.PublicIDs))
		return nil
	}
}
