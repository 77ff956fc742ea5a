// Package conversations provides the PostgreSQL-backed metadata index for
// conversations. It is authoritative for existence and update ordering;
// transcripts live in object storage.
package conversations

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Conversation) (*models.Conversation, error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Conversation, error)
	UpdateFileURL(ctx context.Context, id string, fileURL string, updatedAt time.Time) error
	Touch(ctx context.Context, id string, updatedAt time.Time) error
	UpdateTitle(ctx context.Context, id string, title string) error
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
