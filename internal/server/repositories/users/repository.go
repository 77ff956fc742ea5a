// Package users provides the PostgreSQL-backed repository for user records.
package users

import (
	"context"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	UpdatePinnedModels(ctx context.Context, id string, modelIDs []string) error
	Delete(ctx context.Context, id string) error
}
