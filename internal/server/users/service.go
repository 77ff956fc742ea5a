// Package users manages user records: signup, pinned models and account
// removal together with the user's conversations.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
)

// ModelChecker reports whether a model id is on the allow-list.
type ModelChecker interface {
	IsAllowed(modelID string) bool
}

// BlobDiscarder removes transcript blobs on a best-effort basis.
type BlobDiscarder interface {
	DiscardBlobs(ctx context.Context, convs []*models.Conversation)
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	models      ModelChecker
	blobs       BlobDiscarder
	log         logging.Logger
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, checker ModelChecker, blobs BlobDiscarder, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{db: db, repomanager: rm, models: checker, blobs: blobs, log: log}
}

// Register creates the user record at signup.
func (s *Service) Register(ctx context.Context, externalID, name string) (*models.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, errors.New("external id is required")
	}

	user, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		ExternalID:     externalID,
		Name:           name,
		PinnedModelIDs: []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, id)
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByExternalID(ctx, externalID)
}

// PinModels replaces the user's pinned models. Every id must be on the
// allow-list; duplicates are dropped keeping the first occurrence.
func (s *Service) PinModels(ctx context.Context, userID string, modelIDs []string) error {
	seen := make(map[string]struct{}, len(modelIDs))
	pinned := make([]string, 0, len(modelIDs))
	for _, id := range modelIDs {
		if !s.models.IsAllowed(id) {
			return fmt.Errorf("%w: %q", common.ErrInvalidModel, id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		pinned = append(pinned, id)
	}

	return s.repomanager.Users(s.db).UpdatePinnedModels(ctx, userID, pinned)
}

// Delete removes the user and all of their conversations. Blobs are removed
// first and failures there are only logged; the metadata rows go in one
// transaction.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if _, err := s.repomanager.Users(s.db).GetByID(ctx, userID); err != nil {
		return err
	}

	convs, err := s.repomanager.Conversations(s.db).ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	if s.blobs != nil {
		s.blobs.DiscardBlobs(ctx, convs)
	}

	var removed int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := s.repomanager.Conversations(tx).DeleteByUser(ctx, userID)
		if err != nil {
			return err
		}
		removed = n
		return s.repomanager.Users(tx).Delete(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	s.log.Info(ctx, "user deleted", "user_id", userID, "conversations", removed)
	return nil
}
