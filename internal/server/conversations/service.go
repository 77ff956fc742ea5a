// Package conversations implements the conversation store: a metadata row in
// Postgres plus a JSON transcript blob in object storage. There is no
// transaction spanning the two; operations are ordered so that a metadata row
// never points at a blob that was not written.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/config"
	"github.com/dmitrijs2005/chatkeeper/internal/server/events"
	"github.com/dmitrijs2005/chatkeeper/internal/server/locks"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Deps are the collaborators of a Service. Locker, Events and Log default to
// a local lock, no events and no logging.
type Deps struct {
	DB     *sql.DB
	Repos  repomanager.RepositoryManager
	Store  blobstore.Store
	Locker locks.Locker
	Events events.Publisher
	Log    logging.Logger
}

type Service struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	store        blobstore.Store
	locker       locks.Locker
	events       events.Publisher
	log          logging.Logger
	bucket       string
	presignTTL   time.Duration
	defaultModel string
	concurrency  int

	now   func() time.Time
	newID func() string
}

func NewService(d Deps, cfg *config.Config) *Service {
	s := &Service{
		db:           d.DB,
		repomanager:  d.Repos,
		store:        d.Store,
		locker:       d.Locker,
		events:       d.Events,
		log:          d.Log,
		bucket:       cfg.S3Bucket,
		presignTTL:   cfg.PresignTTL,
		defaultModel: cfg.DefaultModel,
		concurrency:  cfg.MaterializeConcurrency,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	if s.locker == nil {
		s.locker = locks.NewLocal()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	if s.presignTTL <= 0 {
		s.presignTTL = common.PresignTTL
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// Create writes the seed transcript, presigns it and only then inserts the
// metadata row. seed may be empty; its messages get positional ids.
func (s *Service) Create(ctx context.Context, userID, title string, seed []models.Message) (*models.Conversation, error) {
	if _, err := s.repomanager.Users(s.db).GetByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	id := s.newID()
	now := s.now().UTC()

	msgs := make([]models.Message, 0, len(seed))
	for i, m := range seed {
		if !m.Sender.Valid() {
			return nil, fmt.Errorf("%w: %q", common.ErrInvalidSender, m.Sender)
		}
		m.ID = models.MessageID(id, i+1)
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		if m.Sender != models.SenderAI {
			m.Model = ""
		}
		msgs = append(msgs, m)
	}

	body, err := encodeTranscript(msgs)
	if err != nil {
		return nil, err
	}

	ref := models.BlobRef{Bucket: s.bucket, Key: blobstore.ObjectKey(userID, id)}
	if err := s.store.Put(ctx, ref.Bucket, ref.Key, body, common.JSONContentType); err != nil {
		return nil, err
	}

	url, err := s.store.Presign(ctx, ref.Bucket, ref.Key, s.presignTTL)
	if err != nil {
		s.discardBlob(ctx, ref)
		return nil, err
	}

	conv, err := s.repomanager.Conversations(s.db).Create(ctx, &models.Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		FileURL:   url,
		Blob:      ref,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.discardBlob(ctx, ref)
		return nil, fmt.Errorf("error creating conversation: %w", err)
	}

	s.log.Info(ctx, "conversation created", "conversation_id", id, "user_id", userID, "messages", len(msgs))
	s.publish(ctx, events.Event{Type: events.ConversationCreated, ConversationID: id, UserID: userID, At: now})
	return conv, nil
}

// Get materializes a single conversation.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	conv, err := s.repomanager.Conversations(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.MaterializeOne(ctx, conv), nil
}

// List materializes every conversation of a user, most recent first.
func (s *Service) List(ctx context.Context, userID string) ([]*View, error) {
	convs, err := s.repomanager.Conversations(s.db).ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing conversations: %w", err)
	}
	return s.Materialize(ctx, convs), nil
}

func (s *Service) Rename(ctx context.Context, id, title string) error {
	return s.repomanager.Conversations(s.db).UpdateTitle(ctx, id, title)
}

// Delete removes the transcript blob on a best-effort basis, then the
// metadata row. A failed blob delete is logged and does not stop the row
// from going away.
func (s *Service) Delete(ctx context.Context, id string) error {
	repo := s.repomanager.Conversations(s.db)

	conv, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	s.discardBlobOf(ctx, conv)

	if err := repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("error deleting conversation: %w", err)
	}

	s.log.Info(ctx, "conversation deleted", "conversation_id", id)
	s.publish(ctx, events.Event{Type: events.ConversationDeleted, ConversationID: id, UserID: conv.UserID, At: s.now().UTC()})
	return nil
}

// DiscardBlobs deletes the transcripts of convs, logging failures.
func (s *Service) DiscardBlobs(ctx context.Context, convs []*models.Conversation) {
	for _, c := range convs {
		s.discardBlobOf(ctx, c)
	}
}

func (s *Service) discardBlobOf(ctx context.Context, c *models.Conversation) {
	ref, err := blobstore.ResolveRef(c)
	if err != nil {
		s.log.Warn(ctx, "cannot locate transcript blob", "conversation_id", c.ID, "error", err)
		return
	}
	s.discardBlob(ctx, ref)
}

func (s *Service) discardBlob(ctx context.Context, ref models.BlobRef) {
	if err := s.store.Delete(ctx, ref.Bucket, ref.Key); err != nil {
		s.log.Warn(ctx, "transcript blob delete failed", "bucket", ref.Bucket, "key", ref.Key, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn(ctx, "event publish failed", "type", e.Type, "conversation_id", e.ConversationID, "error", err)
	}
}

// storageErr marks err as a storage failure unless it already is one.
func storageErr(op string, err error) error {
	if errors.Is(err, common.ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", common.ErrStorage, op, err)
}
