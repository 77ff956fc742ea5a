package conversations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/events"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

type AppendRequest struct {
	ConversationID string
	Content        models.Content
	Sender         models.Sender
	// Timestamp defaults to now.
	Timestamp time.Time
	// Model is recorded for ai messages only.
	Model string
}

type AppendResult struct {
	Message models.Message
	FileURL string
	// Warning is set when the stored transcript was missing or not a JSON
	// array and was replaced by one holding only the new message.
	Warning string
}

// Append adds one message to the end of a transcript by rewriting the whole
// blob. Stored elements are written back byte for byte, including ones this
// service cannot decode, and count toward the new message's position. The
// read-modify-write runs under the conversation's lock; with
// locks.Nop two concurrent appends can both read the same transcript and the
// later write drops the earlier message.
//
// Errors match common.ErrConversationNotFound, common.ErrInvalidSender or
// common.ErrStorage.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*AppendResult, error) {
	if !req.Sender.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidSender, req.Sender)
	}

	unlock, err := s.locker.Lock(ctx, req.ConversationID)
	if err != nil {
		return nil, storageErr("lock conversation", err)
	}
	defer unlock()

	repo := s.repomanager.Conversations(s.db)
	conv, err := repo.GetByID(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, common.ErrConversationNotFound) {
			return nil, err
		}
		return nil, storageErr("get conversation", err)
	}

	ref, err := blobstore.ResolveRef(conv)
	if err != nil {
		return nil, storageErr("locate transcript", err)
	}

	t, warn, err := s.readTranscript(ctx, ref)
	if err != nil {
		return nil, storageErr("read transcript", err)
	}
	if warn != "" {
		s.log.Warn(ctx, "appending to unreadable transcript", "conversation_id", conv.ID, "warning", warn)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	msg := models.Message{
		ID:        models.MessageID(conv.ID, len(t)+1),
		Content:   req.Content,
		Sender:    req.Sender,
		Timestamp: ts,
	}
	if req.Sender == models.SenderAI {
		msg.Model = req.Model
	}

	t, err = t.with(msg)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, ref.Bucket, ref.Key, t.encode(), common.JSONContentType); err != nil {
		return nil, storageErr("write transcript", err)
	}

	if err := repo.Touch(ctx, conv.ID, ts); err != nil {
		return nil, storageErr("touch conversation", err)
	}

	s.log.Debug(ctx, "message appended", "conversation_id", conv.ID, "message_id", msg.ID)
	s.publish(ctx, events.Event{
		Type:           events.MessageAppended,
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		MessageID:      msg.ID,
		At:             ts,
	})

	return &AppendResult{Message: msg, FileURL: conv.FileURL, Warning: warn}, nil
}
