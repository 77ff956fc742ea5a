package conversations

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"golang.org/x/sync/errgroup"
)

// View is a conversation resolved against its transcript.
type View struct {
	*models.Conversation
	Messages    []models.Message
	LastMessage *models.Message
	// Model is the model of the latest ai message, or the default model when
	// that message names none.
	Model string
	// Error joins the non-fatal problems met while materializing.
	Error string
}

// Materialize resolves convs concurrently. It never fails: an item whose blob
// cannot be read comes back with an empty transcript and Error set, and
// siblings are unaffected. Output order matches input order.
func (s *Service) Materialize(ctx context.Context, convs []*models.Conversation) []*View {
	views := make([]*View, len(convs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, c := range convs {
		g.Go(func() error {
			views[i] = s.MaterializeOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	return views
}

// MaterializeOne reads the transcript of c, refreshes its presigned URL when
// the freshly minted one differs, and derives the preview fields. Elements
// that do not decode as messages are skipped with a warning. c itself is not
// modified.
func (s *Service) MaterializeOne(ctx context.Context, c *models.Conversation) *View {
	conv := *c
	v := &View{Conversation: &conv, Messages: []models.Message{}}
	var warnings []string

	defer func() {
		v.derive(s.defaultModel)
		if len(warnings) > 0 {
			v.Error = strings.Join(warnings, "; ")
			s.log.Warn(ctx, "conversation materialized with warnings",
				"conversation_id", conv.ID, "warnings", v.Error)
		}
	}()

	ref, err := blobstore.ResolveRef(&conv)
	if err != nil {
		warnings = append(warnings, err.Error())
		return v
	}

	t, warn, err := s.readTranscript(ctx, ref)
	if err != nil {
		warnings = append(warnings, err.Error())
	} else {
		if warn != "" {
			warnings = append(warnings, warn)
		}
		msgs, bad := t.messages()
		for _, e := range bad {
			warnings = append(warnings, e.Error())
		}
		v.Messages = msgs
	}

	url, err := s.store.Presign(ctx, ref.Bucket, ref.Key, s.presignTTL)
	if err != nil {
		warnings = append(warnings, err.Error())
		return v
	}
	if url != conv.FileURL {
		now := s.now().UTC()
		if err := s.repomanager.Conversations(s.db).UpdateFileURL(ctx, conv.ID, url, now); err != nil {
			warnings = append(warnings, "file url refresh not persisted: "+err.Error())
		} else {
			conv.UpdatedAt = now
		}
		conv.FileURL = url
	}

	return v
}

func (v *View) derive(defaultModel string) {
	v.Model = defaultModel
	if n := len(v.Messages); n > 0 {
		last := v.Messages[n-1]
		v.LastMessage = &last
	}
	for i := len(v.Messages) - 1; i >= 0; i-- {
		m := v.Messages[i]
		if m.Sender != models.SenderAI {
			continue
		}
		if m.Model != "" {
			v.Model = m.Model
		}
		return
	}
}
