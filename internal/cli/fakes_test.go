package cli

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/server/generation"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeConvs struct {
	convs map[string]*models.Conversation
	msgs  map[string][]models.Message
	n     int
}

func newFakeConvs() *fakeConvs {
	return &fakeConvs{convs: map[string]*models.Conversation{}, msgs: map[string][]models.Message{}}
}

func (f *fakeConvs) Create(_ context.Context, userID, title string, _ []models.Message) (*models.Conversation, error) {
	f.n++
	c := &models.Conversation{ID: fmt.Sprintf("c-%d", f.n), UserID: userID, Title: title, CreatedAt: t0, UpdatedAt: t0.Add(time.Duration(f.n) * time.Minute)}
	f.convs[c.ID] = c
	return c, nil
}

func (f *fakeConvs) view(c *models.Conversation) *conversations.View {
	v := &conversations.View{Conversation: c, Messages: append([]models.Message{}, f.msgs[c.ID]...), Model: "gpt-4o"}
	for i := len(v.Messages) - 1; i >= 0; i-- {
		if v.Messages[i].Sender == models.SenderAI {
			if v.Messages[i].Model != "" {
				v.Model = v.Messages[i].Model
			}
			break
		}
	}
	return v
}

func (f *fakeConvs) Get(_ context.Context, id string) (*conversations.View, error) {
	c, ok := f.convs[id]
	if !ok {
		return nil, common.ErrConversationNotFound
	}
	return f.view(c), nil
}

func (f *fakeConvs) List(_ context.Context, userID string) ([]*conversations.View, error) {
	var out []*conversations.View
	for _, c := range f.convs {
		if c.UserID == userID {
			out = append(out, f.view(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeConvs) Append(_ context.Context, req conversations.AppendRequest) (*conversations.AppendResult, error) {
	if !req.Sender.Valid() {
		return nil, common.ErrInvalidSender
	}
	if _, ok := f.convs[req.ConversationID]; !ok {
		return nil, common.ErrConversationNotFound
	}
	m := models.Message{
		ID:        models.MessageID(req.ConversationID, len(f.msgs[req.ConversationID])+1),
		Content:   req.Content,
		Sender:    req.Sender,
		Timestamp: t0,
	}
	if req.Sender == models.SenderAI {
		m.Model = req.Model
	}
	f.msgs[req.ConversationID] = append(f.msgs[req.ConversationID], m)
	return &conversations.AppendResult{Message: m}, nil
}

func (f *fakeConvs) Rename(_ context.Context, id, title string) error {
	c, ok := f.convs[id]
	if !ok {
		return common.ErrConversationNotFound
	}
	c.Title = title
	return nil
}

func (f *fakeConvs) Delete(_ context.Context, id string) error {
	if _, ok := f.convs[id]; !ok {
		return common.ErrConversationNotFound
	}
	delete(f.convs, id)
	delete(f.msgs, id)
	return nil
}

type fakeUsers struct {
	registered []string
	pinned     map[string][]string
	deleted    []string
}

func (f *fakeUsers) Register(_ context.Context, externalID, name string) (*models.User, error) {
	f.registered = append(f.registered, externalID+"/"+name)
	return &models.User{ID: "u-" + externalID, ExternalID: externalID, Name: name}, nil
}

func (f *fakeUsers) PinModels(_ context.Context, userID string, ids []string) error {
	for _, id := range ids {
		if id == "bogus" {
			return fmt.Errorf("%w: %q", common.ErrInvalidModel, id)
		}
	}
	f.pinned[userID] = ids
	return nil
}

func (f *fakeUsers) Delete(_ context.Context, userID string) error {
	f.deleted = append(f.deleted, userID)
	return nil
}

// fakeGen echoes the last message back in two tokens, or fails when the
// model is "broken".
type fakeGen struct {
	seen [][]models.Message
}

func (g *fakeGen) Generate(_ context.Context, msgs []models.Message, modelID string) iter.Seq[generation.Fragment] {
	g.seen = append(g.seen, msgs)
	return func(yield func(generation.Fragment) bool) {
		if modelID == "broken" {
			if yield(generation.Token("partial")) {
				yield(generation.Errorf("upstream unavailable"))
			}
			return
		}
		last := msgs[len(msgs)-1].Content.PlainText()
		if !yield(generation.Token("echo: ")) {
			return
		}
		yield(generation.Token(last))
	}
}

func (g *fakeGen) AllowedModels() []string { return []string{"gemini-1.5-pro", "gpt-4o", "gpt-4o-mini"} }
func (g *fakeGen) DefaultModel() string    { return "gpt-4o" }

type fakeServices struct {
	convs    *fakeConvs
	users    *fakeUsers
	gen      *fakeGen
	migrated int
	closed   int
}

func newFakeServices() *fakeServices {
	return &fakeServices{convs: newFakeConvs(), users: &fakeUsers{pinned: map[string][]string{}}, gen: &fakeGen{}}
}

func (f *fakeServices) services() *services {
	return &services{
		convs:   f.convs,
		users:   f.users,
		gen:     f.gen,
		migrate: func(context.Context) error { f.migrated++; return nil },
		close:   func() error { f.closed++; return nil },
	}
}
