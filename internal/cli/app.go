// Package cli implements the chatkeeper command tree.
package cli

import (
	"context"
	"io"
	"iter"

	"github.com/dmitrijs2005/chatkeeper/internal/server"
	"github.com/dmitrijs2005/chatkeeper/internal/server/config"
	"github.com/dmitrijs2005/chatkeeper/internal/server/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/server/generation"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

type conversationService interface {
	Create(ctx context.Context, userID, title string, seed []models.Message) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*conversations.View, error)
	List(ctx context.Context, userID string) ([]*conversations.View, error)
	Append(ctx context.Context, req conversations.AppendRequest) (*conversations.AppendResult, error)
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
}

type userService interface {
	Register(ctx context.Context, externalID, name string) (*models.User, error)
	PinModels(ctx context.Context, userID string, modelIDs []string) error
	Delete(ctx context.Context, userID string) error
}

type generator interface {
	Generate(ctx context.Context, msgs []models.Message, modelID string) iter.Seq[generation.Fragment]
	AllowedModels() []string
	DefaultModel() string
}

// services is what commands run against.
type services struct {
	convs   conversationService
	users   userService
	gen     generator
	migrate func(ctx context.Context) error
	close   func() error
}

// newServices is a test seam.
var newServices = func(ctx context.Context, cfg *config.Config, logOut io.Writer) (*services, error) {
	app, err := server.NewApp(ctx, cfg, logOut)
	if err != nil {
		return nil, err
	}
	if err := app.WatchEvents(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return &services{
		convs:   app.Conversations,
		users:   app.Users,
		gen:     app.Registry,
		migrate: app.Migrate,
		close:   app.Close,
	}, nil
}
