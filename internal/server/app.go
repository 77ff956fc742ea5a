// Package server wires chatkeeper's services from a Config: the Postgres
// metadata index, the transcript blob store, the append locker, the event
// bus and the model registry.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/config"
	"github.com/dmitrijs2005/chatkeeper/internal/server/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/server/events"
	"github.com/dmitrijs2005/chatkeeper/internal/server/generation"
	"github.com/dmitrijs2005/chatkeeper/internal/server/locks"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chatkeeper/internal/server/users"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	openDB     = repomanager.OpenDB
	newS3Store = blobstore.NewS3Store
)

type App struct {
	Config        *config.Config
	Log           logging.Logger
	DB            *sql.DB
	Repos         repomanager.RepositoryManager
	Store         blobstore.Store
	Registry      *generation.Registry
	Conversations *conversations.Service
	Users         *users.Service

	bus    *gochannel.GoChannel
	closer []func() error
}

// NewApp builds every service. Logs go to w.
func NewApp(ctx context.Context, cfg *config.Config, w io.Writer) (*App, error) {
	log, wmLog, err := newLogger(cfg, w)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Log: log}

	db, err := openDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.DB = db
	app.closer = append(app.closer, db.Close)
	app.Repos = repomanager.NewPostgresRepositoryManager()

	store, err := newStore(ctx, cfg)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}
	app.Store = store

	locker, closeLocker := newLocker(cfg, log)
	if closeLocker != nil {
		app.closer = append(app.closer, closeLocker)
	}

	app.bus = events.NewGoChannel(wmLog)
	app.closer = append(app.closer, app.bus.Close)

	app.Registry = generation.NewRegistry(cfg.DefaultModel, log,
		generation.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, nil),
		generation.NewGeminiBackend(cfg.GeminiAPIKey, nil),
		generation.NewYandexBackend(cfg.YandexOAuthToken, cfg.YandexFolderID, nil),
	)

	app.Conversations = conversations.NewService(conversations.Deps{
		DB:     db,
		Repos:  app.Repos,
		Store:  store,
		Locker: locker,
		Events: events.NewWatermillPublisher(app.bus),
		Log:    log.With("component", "conversations"),
	}, cfg)
	app.Users = users.NewService(db, app.Repos, app.Registry, app.Conversations, log.With("component", "users"))

	return app, nil
}

// Migrate applies pending schema migrations.
func (app *App) Migrate(ctx context.Context) error {
	return app.Repos.RunMigrations(ctx, app.DB)
}

// WatchEvents logs every conversation event until ctx is done.
func (app *App) WatchEvents(ctx context.Context) error {
	msgs, err := app.bus.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}
	go func() {
		for msg := range msgs {
			e, err := events.Decode(msg)
			if err != nil {
				app.Log.Warn(ctx, "undecodable event", "error", err)
				msg.Nack()
				continue
			}
			app.Log.Debug(ctx, "event", "type", e.Type, "conversation_id", e.ConversationID, "message_id", e.MessageID)
			msg.Ack()
		}
	}()
	return nil
}

// Close releases resources in reverse order of acquisition.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closer) - 1; i >= 0; i-- {
		if err := app.closer[i](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closer = nil
	return errors.Join(errs...)
}

func newStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.BlobBackend == config.BlobBackendMemory {
		return blobstore.NewMemoryStore(nil), nil
	}
	s, err := newS3Store(ctx, blobstore.S3Options{
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3RootUser,
		SecretKey:    cfg.S3RootPassword,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newLocker(cfg *config.Config, log logging.Logger) (locks.Locker, func() error) {
	switch cfg.LockBackend {
	case config.LockBackendNone:
		return locks.Nop{}, nil
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return locks.NewRedis(client, 0, log.With("component", "locks")), client.Close
	default:
		return locks.NewLocal(), nil
	}
}

// newLogger returns the application logger and a matching adapter for the
// event bus.
func newLogger(cfg *config.Config, w io.Writer) (logging.Logger, watermill.LoggerAdapter, error) {
	switch cfg.LogFormat {
	case config.LogFormatConsole, config.LogFormatZerolog:
		level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		if cfg.LogFormat == config.LogFormatConsole {
			return logging.NewZerologConsole(w, level), watermill.NopLogger{}, nil
		}
		return logging.NewZerologLogger(zerolog.New(w).Level(level).With().Timestamp().Logger()), watermill.NopLogger{}, nil
	default:
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		var l *logging.SlogLogger
		if cfg.LogFormat == config.LogFormatJSON {
			l = logging.NewSlogJSON(w, level)
		} else {
			l = logging.NewSlogText(w, level)
		}
		return l, watermill.NewSlogLogger(l.Slog()), nil
	}
}
