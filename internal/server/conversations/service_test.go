package conversations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/config"
	"github.com/dmitrijs2005/chatkeeper/internal/server/events"
	"github.com/dmitrijs2005/chatkeeper/internal/server/locks"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc   *Service
	mem   *blobstore.MemoryStore
	store *faultyStore
	repos *fakeRepoMgr
	logs  *bytes.Buffer
}

func newTestEnv(t *testing.T, locker locks.Locker) *testEnv {
	t.Helper()
	mem := blobstore.NewMemoryStore(func() time.Time { return fixedNow })
	return newTestEnvWithStore(t, locker, mem, &faultyStore{MemoryStore: mem})
}

func newTestEnvWithStore(t *testing.T, locker locks.Locker, mem *blobstore.MemoryStore, store blobstore.Store) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.MaterializeConcurrency = 4

	repos := &fakeRepoMgr{
		users: &fakeUsersRepo{users: map[string]*models.User{"u-1": {ID: "u-1"}, "u-2": {ID: "u-2"}}},
		convs: newFakeConvRepo(),
	}
	var logs bytes.Buffer
	svc := NewService(Deps{
		Repos:  repos,
		Store:  store,
		Locker: locker,
		Log:    logging.NewSlogJSON(&logs, slog.LevelDebug),
	}, cfg)

	n := 0
	svc.newID = func() string { n++; return fmt.Sprintf("c-%d", n) }
	svc.now = func() time.Time { return fixedNow }

	fs, _ := store.(*faultyStore)
	return &testEnv{svc: svc, mem: mem, store: fs, repos: repos, logs: &logs}
}

func (e *testEnv) blob(t *testing.T, userID, convID string) []models.Message {
	t.Helper()
	data, err := e.mem.Get(context.Background(), "chats", blobstore.ObjectKey(userID, convID))
	require.NoError(t, err)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(data, &msgs))
	return msgs
}

func TestCreate_WritesBlobBeforeMetadata(t *testing.T) {
	env := newTestEnv(t, nil)

	conv, err := env.svc.Create(context.Background(), "u-1", "Trip", nil)
	require.NoError(t, err)

	assert.Equal(t, "c-1", conv.ID)
	assert.Equal(t, models.BlobRef{Bucket: "chats", Key: "u-1/c-1.json"}, conv.Blob)
	assert.Equal(t, blobstore.MemoryPresignBase+"/chats/u-1/c-1.json?expires=1715083200", conv.FileURL)

	data, err := env.mem.Get(context.Background(), "chats", "u-1/c-1.json")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
	assert.Equal(t, common.JSONContentType, env.mem.ContentType("chats", "u-1/c-1.json"))

	_, err = env.repos.convs.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
}

func TestCreate_SeedMessagesGetPositionalIDs(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.Create(context.Background(), "u-1", "Hi", []models.Message{
		{Sender: models.SenderAI, Content: models.TextContent("Welcome!"), Model: "gpt-4o"},
		{Sender: models.SenderUser, Content: models.TextContent("thanks"), Model: "ignored"},
	})
	require.NoError(t, err)

	msgs := env.blob(t, "u-1", "c-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "c-1-1", msgs[0].ID)
	assert.Equal(t, "c-1-2", msgs[1].ID)
	assert.Equal(t, "gpt-4o", msgs[0].Model)
	assert.Empty(t, msgs[1].Model)
	assert.True(t, msgs[0].Timestamp.Equal(fixedNow))
}

func TestCreate_Failures(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.svc.Create(context.Background(), "ghost", "x", nil)
		assert.ErrorIs(t, err, common.ErrUserNotFound)
		assert.Zero(t, env.mem.Len())
	})
	t.Run("invalid seed sender", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.svc.Create(context.Background(), "u-1", "x", []models.Message{{Sender: "bot"}})
		assert.ErrorIs(t, err, common.ErrInvalidSender)
		assert.Zero(t, env.mem.Len())
	})
	t.Run("blob put fails, no metadata", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.store.putErr = fmt.Errorf("%w: down", common.ErrStorage)
		_, err := env.svc.Create(context.Background(), "u-1", "x", nil)
		assert.ErrorIs(t, err, common.ErrStorage)
		assert.Empty(t, env.repos.convs.rows)
	})
	t.Run("presign fails, blob removed", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.store.presignErr = fmt.Errorf("%w: no creds", common.ErrStorage)
		_, err := env.svc.Create(context.Background(), "u-1", "x", nil)
		assert.ErrorIs(t, err, common.ErrStorage)
		assert.Zero(t, env.mem.Len())
	})
	t.Run("metadata insert fails, blob removed", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.repos.convs.createErr = errBoom
		_, err := env.svc.Create(context.Background(), "u-1", "x", nil)
		assert.ErrorIs(t, err, errBoom)
		assert.Zero(t, env.mem.Len())
	})
}

func TestDelete_BlobFailureStillRemovesMetadata(t *testing.T) {
	env := newTestEnv(t, nil)
	conv, err := env.svc.Create(context.Background(), "u-1", "x", nil)
	require.NoError(t, err)

	env.store.deleteErr = fmt.Errorf("%w: access denied", common.ErrStorage)
	require.NoError(t, env.svc.Delete(context.Background(), conv.ID))

	_, err = env.repos.convs.GetByID(context.Background(), conv.ID)
	assert.ErrorIs(t, err, common.ErrConversationNotFound)
	assert.Equal(t, 1, env.mem.Len(), "blob is orphaned, not an error")
	assert.Contains(t, env.logs.String(), "transcript blob delete failed")
}

func TestDelete_RemovesBoth(t *testing.T) {
	env := newTestEnv(t, nil)
	conv, err := env.svc.Create(context.Background(), "u-1", "x", nil)
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(context.Background(), conv.ID))
	assert.Zero(t, env.mem.Len())
	assert.Empty(t, env.repos.convs.rows)

	assert.ErrorIs(t, env.svc.Delete(context.Background(), conv.ID), common.ErrConversationNotFound)
}

func TestDelete_UndecodableURLStillRemovesMetadata(t *testing.T) {
	env := newTestEnv(t, nil)
	env.repos.convs.rows["legacy"] = &models.Conversation{ID: "legacy", UserID: "u-1", FileURL: "http://x/short"}

	require.NoError(t, env.svc.Delete(context.Background(), "legacy"))
	assert.Empty(t, env.repos.convs.rows)
	assert.Contains(t, env.logs.String(), "cannot locate transcript blob")
}

func TestRename(t *testing.T) {
	env := newTestEnv(t, nil)
	conv, err := env.svc.Create(context.Background(), "u-1", "old", nil)
	require.NoError(t, err)

	require.NoError(t, env.svc.Rename(context.Background(), conv.ID, "new"))
	v, err := env.svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", v.Title)

	assert.ErrorIs(t, env.svc.Rename(context.Background(), "nope", "x"), common.ErrConversationNotFound)
}

func TestEventsPublished(t *testing.T) {
	ps := events.NewGoChannel(nil)
	t.Cleanup(func() { _ = ps.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub, err := ps.Subscribe(ctx, events.Topic)
	require.NoError(t, err)

	env := newTestEnv(t, nil)
	env.svc.events = events.NewWatermillPublisher(ps)

	conv, err := env.svc.Create(ctx, "u-1", "x", nil)
	require.NoError(t, err)
	_, err = env.svc.Append(ctx, AppendRequest{ConversationID: conv.ID, Sender: models.SenderUser, Content: models.TextContent("hi")})
	require.NoError(t, err)
	require.NoError(t, env.svc.Delete(ctx, conv.ID))

	var got []events.Type
	for len(got) < 3 {
		select {
		case msg := <-sub:
			got = append(got, decodeType(t, msg))
			msg.Ack()
		case <-ctx.Done():
			t.Fatalf("timed out, got %v", got)
		}
	}
	// gochannel delivers each message on its own goroutine
	assert.ElementsMatch(t, []events.Type{events.ConversationCreated, events.MessageAppended, events.ConversationDeleted}, got)
}

func decodeType(t *testing.T, msg *message.Message) events.Type {
	t.Helper()
	e, err := events.Decode(msg)
	require.NoError(t, err)
	return e.Type
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error { return errors.New("closed") }

func TestEventPublishFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.svc.events = failingPublisher{}

	_, err := env.svc.Create(context.Background(), "u-1", "x", nil)
	require.NoError(t, err)
	assert.Contains(t, env.logs.String(), "event publish failed")
}
