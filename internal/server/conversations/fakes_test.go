package conversations

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/users"
)

type fakeRepoMgr struct {
	users *fakeUsersRepo
	convs *fakeConvRepo
}

func (m *fakeRepoMgr) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m *fakeRepoMgr) Users(dbx.DBTX) users.Repository                 { return m.users }
func (m *fakeRepoMgr) Conversations(dbx.DBTX) conversations.Repository { return m.convs }

type fakeUsersRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) GetByExternalID(context.Context, string) (*models.User, error) {
	return nil, common.ErrUserNotFound
}

func (f *fakeUsersRepo) UpdatePinnedModels(context.Context, string, []string) error { return nil }
func (f *fakeUsersRepo) Delete(context.Context, string) error                       { return nil }

type fakeConvRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.Conversation
	createErr error
	touchErr  error
	urlErr    error
	getErr    error

	urlUpdates int
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{rows: make(map[string]*models.Conversation)}
}

func (f *fakeConvRepo) Create(_ context.Context, c *models.Conversation) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	cp := *c
	f.rows[c.ID] = &cp
	return c, nil
}

func (f *fakeConvRepo) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.rows[id]
	if !ok {
		return nil, common.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConvRepo) ListByUser(_ context.Context, userID string) ([]*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Conversation
	for _, c := range f.rows {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeConvRepo) UpdateFileURL(_ context.Context, id, url string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.urlErr != nil {
		return f.urlErr
	}
	c, ok := f.rows[id]
	if !ok {
		return common.ErrConversationNotFound
	}
	c.FileURL = url
	c.UpdatedAt = at
	f.urlUpdates++
	return nil
}

func (f *fakeConvRepo) Touch(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	c, ok := f.rows[id]
	if !ok {
		return common.ErrConversationNotFound
	}
	c.UpdatedAt = at
	return nil
}

func (f *fakeConvRepo) UpdateTitle(_ context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return common.ErrConversationNotFound
	}
	c.Title = title
	return nil
}

func (f *fakeConvRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return common.ErrConversationNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeConvRepo) DeleteByUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, c := range f.rows {
		if c.UserID == userID {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

// faultyStore wraps a memory store and injects failures.
type faultyStore struct {
	*blobstore.MemoryStore
	getErr     error
	putErr     error
	deleteErr  error
	presignErr error
}

func (f *faultyStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemoryStore.Get(ctx, bucket, key)
}

func (f *faultyStore) Put(ctx context.Context, bucket, key string, body []byte, ct string) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.MemoryStore.Put(ctx, bucket, key, body, ct)
}

func (f *faultyStore) Delete(ctx context.Context, bucket, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryStore.Delete(ctx, bucket, key)
}

func (f *faultyStore) Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return f.MemoryStore.Presign(ctx, bucket, key, ttl)
}

// gatedStore holds every Get until two readers have arrived or wait has
// passed, which forces two unsynchronized appends to read the same state.
type gatedStore struct {
	*blobstore.MemoryStore
	wait time.Duration

	mu      sync.Mutex
	readers int
	both    chan struct{}
}

func newGatedStore(m *blobstore.MemoryStore, wait time.Duration) *gatedStore {
	return &gatedStore{MemoryStore: m, wait: wait, both: make(chan struct{})}
}

func (g *gatedStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	g.mu.Lock()
	g.readers++
	if g.readers == 2 {
		close(g.both)
	}
	g.mu.Unlock()

	select {
	case <-g.both:
	case <-time.After(g.wait):
	}
	return g.MemoryStore.Get(ctx, bucket, key)
}

var errBoom = errors.New("boom")
