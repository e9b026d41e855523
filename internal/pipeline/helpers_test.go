package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elonfeng/crosspost/internal/store"
	"github.com/elonfeng/crosspost/pkg/fetch"
	"github.com/elonfeng/crosspost/pkg/publish"
)

func newTestStore(t *testing.T, platforms ...string) *store.SQLiteStore {
	t.Helper()
	if platforms == nil {
		platforms = []string{"xhs", "wechat"}
	}
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), platforms)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
}

// fakeFetcher serves canned pages per account.
type fakeFetcher struct {
	pages map[string][]fetch.RawItem
	errs  map[string]error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, account, since string, limit int) ([]fetch.RawItem, error) {
	f.calls++
	if err := f.errs[account]; err != nil {
		return nil, err
	}
	return f.pages[account], nil
}

// fakeTranslator fails a configured number of times before succeeding.
type fakeTranslator struct {
	out      string
	failures int
	calls    int
}

func (f *fakeTranslator) Translate(ctx context.Context, text string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("translator unavailable")
	}
	return f.out, nil
}

// fakePublisher records publish attempts and yields a fixed outcome.
type fakePublisher struct {
	name   string
	postID string
	err    error

	mu    sync.Mutex
	calls int
	posts []publish.Post
}

func (f *fakePublisher) Name() string    { return f.name }
func (f *fakePublisher) TitleLimit() int { return 50 }

func (f *fakePublisher) Publish(ctx context.Context, post publish.Post) (publish.Result, error) {
	f.mu.Lock()
	f.calls++
	f.posts = append(f.posts, post)
	f.mu.Unlock()

	if f.err != nil {
		return publish.Result{}, f.err
	}
	return publish.Result{PostID: f.postID}, nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func nopLogger() *zap.Logger { return zap.NewNop() }
