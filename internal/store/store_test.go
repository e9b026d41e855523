package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/crosspost/internal/store"
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

func insert(t *testing.T, s *store.SQLiteStore, itemID, authorID, text string) {
	t.Helper()
	ok, err := s.InsertIfNew(context.Background(), &store.Item{
		ItemID:       itemID,
		AuthorID:     authorID,
		OriginalText: text,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInsertIfNew(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.InsertIfNew(ctx, &store.Item{ItemID: "100", AuthorID: "u1", OriginalText: "hi"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Same id again is a no-op, not an error.
	ok, err = s.InsertIfNew(ctx, &store.Item{ItemID: "100", AuthorID: "u1", OriginalText: "hi"})
	require.NoError(t, err)
	assert.False(t, ok)

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, item.Status)
	assert.Nil(t, item.TranslatedText)
}

func TestInsertIfNewKeepsMedia(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.InsertIfNew(ctx, &store.Item{
		ItemID:       "100",
		AuthorID:     "u1",
		OriginalText: "hi",
		Media:        store.MediaList{"https://pic.example.com/a.jpg", "https://pic.example.com/b.jpg"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.MediaList{"https://pic.example.com/a.jpg", "https://pic.example.com/b.jpg"}, item.Media)

	// No media stored as an empty list, read back as empty.
	ok, err = s.InsertIfNew(ctx, &store.Item{ItemID: "200", AuthorID: "u1", OriginalText: "plain"})
	require.NoError(t, err)
	require.True(t, ok)

	item, err = s.Get(ctx, "200")
	require.NoError(t, err)
	assert.Empty(t, item.Media)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wm, err := s.Watermark(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "", wm)

	insert(t, s, "9", "u1", "a")
	insert(t, s, "100", "u1", "b")
	insert(t, s, "21", "u1", "c")
	insert(t, s, "300", "u2", "d")

	// Numeric ordering: "100" > "21" > "9" despite lexicographic order.
	wm, err = s.Watermark(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "100", wm)

	wm, err = s.Watermark(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "300", wm)
}

func TestUpdateTranslation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "100", "u1", "hello")

	require.NoError(t, s.UpdateTranslation(ctx, "100", "你好"))

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.StatusTranslated, item.Status)
	require.NotNil(t, item.TranslatedText)
	assert.Equal(t, "你好", *item.TranslatedText)

	// Missing item is a no-op, not an error.
	require.NoError(t, s.UpdateTranslation(ctx, "missing", "x"))
}

func TestUpdateTranslationKeepsPartiallyPublishedItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "100", "u1", "hello")
	require.NoError(t, s.UpdateTranslation(ctx, "100", "你好"))
	require.NoError(t, s.UpdatePublishResult(ctx, "100", "xhs", "note-1", true, ""))

	// A redelivered translation after one platform already published must
	// not move the status backward or change the text that platform saw.
	require.NoError(t, s.UpdateTranslation(ctx, "100", "换了个译法"))

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPublishedPartial, item.Status)
	require.NotNil(t, item.TranslatedText)
	assert.Equal(t, "你好", *item.TranslatedText)
	assert.Equal(t, "note-1", *item.XHSPostID)
}

func TestUpdateTranslationReappliesWhileTranslated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "100", "u1", "hello")
	require.NoError(t, s.UpdateTranslation(ctx, "100", "你好"))
	// Before anything published a redelivery may rewrite the text.
	require.NoError(t, s.UpdateTranslation(ctx, "100", "您好"))

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.StatusTranslated, item.Status)
	assert.Equal(t, "您好", *item.TranslatedText)
}

func TestPublishPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "100", "u1", "hello")
	require.NoError(t, s.UpdateTranslation(ctx, "100", "你好"))

	require.NoError(t, s.UpdatePublishResult(ctx, "100", "xhs", "note-1", true, ""))
	require.NoError(t, s.UpdatePublishResult(ctx, "100", "wechat", "", false, "wechat publish failed: timeout"))

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPublishedPartial, item.Status)
	require.NotNil(t, item.XHSPostID)
	assert.Equal(t, "note-1", *item.XHSPostID)
	assert.Nil(t, item.WeChatArticleID)
	require.NotNil(t, item.ErrorMessage)
	assert.Contains(t, *item.ErrorMessage, "wechat")
	assert.Contains(t, *item.ErrorMessage, "timeout")
	assert.NotContains(t, *item.ErrorMessage, "xhs:")
}

func TestPublishAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "100", "u1", "hello")
	require.NoError(t, s.UpdateTranslation(ctx, "100", "你好"))

	require.NoError(t, s.UpdatePublishResult(ctx, "100", "xhs", "note-1", true, ""))
	require.NoError(t, s.UpdatePublishResult(ctx, "100", "wechat", "media-1", true, ""))

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPublishedAll, item.Status)
	assert.Equal(t, "note-1", *item.XHSPostID)
	assert.Equal(t, "media-1", *item.WeChatArticleID)
}

func TestPublishAllFail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "100", "u1", "hello")
	require.NoError(t, s.UpdateTranslation(ctx, "100", "你好"))

	require.NoError(t, s.UpdatePublishResult(ctx, "100", "xhs", "", false, "session expired"))
	require.NoError(t, s.UpdatePublishResult(ctx, "100", "wechat", "", false, "api down"))

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, item.Status)
	require.NotNil(t, item.ErrorMessage)
	assert.Contains(t, *item.ErrorMessage, "xhs: session expired")
	assert.Contains(t, *item.ErrorMessage, "wechat: api down")
}

func TestPublishResultIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "100", "u1", "hello")
	require.NoError(t, s.UpdateTranslation(ctx, "100", "你好"))

	require.NoError(t, s.UpdatePublishResult(ctx, "100", "xhs", "note-1", true, ""))
	// A redelivered success must not overwrite the recorded id.
	require.NoError(t, s.UpdatePublishResult(ctx, "100", "xhs", "note-2", true, ""))

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "note-1", *item.XHSPostID)
}

func TestPublishSinglePlatform(t *testing.T) {
	s := newTestStore(t, "xhs")
	ctx := context.Background()

	insert(t, s, "100", "u1", "hello")
	require.NoError(t, s.UpdateTranslation(ctx, "100", "你好"))

	require.NoError(t, s.UpdatePublishResult(ctx, "100", "xhs", "note-1", true, ""))

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPublishedAll, item.Status)
}

func TestMarkFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "100", "u1", "hello")
	require.NoError(t, s.MarkFailed(ctx, "100", "translator gave up"))

	item, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, item.Status)
	assert.Equal(t, "translator gave up", *item.ErrorMessage)

	// Terminal success is never demoted.
	insert(t, s, "200", "u1", "other")
	require.NoError(t, s.UpdateTranslation(ctx, "200", "好"))
	require.NoError(t, s.UpdatePublishResult(ctx, "200", "xhs", "n", true, ""))
	require.NoError(t, s.UpdatePublishResult(ctx, "200", "wechat", "m", true, ""))
	require.NoError(t, s.MarkFailed(ctx, "200", "late failure"))

	item, err = s.Get(ctx, "200")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPublishedAll, item.Status)
}

func TestListAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert(t, s, "100", "u1", "a")
	insert(t, s, "200", "u2", "b")
	require.NoError(t, s.UpdateTranslation(ctx, "200", "乙"))

	items, err := s.List(ctx, store.ListOpts{Status: store.StatusPending})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "100", items[0].ItemID)

	items, err = s.List(ctx, store.ListOpts{AuthorID: "u2"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "200", items[0].ItemID)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[store.StatusPending])
	assert.Equal(t, 1, counts[store.StatusTranslated])
}
