package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/crosspost/internal/store"
	"github.com/elonfeng/crosspost/pkg/fetch"
)

// FetchStage pulls new candidate items from monitored accounts and
// records them at pending. A failure for one account never aborts the
// others.
type FetchStage struct {
	store       store.Store
	fetcher     fetch.Fetcher
	accounts    []string
	limit       int
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewFetchStage creates a fetch stage over the given accounts.
func NewFetchStage(s store.Store, f fetch.Fetcher, accounts []string, limit int, callTimeout time.Duration, logger *zap.Logger) *FetchStage {
	if limit <= 0 {
		limit = 50
	}
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	return &FetchStage{
		store:       s,
		fetcher:     f,
		accounts:    accounts,
		limit:       limit,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Run fetches every configured account and returns only the items that
// were actually inserted this run. Reposts are discarded, ids at or
// below the author's watermark are discarded even if the fetcher
// ignored the since hint, and duplicate ids within a batch collapse to
// one item.
func (f *FetchStage) Run(ctx context.Context) ([]store.Item, error) {
	var inserted []store.Item

	for _, account := range f.accounts {
		items, err := f.runAccount(ctx, account)
		if err != nil {
			f.logger.Warn("fetch failed, skipping source",
				zap.String("account", account), zap.Error(err))
			continue
		}
		inserted = append(inserted, items...)
	}

	return inserted, nil
}

func (f *FetchStage) runAccount(ctx context.Context, account string) ([]store.Item, error) {
	watermark, err := f.store.Watermark(ctx, account)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	raw, err := f.fetcher.Fetch(cctx, account, watermark, f.limit)
	cancel()
	if err != nil {
		return nil, err
	}

	var inserted []store.Item
	seen := make(map[string]bool)

	for _, r := range raw {
		if r.IsRepost || seen[r.ID] {
			continue
		}
		if !idAfter(r.ID, watermark) {
			continue
		}
		seen[r.ID] = true

		item := store.Item{
			ItemID:       r.ID,
			AuthorID:     r.AuthorID,
			OriginalText: r.Text,
			Media:        store.MediaList(r.Media),
			Status:       store.StatusPending,
		}
		ok, err := f.store.InsertIfNew(ctx, &item)
		if err != nil {
			f.logger.Error("insert failed",
				zap.String("item_id", r.ID), zap.Error(err))
			continue
		}
		if ok {
			inserted = append(inserted, item)
		}
	}

	f.logger.Info("fetched account",
		zap.String("account", account),
		zap.String("watermark", watermark),
		zap.Int("raw", len(raw)),
		zap.Int("new", len(inserted)))
	return inserted, nil
}
