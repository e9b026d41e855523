package fetch

import (
	"context"
	"time"
)

// RawItem is one candidate post as returned by a fetcher, before any
// pipeline filtering.
type RawItem struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Media     []string  `json:"media,omitempty"`
	IsRepost  bool      `json:"is_repost"`
}

// Fetcher pulls recent posts for one monitored account. since is the
// caller's watermark hint ("" means no filter); implementations may
// ignore it, the pipeline re-filters regardless. Safe to call repeatedly
// with the same since.
type Fetcher interface {
	Fetch(ctx context.Context, account, since string, limit int) ([]RawItem, error)
}
