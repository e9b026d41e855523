// Package publish delivers translated content to destination platforms
// through narrow per-platform clients.
package publish

import (
	"context"
	"errors"
)

// ErrLoginRequired reports that the platform's authentication session is
// expired or absent. It requires operator action and is never retried.
var ErrLoginRequired = errors.New("login required")

// Post is the content handed to a platform publisher. OriginalText is
// included for platforms that display provenance.
type Post struct {
	Title        string
	Content      string
	OriginalText string
	Author       string
	// Media holds attached image URLs from the source post.
	Media []string
}

// Result is a successful publish outcome.
type Result struct {
	// PostID is the platform-assigned identifier of the published content.
	PostID string
}

// Publisher pushes one post to a single destination platform.
type Publisher interface {
	Name() string
	// TitleLimit is the platform's title character budget in runes.
	TitleLimit() int
	Publish(ctx context.Context, post Post) (Result, error)
}
