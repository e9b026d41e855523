package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Nitter fetches tweets for an account via a Nitter RSS feed. Nitter
// feeds ignore the since hint; the pipeline filters by watermark.
type Nitter struct {
	client    *http.Client
	parser    *gofeed.Parser
	nitterURL string
}

// NewNitter creates a Nitter-backed fetcher.
func NewNitter(nitterURL string) *Nitter {
	if nitterURL == "" {
		nitterURL = "https://nitter.net"
	}
	return &Nitter{
		client:    &http.Client{Timeout: 30 * time.Second},
		parser:    gofeed.NewParser(),
		nitterURL: strings.TrimRight(nitterURL, "/"),
	}
}

func (n *Nitter) Fetch(ctx context.Context, account, since string, limit int) ([]RawItem, error) {
	feedURL := fmt.Sprintf("%s/%s/rss", n.nitterURL, account)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create nitter request @%s: %w", account, err)
	}
	req.Header.Set("User-Agent", "crosspost/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch nitter @%s: %w", account, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nitter @%s status %d", account, resp.StatusCode)
	}

	feed, err := n.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse nitter @%s: %w", account, err)
	}

	var items []RawItem
	for _, entry := range feed.Items {
		if limit > 0 && len(items) >= limit {
			break
		}

		id := statusID(entry.GUID)
		if id == "" {
			id = statusID(entry.Link)
		}
		if id == "" {
			continue
		}

		published := time.Now().UTC()
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		}

		var media []string
		for _, enc := range entry.Enclosures {
			if enc != nil && enc.URL != "" {
				media = append(media, enc.URL)
			}
		}

		items = append(items, RawItem{
			ID:        id,
			AuthorID:  account,
			Text:      entry.Title,
			CreatedAt: published,
			Media:     media,
			// Nitter prefixes retweets with "RT by @account:".
			IsRepost: strings.HasPrefix(entry.Title, "RT by "),
		})
	}

	return items, nil
}

// statusID extracts the numeric tweet id from a nitter status URL like
// https://nitter.net/user/status/1790000000000000001#m.
func statusID(link string) string {
	idx := strings.Index(link, "/status/")
	if idx < 0 {
		return ""
	}
	id := link[idx+len("/status/"):]
	if h := strings.IndexAny(id, "#?"); h >= 0 {
		id = id[:h]
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return id
}

var _ Fetcher = (*Nitter)(nil)
