package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an item is not tracked.
var ErrNotFound = errors.New("item not found")

// Status is the lifecycle state of a tracked item.
type Status string

const (
	StatusPending          Status = "pending"
	StatusTranslated       Status = "translated"
	StatusPublishedPartial Status = "published_partial"
	StatusPublishedAll     Status = "published_all"
	StatusFailed           Status = "failed"
)

// Terminal reports whether no further automatic mutation is expected.
func (s Status) Terminal() bool {
	return s == StatusPublishedAll || s == StatusFailed
}

// rank orders statuses so transitions only ever move forward.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusTranslated:
		return 1
	case StatusPublishedPartial:
		return 2
	case StatusPublishedAll:
		return 3
	case StatusFailed:
		return 4
	}
	return -1
}

// MediaList is a set of media URLs stored as a JSON array column.
type MediaList []string

func (m MediaList) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode media list: %w", err)
	}
	return string(b), nil
}

func (m *MediaList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	}
	return fmt.Errorf("scan media list: unsupported type %T", src)
}

// Item is one tracked unit of content moving through the pipeline.
type Item struct {
	ID              int64     `db:"id" json:"id"`
	ItemID          string    `db:"item_id" json:"item_id"`
	AuthorID        string    `db:"author_id" json:"author_id"`
	OriginalText    string    `db:"original_text" json:"original_text"`
	Media           MediaList `db:"media" json:"media,omitempty"`
	TranslatedText  *string   `db:"translated_text" json:"translated_text,omitempty"`
	Status          Status    `db:"status" json:"status"`
	XHSPostID       *string   `db:"xhs_post_id" json:"xhs_post_id,omitempty"`
	WeChatArticleID *string   `db:"wechat_article_id" json:"wechat_article_id,omitempty"`
	ErrorMessage    *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ExternalID returns the recorded post id for a platform, or nil.
func (i *Item) ExternalID(platform string) *string {
	switch platform {
	case "xhs":
		return i.XHSPostID
	case "wechat":
		return i.WeChatArticleID
	}
	return nil
}

// ListOpts controls item listing.
type ListOpts struct {
	Status   Status
	AuthorID string
	Limit    int
}

// Store is the persistence interface for tracked items.
type Store interface {
	InsertIfNew(ctx context.Context, item *Item) (bool, error)
	Watermark(ctx context.Context, authorID string) (string, error)
	Get(ctx context.Context, itemID string) (*Item, error)
	UpdateTranslation(ctx context.Context, itemID, text string) error
	UpdatePublishResult(ctx context.Context, itemID, platform, externalID string, success bool, errMsg string) error
	MarkFailed(ctx context.Context, itemID, reason string) error
	List(ctx context.Context, opts ListOpts) ([]Item, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
	// enabled publish destinations, in configured order
	platforms []string
}

// New opens a SQLite database, runs migrations, and binds the enabled
// platform list used for publish status computation.
func New(path string, platforms []string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, platforms: platforms}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertIfNew inserts the item at pending if its item_id is absent.
// Concurrent inserts of the same id resolve to exactly one row; the
// loser observes inserted=false.
func (s *SQLiteStore) InsertIfNew(ctx context.Context, item *Item) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (item_id, author_id, original_text, media, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO NOTHING
	`, item.ItemID, item.AuthorID, item.OriginalText, item.Media, StatusPending, now, now)
	if err != nil {
		return false, fmt.Errorf("insert item %s: %w", item.ItemID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert item %s: %w", item.ItemID, err)
	}
	return n > 0, nil
}

// Watermark returns the highest tracked item id for an author, comparing
// ids numerically (ids are monotonically increasing integers encoded as
// strings). Returns "" when nothing is tracked for the author.
func (s *SQLiteStore) Watermark(ctx context.Context, authorID string) (string, error) {
	var itemID string
	err := s.db.GetContext(ctx, &itemID, `
		SELECT item_id FROM items WHERE author_id = ?
		ORDER BY LENGTH(item_id) DESC, item_id DESC LIMIT 1
	`, authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("watermark for %s: %w", authorID, err)
	}
	return itemID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item, "SELECT * FROM items WHERE item_id = ?", itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", itemID, err)
	}
	return &item, nil
}

// UpdateTranslation records the translated text and advances the item to
// translated. Only pending and translated items are touched: once any
// platform has published, the text a platform saw must not change and
// the status must not move backward. Missing items are a no-op, not an
// error.
func (s *SQLiteStore) UpdateTranslation(ctx context.Context, itemID, text string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET translated_text = ?, status = ?, updated_at = ?
		WHERE item_id = ? AND status IN (?, ?)
	`, text, StatusTranslated, time.Now().UTC(), itemID, StatusPending, StatusTranslated)
	if err != nil {
		return fmt.Errorf("update translation %s: %w", itemID, err)
	}
	return nil
}

// UpdatePublishResult records one platform's publish outcome inside a
// transaction. On success the platform's external id is set (never
// overwritten) and the status advances to published_partial or
// published_all. On failure the reason is appended to error_message and,
// when this was the last enabled platform with nothing published, the
// item goes to failed.
func (s *SQLiteStore) UpdatePublishResult(ctx context.Context, itemID, platform, externalID string, success bool, errMsg string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish update %s: %w", itemID, err)
	}
	defer tx.Rollback()

	var item Item
	err = tx.GetContext(ctx, &item, "SELECT * FROM items WHERE item_id = ?", itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // upstream guarantees existence; tolerate races
	}
	if err != nil {
		return fmt.Errorf("load item %s: %w", itemID, err)
	}

	column, err := platformColumn(platform)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if success {
		// Platform ids are set once and never cleared.
		if item.ExternalID(platform) == nil {
			q := fmt.Sprintf("UPDATE items SET %s = ?, updated_at = ? WHERE item_id = ?", column)
			if _, err := tx.ExecContext(ctx, q, externalID, now, itemID); err != nil {
				return fmt.Errorf("record %s id for %s: %w", platform, itemID, err)
			}
			setExternalID(&item, platform, externalID)
		}

		next := StatusPublishedPartial
		if s.allPublished(&item) {
			next = StatusPublishedAll
		}
		if next.rank() > item.Status.rank() {
			if _, err := tx.ExecContext(ctx,
				"UPDATE items SET status = ?, updated_at = ? WHERE item_id = ?",
				next, now, itemID); err != nil {
				return fmt.Errorf("advance status for %s: %w", itemID, err)
			}
		}
	} else {
		msg := fmt.Sprintf("%s: %s", platform, errMsg)
		if item.ErrorMessage != nil && *item.ErrorMessage != "" {
			msg = *item.ErrorMessage + "; " + msg
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE items SET error_message = ?, updated_at = ? WHERE item_id = ?",
			msg, now, itemID); err != nil {
			return fmt.Errorf("record %s error for %s: %w", platform, itemID, err)
		}

		if s.isLastPlatform(platform) && !s.anyPublished(&item) && !item.Status.Terminal() {
			if _, err := tx.ExecContext(ctx,
				"UPDATE items SET status = ?, updated_at = ? WHERE item_id = ?",
				StatusFailed, now, itemID); err != nil {
				return fmt.Errorf("fail item %s: %w", itemID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish update %s: %w", itemID, err)
	}
	return nil
}

// MarkFailed moves a non-terminal item to failed with a reason.
func (s *SQLiteStore) MarkFailed(ctx context.Context, itemID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET status = ?, error_message = ?, updated_at = ?
		WHERE item_id = ? AND status NOT IN (?, ?)
	`, StatusFailed, reason, time.Now().UTC(), itemID, StatusPublishedAll, StatusFailed)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", itemID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOpts) ([]Item, error) {
	query := "SELECT * FROM items WHERE 1=1"
	var args []any

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.AuthorID != "" {
		query += " AND author_id = ?"
		args = append(args, opts.AuthorID)
	}

	query += " ORDER BY LENGTH(item_id) DESC, item_id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var items []Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT status, COUNT(*) as cnt FROM items GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count items by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st string
		var cnt int
		if err := rows.Scan(&st, &cnt); err != nil {
			return nil, err
		}
		counts[Status(st)] = cnt
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) allPublished(item *Item) bool {
	if len(s.platforms) == 0 {
		return false
	}
	for _, p := range s.platforms {
		if item.ExternalID(p) == nil {
			return false
		}
	}
	return true
}

func (s *SQLiteStore) anyPublished(item *Item) bool {
	for _, p := range s.platforms {
		if item.ExternalID(p) != nil {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) isLastPlatform(platform string) bool {
	return len(s.platforms) > 0 && s.platforms[len(s.platforms)-1] == platform
}

func platformColumn(platform string) (string, error) {
	switch platform {
	case "xhs":
		return "xhs_post_id", nil
	case "wechat":
		return "wechat_article_id", nil
	}
	return "", fmt.Errorf("unknown platform %q", platform)
}

func setExternalID(item *Item, platform, externalID string) {
	switch platform {
	case "xhs":
		item.XHSPostID = &externalID
	case "wechat":
		item.WeChatArticleID = &externalID
	}
}

var _ Store = (*SQLiteStore)(nil)
