package store

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id           TEXT NOT NULL UNIQUE,
    author_id         TEXT NOT NULL,
    original_text     TEXT NOT NULL,
    media             TEXT NOT NULL DEFAULT '[]',
    translated_text   TEXT,
    status            TEXT NOT NULL DEFAULT 'pending',
    xhs_post_id       TEXT,
    wechat_article_id TEXT,
    error_message     TEXT,
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_author ON items(author_id);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);
`
