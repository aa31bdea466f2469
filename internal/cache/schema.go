package cache

// Schema contains SQL schema definitions for the sync cache. Each row
// belongs to one side ("local" or "remote") of one account and records
// what the last sync run saw there.
const Schema = `
-- Folders table
CREATE TABLE IF NOT EXISTS folders (
    account TEXT NOT NULL,
    side TEXT NOT NULL,
    name TEXT NOT NULL,
    synced_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (account, side, name)
);

-- Envelopes table
CREATE TABLE IF NOT EXISTS envelopes (
    account TEXT NOT NULL,
    side TEXT NOT NULL,
    folder TEXT NOT NULL,
    message_id TEXT NOT NULL,
    internal_id TEXT NOT NULL DEFAULT '',
    flags TEXT NOT NULL DEFAULT '[]',
    subject TEXT NOT NULL DEFAULT '',
    sender TEXT NOT NULL DEFAULT '',
    date_unix INTEGER NOT NULL DEFAULT 0,
    synced_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (account, side, folder, message_id)
);

CREATE INDEX IF NOT EXISTS idx_envelopes_folder ON envelopes(account, side, folder);
`
