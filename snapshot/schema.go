package snapshot

// Schema defines the snapshot cache tables.
//
// snapshots holds the single current copy per URL hash and is overwritten
// in place. snapshot_versions is append-only; UNIQUE(url_hash, version)
// makes a duplicate version number a constraint violation rather than a
// silent overwrite. Timestamps are unix seconds.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    url_hash       TEXT PRIMARY KEY,
    normalized_url TEXT NOT NULL,
    display_url    TEXT NOT NULL,
    title          TEXT NOT NULL DEFAULT '',
    markdown       TEXT NOT NULL,
    markdown_hash  TEXT NOT NULL,
    source_engine  TEXT NOT NULL,
    token_estimate INTEGER NOT NULL DEFAULT 0,
    last_error     TEXT NOT NULL DEFAULT '',
    version        INTEGER NOT NULL CHECK(version >= 1),
    fetched_at     INTEGER NOT NULL,
    stale_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_versions (
    id             TEXT PRIMARY KEY,
    url_hash       TEXT NOT NULL,
    version        INTEGER NOT NULL CHECK(version >= 1),
    normalized_url TEXT NOT NULL,
    markdown       TEXT NOT NULL,
    markdown_hash  TEXT NOT NULL,
    source_engine  TEXT NOT NULL,
    trigger_kind   TEXT NOT NULL CHECK(trigger_kind IN ('initial','revalidate','redo')),
    created_at     INTEGER NOT NULL,
    UNIQUE(url_hash, version)
);

CREATE INDEX IF NOT EXISTS idx_snapshot_versions_hash
    ON snapshot_versions(url_hash, version DESC);
`
