package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagemd/pagemd/dbopen"
)

// ErrNotFound is returned when no snapshot exists for a URL hash.
var ErrNotFound = errors.New("snapshot: not found")

// Store is the SQLite persistence layer. Get-by-key, upsert-with-version,
// list-history; nothing else.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database. The schema must already be applied
// (dbopen.WithSchema(snapshot.Schema)).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the current snapshot for urlHash, or ErrNotFound.
func (s *Store) Get(ctx context.Context, urlHash string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url_hash, normalized_url, display_url, title, markdown,
		       markdown_hash, source_engine, token_estimate, last_error,
		       version, fetched_at, stale_at
		FROM snapshots WHERE url_hash = ?`, urlHash)

	var snap Snapshot
	var fetchedAt, staleAt int64
	err := row.Scan(&snap.URLHash, &snap.NormalizedURL, &snap.DisplayURL,
		&snap.Title, &snap.Markdown, &snap.MarkdownHash, &snap.SourceEngine,
		&snap.TokenEstimate, &snap.LastError, &snap.Version, &fetchedAt, &staleAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, urlHash)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %s: %w", urlHash, err)
	}
	snap.FetchedAt = time.Unix(fetchedAt, 0).UTC()
	snap.StaleAt = time.Unix(staleAt, 0).UTC()
	return &snap, nil
}

// Save assigns snap.Version = previous version + 1 (1 when new), overwrites
// the snapshots row, and appends one history row — all in one transaction,
// so a snapshot write can never be observed without its paired version.
func (s *Store) Save(ctx context.Context, snap *Snapshot, trigger string) error {
	if !ValidTrigger(trigger) {
		return fmt.Errorf("snapshot: invalid trigger %q", trigger)
	}

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var prev int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM snapshots WHERE url_hash = ?`, snap.URLHash).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("snapshot: read version: %w", err)
		}
		snap.Version = prev + 1

		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (url_hash, normalized_url, display_url, title,
			    markdown, markdown_hash, source_engine, token_estimate,
			    last_error, version, fetched_at, stale_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?)
			ON CONFLICT(url_hash) DO UPDATE SET
			    normalized_url = excluded.normalized_url,
			    display_url    = excluded.display_url,
			    title          = excluded.title,
			    markdown       = excluded.markdown,
			    markdown_hash  = excluded.markdown_hash,
			    source_engine  = excluded.source_engine,
			    token_estimate = excluded.token_estimate,
			    last_error     = '',
			    version        = excluded.version,
			    fetched_at     = excluded.fetched_at,
			    stale_at       = excluded.stale_at`,
			snap.URLHash, snap.NormalizedURL, snap.DisplayURL, snap.Title,
			snap.Markdown, snap.MarkdownHash, snap.SourceEngine,
			snap.TokenEstimate, snap.Version,
			snap.FetchedAt.Unix(), snap.StaleAt.Unix())
		if err != nil {
			return fmt.Errorf("snapshot: upsert: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshot_versions (id, url_hash, version, normalized_url,
			    markdown, markdown_hash, source_engine, trigger_kind, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), snap.URLHash, snap.Version, snap.NormalizedURL,
			snap.Markdown, snap.MarkdownHash, snap.SourceEngine, trigger,
			snap.FetchedAt.Unix())
		if err != nil {
			return fmt.Errorf("snapshot: append version: %w", err)
		}
		return nil
	})
}

// SetLastError records a failed regeneration attempt on the current row
// without touching the markdown or version.
func (s *Store) SetLastError(ctx context.Context, urlHash, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET last_error = ? WHERE url_hash = ?`, msg, urlHash)
	if err != nil {
		return fmt.Errorf("snapshot: set last error: %w", err)
	}
	return nil
}

// ListVersions returns history entries for urlHash, newest first, without
// markdown bodies. limit <= 0 means no limit.
func (s *Store) ListVersions(ctx context.Context, urlHash string, limit int) ([]Version, error) {
	q := `
		SELECT id, url_hash, version, normalized_url, markdown_hash,
		       source_engine, trigger_kind, created_at
		FROM snapshot_versions WHERE url_hash = ?
		ORDER BY version DESC`
	args := []any{urlHash}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list versions: %w", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var v Version
		var createdAt int64
		if err := rows.Scan(&v.ID, &v.URLHash, &v.Version, &v.NormalizedURL,
			&v.MarkdownHash, &v.SourceEngine, &v.Trigger, &createdAt); err != nil {
			return nil, fmt.Errorf("snapshot: scan version: %w", err)
		}
		v.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVersion returns one full history entry, markdown included.
func (s *Store) GetVersion(ctx context.Context, urlHash string, version int64) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url_hash, version, normalized_url, markdown, markdown_hash,
		       source_engine, trigger_kind, created_at
		FROM snapshot_versions WHERE url_hash = ? AND version = ?`,
		urlHash, version)

	var v Version
	var createdAt int64
	err := row.Scan(&v.ID, &v.URLHash, &v.Version, &v.NormalizedURL,
		&v.Markdown, &v.MarkdownHash, &v.SourceEngine, &v.Trigger, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, urlHash, version)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: get version: %w", err)
	}
	v.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &v, nil
}
