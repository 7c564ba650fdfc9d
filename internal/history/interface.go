// Package history persists the set of links that have already been uploaded,
// so the same product is never posted twice across restarts. The store is
// append-only and keyed by the normalized URL.
package history

import (
	"context"
	"time"
)

// Record is one upload attempt, successful or not. Failed attempts are kept
// too: a link that failed once is skipped on re-submission instead of being
// retried blindly.
type Record struct {
	URL        string
	Title      string
	Success    bool
	UploadedAt time.Time
}

// Stats summarizes the history for display.
type Stats struct {
	Total   int
	Success int
	Failed  int
}

// Repository describes upload-history operations. Implementations are backed
// by a local SQLite database.
type Repository interface {
	// IsUploaded reports whether the normalized URL has a record.
	IsUploaded(ctx context.Context, normalizedURL string) (bool, error)

	// Add appends a record for the normalized URL. Adding an already-recorded
	// URL is a no-op.
	Add(ctx context.Context, rec Record) error

	// UploadedSet returns every recorded normalized URL.
	UploadedSet(ctx context.Context) (map[string]struct{}, error)

	// List returns the most recent records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)

	// GetStats returns aggregate counts.
	GetStats(ctx context.Context) (Stats, error)
}
