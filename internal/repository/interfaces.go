package repository

import (
	"context"
	"io"
	"time"

	"github.com/iconidentify/tubeconv/internal/domain"
)

// Ledger records accepted conversion requests until the sweeper reclaims them.
type Ledger interface {
	// Insert assigns the record ID and CreatedAt, then persists it.
	// Records of the wrong shape for the ledger's schema fail with
	// domain.ErrSchemaMismatch.
	Insert(ctx context.Context, rec *domain.ConversionRecord) error

	// PurgeExpired deletes every record created before cutoff. fn is called
	// once per expired record before the deletion commits.
	PurgeExpired(ctx context.Context, cutoff time.Time, fn func(*domain.ConversionRecord)) (int, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Schema returns the record shape this ledger accepts.
	Schema() domain.Schema

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// ArtifactStore holds produced media files.
type ArtifactStore interface {
	// Save takes ownership of the file at localPath and returns the
	// reference it is stored under.
	Save(ctx context.Context, localPath string) (string, error)

	// Open returns the stored artifact and its size in bytes.
	Open(ctx context.Context, ref string) (io.ReadCloser, int64, error)

	// Delete removes the artifact. Missing artifacts are not an error.
	Delete(ctx context.Context, ref string) error
}

// FormatCache caches probe-driven format menus by video ID.
type FormatCache interface {
	Get(ctx context.Context, videoID string) (*domain.FormatMenu, bool)
	Set(ctx context.Context, videoID string, menu *domain.FormatMenu)
}
