package domain

import (
	"context"
	"time"
)

// GenerationRepository defines persistence for generation records. The row
// per generation is the sole shared mutable state between the submission
// path, the owning worker and the retention sweeper.
type GenerationRepository interface {
	Create(ctx context.Context, gen *Generation) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	// GetForUser fetches a generation scoped to its owner; other owners'
	// records surface as ErrNotFound.
	GetForUser(ctx context.Context, id, userID string) (*Generation, error)
	// ListForUser returns the owner's generations newest first, plus the
	// owner's total count.
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Generation, int, error)
	// CountActive counts the owner's generations in pending or running state.
	CountActive(ctx context.Context, userID string) (int, error)
	MarkRunning(ctx context.Context, id string) error
	// Complete records the terminal completed state with the result location.
	Complete(ctx context.Context, id, resultURL, resultPath string) error
	// Fail records the terminal failed state with a non-empty error message.
	Fail(ctx context.Context, id, message string) error
	Delete(ctx context.Context, id string) error
	// ListExpired returns generations created before the cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]*Generation, error)
	// ReferenceInUse reports whether any generation other than excludeID
	// lists the given reference URL in its metadata.
	ReferenceInUse(ctx context.Context, url, excludeID string) (bool, error)
}

// PutResult describes a stored object.
type PutResult struct {
	URL  string
	Path string
}

// ObjectStore uploads, downloads and deletes byte blobs under a bucket and
// exposes public URLs for them.
type ObjectStore interface {
	Put(ctx context.Context, data []byte, key, contentType string) (PutResult, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	// KeyFromURL reconstructs the storage key from one of this store's
	// public URLs. The second return is false for foreign URLs.
	KeyFromURL(url string) (string, bool)
}
