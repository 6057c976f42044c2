package storage

import (
	"context"
	"errors"
	"time"

	"github.com/martyniukyurii/KovchegBackend/models"
)

// ErrNotFound is returned when a listing or catalog entry does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert would violate the
// (platform, source id) uniqueness invariant.
var ErrDuplicateKey = errors.New("duplicate (platform, source_id) key")

// ListingStore is the indexed store for canonical listings. Lookups by
// external id resolve through every source alias a listing has acquired
// via merges, so a (platform, source id) pair always maps to at most one
// listing.
type ListingStore interface {
	Insert(ctx context.Context, l *models.CanonicalListing) error
	Update(ctx context.Context, l *models.CanonicalListing) error
	GetByID(ctx context.Context, id string) (*models.CanonicalListing, error)
	FindByExternalID(ctx context.Context, ext models.ExternalID) (*models.CanonicalListing, error)

	// Signature lookups used for dedup candidate retrieval.
	FindByAddressHash(ctx context.Context, hash uint64) ([]*models.CanonicalListing, error)
	FindByPhoneFingerprint(ctx context.Context, fp string) ([]*models.CanonicalListing, error)

	// NearestByEmbedding returns listings in the given city whose
	// embedding cosine similarity to vec is at least floor, best first.
	NearestByEmbedding(ctx context.Context, city string, vec []float32, floor float64, limit int) ([]*models.CanonicalListing, error)

	// ListCheckedBefore returns listings of one platform whose last
	// successful re-check predates cutoff. This is the staleness sweep input.
	ListCheckedBefore(ctx context.Context, platform string, cutoff time.Time) ([]*models.CanonicalListing, error)

	// ListArchivable returns inactive listings unlinked to any property
	// whose last check predates cutoff.
	ListArchivable(ctx context.Context, cutoff time.Time) ([]*models.CanonicalListing, error)

	// Archive removes a listing. Listings linked to a promoted property
	// must be refused (soft lifecycle only).
	Archive(ctx context.Context, id string) error
}

// Catalog is the property-catalog boundary. The pipeline never reads
// catalog internals beyond what this interface exposes.
type Catalog interface {
	// CreateFromListing promotes a listing: it creates the catalog entry
	// and marks the listing imported in one transaction. Either both
	// writes land or neither does.
	CreateFromListing(ctx context.Context, l *models.CanonicalListing) (propertyID string, err error)

	// UpdateEntry applies a delta to an existing entry. Idempotent:
	// re-applying an identical delta changes nothing. Returns ErrNotFound
	// for an unknown property id.
	UpdateEntry(ctx context.Context, propertyID string, delta *models.PropertyDelta) error

	GetEntry(ctx context.Context, propertyID string) (*models.PropertyEntry, error)
	Exists(ctx context.Context, propertyID string) (bool, error)
}
