package services

import (
	"context"
	"fmt"

	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/storage"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

// Import decisions.
const (
	ImportPromote = "promote"
	ImportUpdate  = "update"
	ImportSkip    = "skip"
)

// Importer decides whether a listing enters the property catalog and
// performs the promotion transactionally.
type Importer struct {
	store   storage.ListingStore
	catalog storage.Catalog
	logger  *utils.Logger
}

// NewImporter creates an Importer. The catalog is an explicit dependency
// so tests can substitute a double and cycles share no hidden state.
func NewImporter(store storage.ListingStore, catalog storage.Catalog, logger *utils.Logger) *Importer {
	return &Importer{store: store, catalog: catalog, logger: logger}
}

// Decide returns the promotion decision for a listing. Only active,
// not-yet-imported listings with a price, coordinates and at least one
// photo are promoted; already-promoted listings get delta updates;
// review-flagged listings are never auto-promoted.
func (im *Importer) Decide(l *models.CanonicalListing) string {
	if l.ImportedToProperties && l.PropertyID != "" {
		return ImportUpdate
	}
	if !l.IsActive || l.NeedsReview {
		return ImportSkip
	}
	if l.Price.Amount <= 0 {
		return ImportSkip
	}
	if l.Location.Coordinates == nil {
		return ImportSkip
	}
	if len(l.Media.Photos) == 0 {
		return ImportSkip
	}
	return ImportPromote
}

// Apply executes the decision. Promotion failures are retried once, then
// wrapped as a PromotionConflictError for the next cycle to re-attempt.
func (im *Importer) Apply(ctx context.Context, l *models.CanonicalListing) (string, error) {
	decision := im.Decide(l)

	switch decision {
	case ImportPromote:
		if err := im.promote(ctx, l); err != nil {
			// One retry: transient conflicts usually clear immediately.
			if err = im.promote(ctx, l); err != nil {
				return decision, &PromotionConflictError{ListingID: l.ID, Err: err}
			}
		}
		im.logger.Info("[importer] listing %s promoted to property %s", l.ID, l.PropertyID)

	case ImportUpdate:
		if err := im.propagate(ctx, l); err != nil {
			return decision, err
		}
	}

	return decision, nil
}

func (im *Importer) promote(ctx context.Context, l *models.CanonicalListing) error {
	propertyID, err := im.catalog.CreateFromListing(ctx, l)
	if err != nil {
		return err
	}
	l.ImportedToProperties = true
	l.PropertyID = propertyID
	return nil
}

// propagate pushes material changes of an already-promoted listing to
// its catalog entry. Idempotent: identical deltas are no-ops.
func (im *Importer) propagate(ctx context.Context, l *models.CanonicalListing) error {
	delta := &models.PropertyDelta{
		Price:    &l.Price,
		IsActive: &l.IsActive,
		Features: &l.Features,
		Photos:   l.Media.Photos,
	}

	err := im.catalog.UpdateEntry(ctx, l.PropertyID, delta)
	if err == storage.ErrNotFound {
		// The catalog entry vanished underneath us; surface loudly, the
		// listing's link is now dangling.
		return fmt.Errorf("property %s referenced by listing %s: %w", l.PropertyID, l.ID, err)
	}
	return err
}
