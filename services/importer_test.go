package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/storage"
)

func promotableListing() *models.CanonicalListing {
	l := signedListing("olx", "P1", "Київ", "вул. Каталожна 1", "+380504445566", 60000, 70)
	l.Location.Coordinates = &models.Coordinates{Lat: 50.45, Lon: 30.52}
	l.Media.Photos = []string{"1.jpg"}
	return l
}

func TestImporterDecide(t *testing.T) {
	store := storage.NewMemoryStore()
	im := NewImporter(store, store, newTestLogger())

	tests := []struct {
		name   string
		mutate func(*models.CanonicalListing)
		want   string
	}{
		{"eligible", func(l *models.CanonicalListing) {}, ImportPromote},
		{"inactive", func(l *models.CanonicalListing) { l.IsActive = false }, ImportSkip},
		{"flagged for review", func(l *models.CanonicalListing) { l.NeedsReview = true }, ImportSkip},
		{"no price", func(l *models.CanonicalListing) { l.Price.Amount = 0 }, ImportSkip},
		{"no coordinates", func(l *models.CanonicalListing) { l.Location.Coordinates = nil }, ImportSkip},
		{"no photos", func(l *models.CanonicalListing) { l.Media.Photos = nil }, ImportSkip},
		{"already promoted", func(l *models.CanonicalListing) {
			l.ImportedToProperties = true
			l.PropertyID = "prop-9"
		}, ImportUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := promotableListing()
			tt.mutate(l)
			assert.Equal(t, tt.want, im.Decide(l))
		})
	}
}

func TestImporterPromotes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	im := NewImporter(store, store, newTestLogger())

	l := promotableListing()
	require.NoError(t, store.Insert(ctx, l))

	decision, err := im.Apply(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, ImportPromote, decision)
	assert.True(t, l.ImportedToProperties)
	assert.NotEmpty(t, l.PropertyID)
	assert.Equal(t, 1, store.PropertyCount())

	entry, err := store.GetEntry(ctx, l.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, entry.ParsedListingID)
	assert.Equal(t, l.Price, entry.Price)
}

func TestImporterRetriesOnceThenConflicts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	im := NewImporter(store, store, newTestLogger())

	l := promotableListing()
	require.NoError(t, store.Insert(ctx, l))

	// First attempt fails, the inline retry succeeds.
	store.FailPromotions = 1
	decision, err := im.Apply(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, ImportPromote, decision)
	assert.Equal(t, 1, store.PropertyCount())
}

func TestImporterSurfacesPromotionConflict(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	im := NewImporter(store, store, newTestLogger())

	l := promotableListing()
	require.NoError(t, store.Insert(ctx, l))

	// Both the attempt and its retry fail: nothing may be left behind.
	store.FailPromotions = 2
	_, err := im.Apply(ctx, l)

	var conflict *PromotionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, l.ID, conflict.ListingID)
	assert.False(t, l.ImportedToProperties)
	assert.Zero(t, store.PropertyCount(), "failed promotion left a catalog entry behind")

	// The next cycle retries cleanly.
	decision, err := im.Apply(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, ImportPromote, decision)
}

func TestImporterPropagatesDeltaIdempotently(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	im := NewImporter(store, store, newTestLogger())

	l := promotableListing()
	require.NoError(t, store.Insert(ctx, l))
	_, err := im.Apply(ctx, l)
	require.NoError(t, err)

	entry, err := store.GetEntry(ctx, l.PropertyID)
	require.NoError(t, err)
	createdAt := entry.UpdatedAt

	// Re-applying unchanged content is a no-op on the catalog side.
	decision, err := im.Apply(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, ImportUpdate, decision)

	entry, err = store.GetEntry(ctx, l.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, createdAt, entry.UpdatedAt)

	// A real price change lands.
	l.Price.Amount = 58000
	_, err = im.Apply(ctx, l)
	require.NoError(t, err)

	entry, err = store.GetEntry(ctx, l.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, 58000.0, entry.Price.Amount)
}

func TestImporterReportsDanglingPropertyLink(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	im := NewImporter(store, store, newTestLogger())

	l := promotableListing()
	l.ImportedToProperties = true
	l.PropertyID = "gone"
	require.NoError(t, store.Insert(ctx, l))

	_, err := im.Apply(ctx, l)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
