package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/storage"
)

// signedListing builds a listing with its signatures computed, the way
// the signer leaves it before dedup.
func signedListing(platform, sourceID, city, addr, phone string, price, area float64) *models.CanonicalListing {
	l := &models.CanonicalListing{
		ID:         uuid.New().String(),
		SourceRefs: []models.ExternalID{{Platform: platform, SourceID: sourceID}},
		Title:      "Продам квартиру",
		Price:      models.Money{Amount: price, Currency: "USD"},
		Location:   models.Location{City: city, Address: addr, Country: "Україна"},
		Features:   models.Features{Area: area},
		ContactInfo: models.ContactInfo{
			Phone: phone,
		},
		State:       models.StateActive,
		IsActive:    true,
		LastChecked: time.Now().UTC(),
	}
	l.AddressHash = AddressHash(city, addr)
	l.PhoneFingerprint = PhoneFingerprint(phone)
	l.PriceBucket = PriceBucket(price)
	l.AreaBucket = AreaBucket(area)
	l.ContentHash = ContentHash(l.Title, l.Description, city, addr, price, area)
	return l
}

func newDedup(store storage.ListingStore) *DedupEngine {
	return NewDedupEngine(store, testConfig().Dedup, newTestLogger())
}

func TestDedupKnownSourceIDIsUpdate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	existing := signedListing("olx", "A1", "Київ", "вул. Шевченка 12", "+380501234567", 50000, 62)
	require.NoError(t, store.Insert(ctx, existing))

	incoming := signedListing("olx", "A1", "Київ", "вул. Шевченка 12", "+380501234567", 51000, 62)
	match, err := newDedup(store).Match(ctx, incoming)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionUpdate, match.Decision)
	assert.Equal(t, existing.ID, match.CandidateID)
	assert.True(t, match.Fired(models.SignalSameSource))
}

func TestDedupCrossSourceSameUnitMerges(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	// The same unit advertised on two platforms: same address and phone,
	// prices a few hundred dollars apart.
	olx := signedListing("olx", "ID100", "Київ", "вул. Шевченка, 12", "+380501234567", 50000, 62)
	require.NoError(t, store.Insert(ctx, olx))

	m2b := signedListing("m2bomber", "777", "Київ", "вулиця Шевченка 12", "050 123 45 67", 50500, 62)
	match, err := newDedup(store).Match(ctx, m2b)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionMerge, match.Decision)
	assert.Equal(t, olx.ID, match.CandidateID)
	assert.True(t, match.Fired(models.SignalPhone))
	assert.True(t, match.Fired(models.SignalAddress))
	assert.True(t, match.Fired(models.SignalPriceBucket))
	assert.True(t, match.Degraded, "no embeddings on either side")
}

func TestDedupFullSignalAgreementMergesDespiteModestCosine(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	// Same phone, address, price and area on both sides, but the free
	// text reads differently enough for a cosine of only 0.81. Exact
	// signal agreement must still merge; the embedding cannot drag the
	// score below the threshold.
	existing := signedListing("olx", "D1", "Київ", "вул. Шевченка 12", "+380501234567", 50000, 62)
	existing.Embedding = []float32{1, 0}
	require.NoError(t, store.Insert(ctx, existing))

	incoming := signedListing("m2bomber", "D2", "Київ", "вул. Шевченка, 12", "050 123 45 67", 50500, 62)
	incoming.Embedding = []float32{0.81, 0.5864}

	match, err := newDedup(store).Match(ctx, incoming)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionMerge, match.Decision)
	assert.Equal(t, existing.ID, match.CandidateID)
	assert.True(t, match.Fired(models.SignalPhone))
	assert.True(t, match.Fired(models.SignalAddress))
	assert.True(t, match.Fired(models.SignalEmbedding))
	assert.False(t, match.NeedsReview)
	assert.InDelta(t, 1.0, match.Score, 0.001)
	assert.InDelta(t, 0.81, match.Cosine, 0.001)
}

func TestDedupAmbiguousBandFlagsReview(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	// Phone + address + price agree but area differs: 0.90, inside the
	// review band. The record stays a distinct listing, flagged.
	existing := signedListing("olx", "B1", "Київ", "вул. Зелена 5", "+380671112233", 40000, 45)
	require.NoError(t, store.Insert(ctx, existing))

	incoming := signedListing("m2bomber", "B2", "Київ", "вул. Зелена 5", "+380671112233", 40000, 90)
	match, err := newDedup(store).Match(ctx, incoming)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionNew, match.Decision)
	assert.True(t, match.NeedsReview)
	assert.InDelta(t, 0.90, match.Score, 0.001)
}

func TestDedupUnrelatedListingIsNew(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	existing := signedListing("olx", "C1", "Київ", "вул. Зелена 5", "+380671112233", 40000, 45)
	require.NoError(t, store.Insert(ctx, existing))

	incoming := signedListing("m2bomber", "C2", "Львів", "вул. Личаківська 80", "+380937775511", 90000, 120)
	match, err := newDedup(store).Match(ctx, incoming)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionNew, match.Decision)
	assert.False(t, match.NeedsReview)
}

func TestDedupEmbeddingBlendsIntoScore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	existing := signedListing("olx", "D1", "Київ", "вул. Шевченка 12", "+380501234567", 50000, 62)
	existing.Embedding = []float32{1, 0, 0}
	require.NoError(t, store.Insert(ctx, existing))

	incoming := signedListing("m2bomber", "D2", "Київ", "вул. Шевченка 12", "+380501234567", 50000, 62)
	incoming.Embedding = []float32{1, 0, 0}

	match, err := newDedup(store).Match(ctx, incoming)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionMerge, match.Decision)
	assert.False(t, match.Degraded)
	assert.True(t, match.Fired(models.SignalEmbedding))
	assert.InDelta(t, 1.0, match.Score, 0.001)
	assert.InDelta(t, 1.0, match.Cosine, 0.001)
}

func TestDedupTieBreakPrefersVerified(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	plain := signedListing("olx", "E1", "Київ", "вул. Миру 3", "+380661234567", 30000, 50)
	verified := signedListing("olx", "E2", "Київ", "вул. Миру 3", "+380661234567", 30000, 50)
	verified.IsVerified = true
	require.NoError(t, store.Insert(ctx, plain))
	require.NoError(t, store.Insert(ctx, verified))

	incoming := signedListing("m2bomber", "E3", "Київ", "вул. Миру 3", "+380661234567", 30000, 50)
	match, err := newDedup(store).Match(ctx, incoming)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionMerge, match.Decision)
	assert.Equal(t, verified.ID, match.CandidateID)
}

func TestApplyMergeFoldsSourcesAndVerifies(t *testing.T) {
	target := signedListing("olx", "F1", "Київ", "вул. Шевченка 12", "+380501234567", 50000, 62)
	target.Media.Photos = []string{"a.jpg", "b.jpg"}
	target.LastChecked = time.Now().Add(-time.Hour)

	incoming := signedListing("m2bomber", "F2", "Київ", "вулиця Шевченка 12", "+380501234567", 50500, 62)
	incoming.Description = "Довший і детальніший опис, ніж у цілі"
	incoming.Media.Photos = []string{"b.jpg", "c.jpg"}
	incoming.Location.Coordinates = &models.Coordinates{Lat: 50.45, Lon: 30.52}
	incoming.LastChecked = time.Now()

	ApplyMerge(target, incoming)

	// Both source ids now resolve to the target.
	assert.True(t, target.HasSourceRef(models.ExternalID{Platform: "olx", SourceID: "F1"}))
	assert.True(t, target.HasSourceRef(models.ExternalID{Platform: "m2bomber", SourceID: "F2"}))

	// Fresher scrape wins price; photos union without duplicates.
	assert.Equal(t, 50500.0, target.Price.Amount)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, target.Media.Photos)
	assert.Equal(t, incoming.Description, target.Description)
	assert.NotNil(t, target.Location.Coordinates)

	// Two distinct platforms corroborate the unit.
	assert.True(t, target.IsVerified)

	// Merging the same source again changes nothing.
	refs := len(target.SourceRefs)
	ApplyMerge(target, incoming)
	assert.Len(t, target.SourceRefs, refs)
}
