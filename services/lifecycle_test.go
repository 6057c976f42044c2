package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/storage"
)

func newLifecycle(store storage.ListingStore) *LifecycleManager {
	return NewLifecycleManager(store, testConfig().Lifecycle, newTestLogger())
}

func TestLifecycleMissFlipsAfterThreshold(t *testing.T) {
	m := newLifecycle(storage.NewMemoryStore())
	l := signedListing("olx", "L1", "Київ", "вул. Миру 1", "+380501112233", 40000, 50)

	assert.False(t, m.Miss(l))
	assert.False(t, m.Miss(l))
	assert.Equal(t, models.StateActive, l.State)

	// Third consecutive miss crosses the threshold.
	assert.True(t, m.Miss(l))
	assert.Equal(t, models.StateInactive, l.State)
	assert.False(t, l.IsActive)

	// Further misses on an inactive listing are no-ops.
	assert.False(t, m.Miss(l))
}

func TestLifecycleConfirmResetsAndReactivates(t *testing.T) {
	m := newLifecycle(storage.NewMemoryStore())
	l := signedListing("olx", "L2", "Київ", "вул. Миру 2", "+380501112234", 40000, 50)
	l.State = models.StateInactive
	l.IsActive = false
	l.MissedChecks = 3
	l.LastChecked = time.Now().Add(-time.Hour)

	checked := time.Now()
	m.Confirm(l, checked)

	assert.Equal(t, models.StateActive, l.State)
	assert.True(t, l.IsActive)
	assert.Zero(t, l.MissedChecks)
	assert.Equal(t, checked, l.LastChecked)
}

func TestLifecycleConfirmNeverRewindsLastChecked(t *testing.T) {
	m := newLifecycle(storage.NewMemoryStore())
	l := signedListing("olx", "L3", "Київ", "вул. Миру 3", "+380501112235", 40000, 50)
	recent := l.LastChecked

	m.Confirm(l, recent.Add(-time.Hour))
	assert.Equal(t, recent, l.LastChecked)
}

func TestLifecycleVerifiedSurvivesStaleness(t *testing.T) {
	m := newLifecycle(storage.NewMemoryStore())
	l := signedListing("olx", "L4", "Київ", "вул. Миру 4", "+380501112236", 40000, 50)
	l.IsVerified = true

	for i := 0; i < 5; i++ {
		m.Miss(l)
	}
	assert.Equal(t, models.StateInactive, l.State)
	assert.True(t, l.IsVerified, "is_verified is sticky across state changes")
}

func TestLifecycleSweepStale(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := newLifecycle(store)

	stale := signedListing("olx", "S1", "Київ", "вул. Сира 1", "+380502223344", 35000, 44)
	stale.MissedChecks = 2
	stale.LastChecked = time.Now().Add(-time.Hour)
	require.NoError(t, store.Insert(ctx, stale))

	fresh := signedListing("olx", "S2", "Київ", "вул. Сира 2", "+380502223345", 35000, 44)
	fresh.LastChecked = time.Now().Add(time.Minute)
	require.NoError(t, store.Insert(ctx, fresh))

	otherPlatform := signedListing("m2bomber", "S3", "Київ", "вул. Сира 3", "+380502223346", 35000, 44)
	otherPlatform.LastChecked = time.Now().Add(-time.Hour)
	require.NoError(t, store.Insert(ctx, otherPlatform))

	expired, err := m.SweepStale(ctx, "olx", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := store.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInactive, got.State)

	got, err = store.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, got.State)

	// The sweep is per platform; the other source's listing only missed
	// its own cycle, not this one.
	got, err = store.GetByID(ctx, otherPlatform.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, got.State)
	assert.Equal(t, 0, got.MissedChecks)
}

func TestLifecycleArchivesOnlyUnlinkedListings(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := newLifecycle(store)

	old := signedListing("olx", "A1", "Київ", "вул. Давня 1", "+380503334455", 20000, 33)
	old.State = models.StateInactive
	old.IsActive = false
	old.LastChecked = time.Now().Add(-120 * 24 * time.Hour)
	require.NoError(t, store.Insert(ctx, old))

	linked := signedListing("olx", "A2", "Київ", "вул. Давня 2", "+380503334456", 20000, 33)
	linked.State = models.StateInactive
	linked.IsActive = false
	linked.LastChecked = time.Now().Add(-120 * 24 * time.Hour)
	linked.PropertyID = "prop-1"
	require.NoError(t, store.Insert(ctx, linked))

	archived, err := m.SweepArchivable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	_, err = store.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The promoted listing keeps its id forever.
	_, err = store.GetByID(ctx, linked.ID)
	assert.NoError(t, err)
}
