package storage

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martyniukyurii/KovchegBackend/models"
)

// MemoryStore is an in-memory ListingStore + Catalog used in tests and
// as an explicit stand-in for the real database. All methods are safe
// for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	listings   map[string]*models.CanonicalListing
	byExternal map[models.ExternalID]string
	properties map[string]*models.PropertyEntry

	// FailPromotions makes the next N CreateFromListing calls fail before
	// anything is written, to exercise rollback and retry paths.
	FailPromotions int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings:   make(map[string]*models.CanonicalListing),
		byExternal: make(map[models.ExternalID]string),
		properties: make(map[string]*models.PropertyEntry),
	}
}

func copyListing(l *models.CanonicalListing) *models.CanonicalListing {
	c := *l
	c.SourceRefs = append([]models.ExternalID(nil), l.SourceRefs...)
	c.Embedding = append([]float32(nil), l.Embedding...)
	return &c
}

// Insert adds a new listing, enforcing the (platform, source id)
// uniqueness invariant across all aliases.
func (s *MemoryStore) Insert(ctx context.Context, l *models.CanonicalListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ref := range l.SourceRefs {
		if _, taken := s.byExternal[ref]; taken {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, ref.Platform, ref.SourceID)
		}
	}
	if _, exists := s.listings[l.ID]; exists {
		return fmt.Errorf("listing %s already exists", l.ID)
	}

	s.listings[l.ID] = copyListing(l)
	for _, ref := range l.SourceRefs {
		s.byExternal[ref] = l.ID
	}
	return nil
}

// Update replaces a stored listing and re-registers its aliases.
func (s *MemoryStore) Update(ctx context.Context, l *models.CanonicalListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.listings[l.ID]
	if !ok {
		return ErrNotFound
	}
	for _, ref := range l.SourceRefs {
		if owner, taken := s.byExternal[ref]; taken && owner != l.ID {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, ref.Platform, ref.SourceID)
		}
	}
	for _, ref := range old.SourceRefs {
		delete(s.byExternal, ref)
	}
	s.listings[l.ID] = copyListing(l)
	for _, ref := range l.SourceRefs {
		s.byExternal[ref] = l.ID
	}
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.CanonicalListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyListing(l), nil
}

func (s *MemoryStore) FindByExternalID(ctx context.Context, ext models.ExternalID) (*models.CanonicalListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[ext]
	if !ok {
		return nil, ErrNotFound
	}
	return copyListing(s.listings[id]), nil
}

func (s *MemoryStore) FindByAddressHash(ctx context.Context, hash uint64) ([]*models.CanonicalListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CanonicalListing
	for _, l := range s.listings {
		if l.AddressHash == hash && hash != 0 {
			out = append(out, copyListing(l))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByPhoneFingerprint(ctx context.Context, fp string) ([]*models.CanonicalListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CanonicalListing
	for _, l := range s.listings {
		if fp != "" && l.PhoneFingerprint == fp {
			out = append(out, copyListing(l))
		}
	}
	return out, nil
}

func (s *MemoryStore) NearestByEmbedding(ctx context.Context, city string, vec []float32, floor float64, limit int) ([]*models.CanonicalListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		l   *models.CanonicalListing
		sim float64
	}
	var hits []scored
	for _, l := range s.listings {
		if city != "" && l.Location.City != city {
			continue
		}
		sim := models.CosineSimilarity(vec, l.Embedding)
		if sim >= floor {
			hits = append(hits, scored{copyListing(l), sim})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*models.CanonicalListing, len(hits))
	for i, h := range hits {
		out[i] = h.l
	}
	return out, nil
}

func (s *MemoryStore) ListCheckedBefore(ctx context.Context, platform string, cutoff time.Time) ([]*models.CanonicalListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CanonicalListing
	for _, l := range s.listings {
		if len(l.SourceRefs) > 0 && l.SourceRefs[0].Platform == platform && l.LastChecked.Before(cutoff) {
			out = append(out, copyListing(l))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListArchivable(ctx context.Context, cutoff time.Time) ([]*models.CanonicalListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CanonicalListing
	for _, l := range s.listings {
		if !l.IsActive && l.PropertyID == "" && l.LastChecked.Before(cutoff) {
			out = append(out, copyListing(l))
		}
	}
	return out, nil
}

// Archive removes an unlinked listing; linked listings keep their id.
func (s *MemoryStore) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return ErrNotFound
	}
	if l.PropertyID != "" {
		return fmt.Errorf("listing %s is linked to property %s", id, l.PropertyID)
	}
	for _, ref := range l.SourceRefs {
		delete(s.byExternal, ref)
	}
	delete(s.listings, id)
	return nil
}

// CreateFromListing promotes atomically: on the injected failure nothing
// is left behind, mirroring the SQL transaction of the real store.
func (s *MemoryStore) CreateFromListing(ctx context.Context, l *models.CanonicalListing) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.listings[l.ID]
	if !ok {
		return "", ErrNotFound
	}
	// Mirrors the SQL guard: a listing already promoted is not promotable.
	if stored.ImportedToProperties {
		return "", fmt.Errorf("listing %s not promotable", l.ID)
	}
	if s.FailPromotions > 0 {
		s.FailPromotions--
		return "", fmt.Errorf("injected promotion failure")
	}

	now := time.Now().UTC()
	entry := &models.PropertyEntry{
		ID:              uuid.New().String(),
		ParsedListingID: l.ID,
		Title:           l.Title,
		Description:     l.Description,
		PropertyType:    l.PropertyType,
		Price:           l.Price,
		Location:        l.Location,
		Features:        l.Features,
		Photos:          append([]string(nil), l.Media.Photos...),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.properties[entry.ID] = entry

	stored.ImportedToProperties = true
	stored.PropertyID = entry.ID
	return entry.ID, nil
}

func (s *MemoryStore) UpdateEntry(ctx context.Context, propertyID string, delta *models.PropertyDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.properties[propertyID]
	if !ok {
		return ErrNotFound
	}
	changed := false
	if delta.Price != nil && *delta.Price != entry.Price {
		entry.Price = *delta.Price
		changed = true
	}
	if delta.IsActive != nil && *delta.IsActive != entry.IsActive {
		entry.IsActive = *delta.IsActive
		changed = true
	}
	if delta.Features != nil && !reflect.DeepEqual(*delta.Features, entry.Features) {
		entry.Features = *delta.Features
		changed = true
	}
	if len(delta.Photos) > 0 && !reflect.DeepEqual(delta.Photos, entry.Photos) {
		entry.Photos = append([]string(nil), delta.Photos...)
		changed = true
	}
	if changed {
		entry.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) GetEntry(ctx context.Context, propertyID string) (*models.PropertyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.properties[propertyID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *entry
	c.Photos = append([]string(nil), entry.Photos...)
	return &c, nil
}

func (s *MemoryStore) Exists(ctx context.Context, propertyID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.properties[propertyID]
	return ok, nil
}

// ListingCount reports how many listings the store holds.
func (s *MemoryStore) ListingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}

// PropertyCount reports how many catalog entries the store holds.
func (s *MemoryStore) PropertyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.properties)
}
