package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/martyniukyurii/KovchegBackend/models"
)

func listing(platform, sourceID string) *models.CanonicalListing {
	return &models.CanonicalListing{
		ID:          uuid.New().String(),
		SourceRefs:  []models.ExternalID{{Platform: platform, SourceID: sourceID}},
		Title:       "Тестова квартира",
		Price:       models.Money{Amount: 50000, Currency: "USD"},
		Location:    models.Location{City: "Київ", Address: "вул. Тестова 1"},
		State:       models.StateActive,
		IsActive:    true,
		LastChecked: time.Now().UTC(),
	}
}

func TestMemoryStoreUniqueExternalID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := listing("olx", "X1")
	if err := s.Insert(ctx, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// A second listing claiming the same (platform, source id) is refused.
	b := listing("olx", "X1")
	if err := s.Insert(ctx, b); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Insert duplicate: err = %v; want ErrDuplicateKey", err)
	}

	// Same source id on another platform is a different posting.
	c := listing("m2bomber", "X1")
	if err := s.Insert(ctx, c); err != nil {
		t.Fatalf("Insert cross-platform: %v", err)
	}
}

func TestMemoryStoreAliasesResolveAfterMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	l := listing("olx", "Y1")
	if err := s.Insert(ctx, l); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// A merge adds the second platform's id as an alias.
	l.SourceRefs = append(l.SourceRefs, models.ExternalID{Platform: "m2bomber", SourceID: "Y2"})
	if err := s.Update(ctx, l); err != nil {
		t.Fatalf("Update: %v", err)
	}

	for _, ext := range l.SourceRefs {
		got, err := s.FindByExternalID(ctx, ext)
		if err != nil {
			t.Fatalf("FindByExternalID(%v): %v", ext, err)
		}
		if got.ID != l.ID {
			t.Errorf("alias %v resolved to %s; want %s", ext, got.ID, l.ID)
		}
	}

	// The alias is now taken: no other listing may claim it.
	thief := listing("m2bomber", "Y2")
	if err := s.Insert(ctx, thief); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("Insert over an alias: err = %v; want ErrDuplicateKey", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	l := listing("olx", "Z1")
	if err := s.Insert(ctx, l); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, _ := s.GetByID(ctx, l.ID)
	got.Title = "mutated"

	again, _ := s.GetByID(ctx, l.ID)
	if again.Title != "Тестова квартира" {
		t.Error("store handed out its internal listing instead of a copy")
	}
}

func TestMemoryStoreNearestByEmbedding(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	near := listing("olx", "N1")
	near.Embedding = []float32{1, 0}
	far := listing("olx", "N2")
	far.Embedding = []float32{0, 1}
	otherCity := listing("olx", "N3")
	otherCity.Embedding = []float32{1, 0}
	otherCity.Location.City = "Львів"

	for _, l := range []*models.CanonicalListing{near, far, otherCity} {
		if err := s.Insert(ctx, l); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	hits, err := s.NearestByEmbedding(ctx, "Київ", []float32{1, 0}, 0.8, 10)
	if err != nil {
		t.Fatalf("NearestByEmbedding: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != near.ID {
		t.Errorf("hits = %d; want only the near same-city listing", len(hits))
	}
}

func TestMemoryStoreArchiveRefusesLinked(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	l := listing("olx", "R1")
	l.PropertyID = "prop-1"
	if err := s.Insert(ctx, l); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.Archive(ctx, l.ID); err == nil {
		t.Fatal("Archive removed a listing linked to a property")
	}
	if _, err := s.GetByID(ctx, l.ID); err != nil {
		t.Errorf("linked listing gone after refused archive: %v", err)
	}
}

func TestMemoryStorePromotionIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	l := listing("olx", "P1")
	if err := s.Insert(ctx, l); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	s.FailPromotions = 1
	if _, err := s.CreateFromListing(ctx, l); err == nil {
		t.Fatal("expected injected failure")
	}
	if s.PropertyCount() != 0 {
		t.Error("failed promotion left a property behind")
	}
	stored, _ := s.GetByID(ctx, l.ID)
	if stored.ImportedToProperties {
		t.Error("failed promotion marked the listing imported")
	}

	propertyID, err := s.CreateFromListing(ctx, l)
	if err != nil {
		t.Fatalf("CreateFromListing: %v", err)
	}
	stored, _ = s.GetByID(ctx, l.ID)
	if !stored.ImportedToProperties || stored.PropertyID != propertyID {
		t.Error("promotion did not link listing and property")
	}
}

func TestMemoryStoreRefusesSecondPromotion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	l := listing("olx", "P2")
	if err := s.Insert(ctx, l); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.CreateFromListing(ctx, l); err != nil {
		t.Fatalf("CreateFromListing: %v", err)
	}

	// A promoted listing is not promotable again, matching the SQL guard.
	if _, err := s.CreateFromListing(ctx, l); err == nil {
		t.Fatal("second promotion of the same listing succeeded")
	}
	if s.PropertyCount() != 1 {
		t.Errorf("PropertyCount = %d; want 1", s.PropertyCount())
	}
}
