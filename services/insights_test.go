package services

import (
	"testing"

	"github.com/martyniukyurii/KovchegBackend/models"
)

func TestInsightsObserveListing(t *testing.T) {
	s := NewInsightService(newTestLogger())
	r := s.NewReport("olx")

	with := signedListing("olx", "I1", "Київ", "вул. Статистична 1", "+380505556677", 45000, 55)
	with.PropertyType = "apartment"
	s.ObserveListing(r, with)

	without := &models.CanonicalListing{PropertyType: "house"}
	s.ObserveListing(r, without)

	cheap := signedListing("olx", "I2", "Львів", "вул. Статистична 2", "+380505556678", 15000, 30)
	cheap.PropertyType = "apartment"
	s.ObserveListing(r, cheap)

	if r.WithPhone != 2 || r.WithLocation != 2 {
		t.Errorf("coverage = phone %d location %d; want 2/2", r.WithPhone, r.WithLocation)
	}
	if r.PriceCount != 2 || r.PriceMin != 15000 || r.PriceMax != 45000 {
		t.Errorf("price stats = count %d min %.0f max %.0f", r.PriceCount, r.PriceMin, r.PriceMax)
	}
	if r.ByType["apartment"] != 2 || r.ByType["house"] != 1 {
		t.Errorf("ByType = %v", r.ByType)
	}
}

func TestInsightsSnapshotDrains(t *testing.T) {
	s := NewInsightService(newTestLogger())

	s.Commit(s.NewReport("olx"))
	s.Commit(s.NewReport("m2bomber"))

	got := s.Snapshot()
	if len(got) != 2 {
		t.Fatalf("Snapshot returned %d reports; want 2", len(got))
	}
	if len(s.Snapshot()) != 0 {
		t.Error("Snapshot did not drain the buffer")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"a very long property type", 14, "a very long..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q; want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
