package services

import "testing"

func TestNormalizeAddressFoldsVariants(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"вул. Шевченка, 12", "вулиця Шевченка 12"},
		{"Просп. Перемоги 1", "проспект перемоги 1"},
		{"Shevchenka St.", "shevchenka street"},
		{"  вул.   Зелена,5 ", "вулиця зелена 5"},
	}

	for _, tt := range tests {
		if NormalizeAddress(tt.a) != NormalizeAddress(tt.b) {
			t.Errorf("NormalizeAddress(%q) = %q, NormalizeAddress(%q) = %q; want equal",
				tt.a, NormalizeAddress(tt.a), tt.b, NormalizeAddress(tt.b))
		}
	}
}

func TestAddressHash(t *testing.T) {
	a := AddressHash("Київ", "вул. Шевченка, 12")
	b := AddressHash("Київ", "вулиця Шевченка 12")
	if a == 0 || a != b {
		t.Errorf("equivalent addresses hash differently: %d vs %d", a, b)
	}

	if AddressHash("Київ", "вул. Шевченка, 12") == AddressHash("Львів", "вул. Шевченка, 12") {
		t.Error("same street in different cities collided")
	}

	// No address at all must never match anything.
	if AddressHash("", "") != 0 {
		t.Error("empty address produced a non-zero hash")
	}
}

func TestPhoneFingerprint(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"+380501234567", "501234567"},
		{"0501234567", "501234567"},
		{"501234567", "501234567"},
		{"123456", ""}, // too short to identify anyone
		{"", ""},
	}

	for _, tt := range tests {
		if got := PhoneFingerprint(tt.raw); got != tt.want {
			t.Errorf("PhoneFingerprint(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestPriceBucketTolerance(t *testing.T) {
	// Prices within ~5% land in the same or adjacent bucket.
	if !bucketsAdjacent(PriceBucket(50000), PriceBucket(50500)) {
		t.Error("50000 and 50500 should bucket-match")
	}
	if !bucketsAdjacent(PriceBucket(50000), PriceBucket(52000)) {
		t.Error("50000 and 52000 should bucket-match")
	}
	// Far apart prices must not.
	if bucketsAdjacent(PriceBucket(50000), PriceBucket(80000)) {
		t.Error("50000 and 80000 should not bucket-match")
	}
	// Zero is the no-data bucket and never matches, not even itself.
	if bucketsAdjacent(PriceBucket(0), PriceBucket(0)) {
		t.Error("missing prices must not match each other")
	}
}

func TestContentHashStability(t *testing.T) {
	a := ContentHash("Квартира", "Опис", "Київ", "вул. Шевченка 12", 50000, 62)
	b := ContentHash("Квартира", "Опис", "Київ", "вулиця Шевченка 12", 50000, 62)
	if a != b {
		t.Error("address variants changed the content hash")
	}

	c := ContentHash("Квартира", "Опис", "Київ", "вул. Шевченка 12", 51000, 62)
	if a == c {
		t.Error("price change did not change the content hash")
	}
}
