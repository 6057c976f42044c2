package models

import "time"

// RawRecord holds an unprocessed listing exactly as a source adapter
// produced it. It is ephemeral: once normalization succeeds (or its
// failure is logged) the record is discarded.
type RawRecord struct {
	Platform  string
	SourceID  string
	URL       string
	FetchedAt time.Time

	// Opaque payload as received; field presence varies per platform.
	Title       string
	Description string
	RawPrice    string
	RawLocation string
	RawArea     string
	RawRooms    string
	RawFloor    string
	Phone       string
	ContactName string
	Email       string
	ImageURLs   []string
	VideoURLs   []string
	Tags        []string
	PostedAt    string

	// Map coordinates when the source page exposes them; zero means absent.
	Lat float64
	Lon float64
}

// ExternalID identifies a listing on one source platform.
// (Platform, SourceID) pairs are unique across the whole store.
type ExternalID struct {
	Platform string
	SourceID string
}

// Money is an amount in a single currency.
type Money struct {
	Amount   float64
	Currency string
}

// RentPrice is a rental amount with its billing period ("month", "day").
type RentPrice struct {
	Amount   float64
	Currency string
	Period   string
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Location describes where the unit is.
type Location struct {
	Address     string
	City        string
	Region      string
	PostalCode  string
	Country     string
	Coordinates *Coordinates
}

// Features holds the unit's physical attributes.
type Features struct {
	Bedrooms    int
	Bathrooms   int
	Area        float64
	LandArea    float64
	Floors      int
	YearBuilt   int
	HeatingType string
	Amenities   []string
}

// Media holds photo/video references for a listing.
type Media struct {
	Photos         []string
	Videos         []string
	VirtualTourURL string
}

// ContactInfo is the advertiser's contact block.
type ContactInfo struct {
	Name  string
	Phone string
	Email string
}

// Lifecycle states for a canonical listing.
const (
	StateNew      = "new"
	StateActive   = "active"
	StateInactive = "inactive"
)

// CanonicalListing is the normalized, source-agnostic representation of
// one scraped posting. Identity is the UUID; SourceRefs carries every
// (platform, source id) pair that resolved to this listing via merges,
// with SourceRefs[0] being the primary one.
type CanonicalListing struct {
	ID         string
	SourceRefs []ExternalID

	Title        string
	Description  string
	Price        Money
	RentPrice    *RentPrice
	PropertyType string
	Location     Location
	Features     Features
	Media        Media
	ContactInfo  ContactInfo

	State        string
	MissedChecks int
	ParsedAt     time.Time
	LastChecked  time.Time
	IsActive     bool
	IsVerified   bool
	NeedsReview  bool

	ImportedToProperties bool
	PropertyID           string

	// Signatures derived from the listing body; recomputed on every
	// normalization pass, deterministic for identical input.
	AddressHash      uint64
	PhoneFingerprint string
	PriceBucket      int
	AreaBucket       int
	ContentHash      uint64
	Embedding        []float32

	// Raw payload retained for audit and re-normalization.
	RawData *RawRecord
}

// HasSourceRef reports whether ext already resolves to this listing.
func (l *CanonicalListing) HasSourceRef(ext ExternalID) bool {
	for _, ref := range l.SourceRefs {
		if ref == ext {
			return true
		}
	}
	return false
}

// DistinctPlatforms returns how many different source platforms have
// corroborated this listing.
func (l *CanonicalListing) DistinctPlatforms() int {
	seen := make(map[string]struct{}, len(l.SourceRefs))
	for _, ref := range l.SourceRefs {
		seen[ref.Platform] = struct{}{}
	}
	return len(seen)
}

// PropertyDelta carries the material changes propagated to an already
// promoted catalog entry. Applying the same delta twice is a no-op.
type PropertyDelta struct {
	Price    *Money
	IsActive *bool
	Features *Features
	Photos   []string
}

// Empty reports whether the delta would change nothing.
func (d *PropertyDelta) Empty() bool {
	return d.Price == nil && d.IsActive == nil && d.Features == nil && len(d.Photos) == 0
}

// PropertyEntry is the catalog-side projection of a promoted listing.
// The catalog owns richer state; the pipeline only reads/writes this slice.
type PropertyEntry struct {
	ID              string
	ParsedListingID string
	Title           string
	Description     string
	PropertyType    string
	Price           Money
	Location        Location
	Features        Features
	Photos          []string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
