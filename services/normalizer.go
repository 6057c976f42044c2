package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/martyniukyurii/KovchegBackend/config"
	"github.com/martyniukyurii/KovchegBackend/models"
)

var (
	// priceRegexps are tried in order; the first hit wins and fixes the currency.
	priceRegexps = []struct {
		re       *regexp.Regexp
		currency string
	}{
		{regexp.MustCompile(`\$\s*([\d\s,.]+)`), "USD"},
		{regexp.MustCompile(`([\d\s,.]+)\s*(?:USD|у\.о\.)`), "USD"},
		{regexp.MustCompile(`€\s*([\d\s,.]+)`), "EUR"},
		{regexp.MustCompile(`([\d\s,.]+)\s*EUR`), "EUR"},
		{regexp.MustCompile(`([\d\s,.]+)\s*(?:грн|UAH|₴)`), "UAH"},
		{regexp.MustCompile(`([\d\s,.]+)`), ""},
	}

	areaRegexp  = regexp.MustCompile(`([\d.,]+)\s*(?:м²|м2|m²|m2|кв\.?\s*м|sq\.?\s*ft)`)
	sqftRegexp  = regexp.MustCompile(`sq\.?\s*ft`)
	roomsRegexp = regexp.MustCompile(`(\d+)\s*(?:кімн|комн|room|к\.)`)
	floorRegexp = regexp.MustCompile(`(\d+)\s*(?:поверх|этаж|floor)`)
	yearRegexp  = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	digitRegexp = regexp.MustCompile(`\D`)

	rentMarkers = []string{"оренда", "аренда", "rent", "/міс", "/мес", "per month", "здам"}
)

const sqftToM2 = 0.092903

// Normalizer maps RawRecords into canonical listings. It is a pure
// function of the record plus static per-source configuration, so
// re-processing the same record is deterministic.
type Normalizer struct {
	cfg *config.Config
}

// NewNormalizer creates a Normalizer over the per-source config tables.
func NewNormalizer(cfg *config.Config) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Normalize produces a canonical listing or a NormalizationError. A
// record missing all of price, location and contact info is rejected as
// unnormalizable.
func (n *Normalizer) Normalize(r *models.RawRecord) (*models.CanonicalListing, error) {
	src := n.cfg.Source(r.Platform)
	if src == nil {
		return nil, &NormalizationError{
			Platform: r.Platform, SourceID: r.SourceID,
			Err: fmt.Errorf("unknown source platform %q", r.Platform),
		}
	}

	price := n.parsePrice(r.RawPrice, src.CurrencyDefault)
	location := n.parseLocation(r.RawLocation)
	if r.Lat != 0 || r.Lon != 0 {
		location.Coordinates = &models.Coordinates{Lat: r.Lat, Lon: r.Lon}
	}
	phone := NormalizePhone(r.Phone)

	hasContact := phone != "" || r.Email != "" || r.ContactName != ""
	if price.Amount == 0 && location.Address == "" && location.City == "" && !hasContact {
		return nil, &NormalizationError{
			Platform: r.Platform, SourceID: r.SourceID,
			Err: ErrInsufficientData,
		}
	}

	l := &models.CanonicalListing{
		ID:           uuid.New().String(),
		SourceRefs:   []models.ExternalID{{Platform: r.Platform, SourceID: r.SourceID}},
		Title:        normaliseText(r.Title),
		Description:  normaliseText(r.Description),
		Price:        price,
		PropertyType: n.propertyType(r),
		Location:     location,
		Features: models.Features{
			Bedrooms:  parseInt(roomsRegexp, r.RawRooms),
			Area:      n.parseArea(r.RawArea, src.AreaUnit),
			Floors:    parseInt(floorRegexp, r.RawFloor),
			YearBuilt: parseYear(r.Description),
			Amenities: cleanTags(r.Tags),
		},
		Media: models.Media{
			Photos: r.ImageURLs,
			Videos: r.VideoURLs,
		},
		ContactInfo: models.ContactInfo{
			Name:  normaliseText(r.ContactName),
			Phone: phone,
			Email: strings.ToLower(strings.TrimSpace(r.Email)),
		},
		State:       models.StateNew,
		ParsedAt:    r.FetchedAt,
		LastChecked: r.FetchedAt,
		IsActive:    true,
		RawData:     r,
	}

	if n.isRental(r) {
		l.RentPrice = &models.RentPrice{
			Amount:   price.Amount,
			Currency: price.Currency,
			Period:   "month",
		}
	}

	return l, nil
}

// parsePrice extracts the amount and currency from a raw price string.
// When no currency marker is present the source default applies. The
// amount is also converted to the source default currency through the
// static rate table so cross-source comparisons see one currency.
func (n *Normalizer) parsePrice(raw, currencyDefault string) models.Money {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Money{Currency: currencyDefault}
	}

	for _, p := range priceRegexps {
		m := p.re.FindStringSubmatch(raw)
		if len(m) < 2 {
			continue
		}
		num := strings.NewReplacer(" ", "", " ", "", ",", "").Replace(m[1])
		num = strings.TrimRight(num, ".")
		amount, err := strconv.ParseFloat(num, 64)
		if err != nil || amount <= 0 {
			continue
		}
		currency := p.currency
		if currency == "" {
			currency = currencyDefault
		}
		return models.Money{
			Amount:   n.convert(amount, currency, currencyDefault),
			Currency: currencyDefault,
		}
	}
	return models.Money{Currency: currencyDefault}
}

// convert moves amount from one currency to another through UAH using
// the static rate table. Unknown currencies pass through unchanged.
func (n *Normalizer) convert(amount float64, from, to string) float64 {
	if from == to {
		return amount
	}
	fromRate, okFrom := n.cfg.RatesUAH[from]
	toRate, okTo := n.cfg.RatesUAH[to]
	if !okFrom || !okTo || toRate == 0 {
		return amount
	}
	return amount * fromRate / toRate
}

func (n *Normalizer) parseArea(raw, unit string) float64 {
	m := areaRegexp.FindStringSubmatch(raw)
	if len(m) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0
	}
	if unit == "sqft" || sqftRegexp.MatchString(raw) {
		v *= sqftToM2
	}
	return v
}

// parseLocation splits "Київ, Шевченківський, вул. Хрещатик 12" into
// city and address. A single segment is treated as the city.
func (n *Normalizer) parseLocation(raw string) models.Location {
	raw = normaliseText(raw)
	if raw == "" {
		return models.Location{}
	}
	parts := strings.SplitN(raw, ",", 2)
	loc := models.Location{City: strings.TrimSpace(parts[0]), Country: "Україна"}
	if len(parts) == 2 {
		loc.Address = strings.TrimSpace(parts[1])
	}
	return loc
}

func (n *Normalizer) propertyType(r *models.RawRecord) string {
	haystack := strings.ToLower(r.Title + " " + strings.Join(r.Tags, " "))
	switch {
	case strings.Contains(haystack, "квартир") || strings.Contains(haystack, "apartment"):
		return "apartment"
	case strings.Contains(haystack, "будин") || strings.Contains(haystack, "дом") || strings.Contains(haystack, "house"):
		return "house"
	case strings.Contains(haystack, "ділянк") || strings.Contains(haystack, "участок") || strings.Contains(haystack, "land"):
		return "land"
	case strings.Contains(haystack, "комерц") || strings.Contains(haystack, "офіс") || strings.Contains(haystack, "commercial"):
		return "commercial"
	default:
		return "apartment"
	}
}

func (n *Normalizer) isRental(r *models.RawRecord) bool {
	haystack := strings.ToLower(r.Title + " " + r.RawPrice + " " + strings.Join(r.Tags, " "))
	for _, marker := range rentMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// NormalizePhone reduces a phone number to +380XXXXXXXXX form where
// possible. Non-Ukrainian numbers keep their digits with a leading plus.
func NormalizePhone(raw string) string {
	digits := digitRegexp.ReplaceAllString(raw, "")
	if digits == "" {
		return ""
	}
	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		return "+380" + digits[1:]
	case len(digits) == 12 && strings.HasPrefix(digits, "380"):
		return "+" + digits
	case len(digits) == 9:
		return "+380" + digits
	default:
		return "+" + digits
	}
}

func parseInt(re *regexp.Regexp, raw string) int {
	m := re.FindStringSubmatch(raw)
	if len(m) < 2 {
		// Bare numbers are accepted too ("3" for rooms).
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0
		}
		return v
	}
	v, _ := strconv.Atoi(m[1])
	return v
}

func parseYear(description string) int {
	m := yearRegexp.FindStringSubmatch(description)
	if len(m) < 2 {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

func cleanTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = normaliseText(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
