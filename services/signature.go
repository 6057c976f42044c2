package services

import (
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var (
	addressPunct = regexp.MustCompile(`[.,;:/\\()"'#№-]`)

	// Street-type abbreviations folded to one canonical token so that
	// "вул. Шевченка" and "вулиця Шевченка" hash identically.
	addressAbbrevs = map[string]string{
		"вулиця":   "вул",
		"ул":       "вул",
		"улица":    "вул",
		"street":   "st",
		"str":      "st",
		"проспект": "просп",
		"пр-т":     "просп",
		"просп":    "просп",
		"avenue":   "ave",
		"av":       "ave",
		"провулок": "пров",
		"пер":      "пров",
		"бульвар":  "бул",
		"б-р":      "бул",
	}
)

// bucketTolerance is the quantization band for price and area buckets:
// values within ±5% of each other land in the same or adjacent bucket.
const bucketTolerance = 0.05

// NormalizeAddress lowers case, strips punctuation, folds street-type
// abbreviations and collapses whitespace, so textual variants of one
// address compare equal.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return ""
	}
	addr = addressPunct.ReplaceAllString(addr, " ")

	fields := strings.Fields(addr)
	for i, f := range fields {
		if canon, ok := addressAbbrevs[f]; ok {
			fields[i] = canon
		}
	}
	return strings.Join(fields, " ")
}

// AddressHash hashes the normalized city + address. Returns 0 when there
// is no address to hash, and 0 never matches anything.
func AddressHash(city, address string) uint64 {
	norm := NormalizeAddress(city) + "|" + NormalizeAddress(address)
	if norm == "|" {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(norm))
	return h.Sum64()
}

// PhoneFingerprint reduces a normalized phone to its significant tail so
// that "+380 50 123 45 67" and "0501234567" collide. Empty input yields
// an empty fingerprint which never matches.
func PhoneFingerprint(phone string) string {
	digits := digitRegexp.ReplaceAllString(phone, "")
	if len(digits) < 7 {
		return ""
	}
	if len(digits) > 9 {
		digits = digits[len(digits)-9:]
	}
	return digits
}

// PriceBucket quantizes a price into a log-scale band of width ~5%, so
// near-equal prices collide without exact equality. Zero prices get
// bucket 0 which never matches.
func PriceBucket(amount float64) int {
	return logBucket(amount)
}

// AreaBucket quantizes an area the same way as PriceBucket.
func AreaBucket(area float64) int {
	return logBucket(area)
}

func logBucket(v float64) int {
	if v <= 0 {
		return 0
	}
	return int(math.Floor(math.Log(v)/math.Log(1+bucketTolerance))) + 1
}

// bucketsAdjacent reports whether two buckets are equal or neighbours;
// the ±5% tolerance straddles bucket edges.
func bucketsAdjacent(a, b int) bool {
	if a == 0 || b == 0 {
		return false
	}
	d := a - b
	return d >= -1 && d <= 1
}

// ContentHash fingerprints the fields whose change warrants recomputing
// the embedding. Re-running the pipeline on unchanged raw data keeps the
// hash, the embedding, and therefore the catalog untouched.
func ContentHash(title, description, city, address string, priceAmount, area float64) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%.2f|%.2f",
		title, description, NormalizeAddress(city), NormalizeAddress(address), priceAmount, area)
	return h.Sum64()
}
