package models

import "sync"

// Dedup decisions.
const (
	DecisionNew    = "new"
	DecisionMerge  = "merge"
	DecisionUpdate = "update"
)

// Signal names reported on a match.
const (
	SignalPhone       = "phone"
	SignalAddress     = "address"
	SignalPriceBucket = "price_bucket"
	SignalAreaBucket  = "area_bucket"
	SignalEmbedding   = "embedding"
	SignalSameSource  = "same_source"
)

// MatchCandidate is the transient result of one dedup lookup. It lives
// for a single decision cycle and is never persisted.
type MatchCandidate struct {
	CandidateID string
	Score       float64
	Cosine      float64
	Signals     []string
	Decision    string

	// Degraded is set when the embedding was unavailable and the score
	// came from signals alone.
	Degraded bool

	// NeedsReview is set for scores in the ambiguous band: the record is
	// created as a distinct listing but flagged for manual review.
	NeedsReview bool
}

// Fired reports whether a given signal contributed to the match.
func (m *MatchCandidate) Fired(signal string) bool {
	for _, s := range m.Signals {
		if s == signal {
			return true
		}
	}
	return false
}

// CycleReport aggregates what one re-scrape cycle did for one source.
// The external daily-task job consumes these as its catalog-delta view.
// Pipeline workers share one report per cycle; mutations go through the
// embedded lock.
type CycleReport struct {
	sync.Mutex

	Platform   string
	Fetched    int
	Normalized int
	Skipped    int
	Degraded   int
	Created    int
	Merged     int
	Updated    int
	Promoted   int
	Expired    int
	Reviews    int
	FetchFail  bool

	WithPhone    int
	WithLocation int
	PriceCount   int
	PriceSum     float64
	PriceMin     float64
	PriceMax     float64
	ByType       map[string]int
}
