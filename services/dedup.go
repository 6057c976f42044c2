package services

import (
	"context"
	"fmt"

	"github.com/martyniukyurii/KovchegBackend/config"
	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/storage"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

// Signal weights. Phone agreement is the strongest evidence two postings
// describe one unit; bucket agreement alone is weak.
const (
	weightPhone = 0.45
	weightAddr  = 0.30
	weightPrice = 0.15
	weightArea  = 0.10

	// Blend between the signal half and the embedding half of the score.
	signalShare = 0.55
	cosineShare = 0.45

	candidateLimit = 10
)

// DedupEngine finds the best-matching existing listing for an incoming
// one and decides MERGE, NEW or UPDATE.
type DedupEngine struct {
	store  storage.ListingStore
	cfg    config.DedupConfig
	logger *utils.Logger
}

// NewDedupEngine creates a DedupEngine over the listing index.
func NewDedupEngine(store storage.ListingStore, cfg config.DedupConfig, logger *utils.Logger) *DedupEngine {
	return &DedupEngine{store: store, cfg: cfg, logger: logger}
}

// Match scores l against the existing index. The decision is UPDATE when
// the incoming (platform, source id) is already known, MERGE above the
// merge threshold, and NEW otherwise, flagged for review inside the
// ambiguous band. A missing embedding degrades to signal-only scoring.
func (d *DedupEngine) Match(ctx context.Context, l *models.CanonicalListing) (*models.MatchCandidate, error) {
	// Re-scrape of a known source id is always an in-place update.
	if len(l.SourceRefs) > 0 {
		existing, err := d.store.FindByExternalID(ctx, l.SourceRefs[0])
		if err == nil {
			return &models.MatchCandidate{
				CandidateID: existing.ID,
				Score:       1.0,
				Signals:     []string{models.SignalSameSource},
				Decision:    models.DecisionUpdate,
			}, nil
		}
		if err != storage.ErrNotFound {
			return nil, fmt.Errorf("dedup: external id lookup: %w", err)
		}
	}

	degraded := len(l.Embedding) == 0

	candidates, err := d.retrieve(ctx, l)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &models.MatchCandidate{Decision: models.DecisionNew, Degraded: degraded}, nil
	}

	best := d.pickBest(l, candidates)
	best.Degraded = degraded

	switch {
	case best.Score >= d.cfg.MergeThreshold:
		best.Decision = models.DecisionMerge
	case best.Score >= d.cfg.ReviewThreshold:
		best.Decision = models.DecisionNew
		best.NeedsReview = true
		d.logger.Warn("[dedup] possible duplicate of %s (score %.3f) — flagged for review",
			best.CandidateID, best.Score)
	default:
		best.Decision = models.DecisionNew
	}
	return best, nil
}

// retrieve bounds the candidate set: listings sharing an address hash or
// phone fingerprint, plus embedding neighbours above the cosine floor in
// the same city.
func (d *DedupEngine) retrieve(ctx context.Context, l *models.CanonicalListing) ([]*models.CanonicalListing, error) {
	seen := make(map[string]*models.CanonicalListing)

	byAddr, err := d.store.FindByAddressHash(ctx, l.AddressHash)
	if err != nil {
		return nil, fmt.Errorf("dedup: address lookup: %w", err)
	}
	for _, c := range byAddr {
		seen[c.ID] = c
	}

	byPhone, err := d.store.FindByPhoneFingerprint(ctx, l.PhoneFingerprint)
	if err != nil {
		return nil, fmt.Errorf("dedup: phone lookup: %w", err)
	}
	for _, c := range byPhone {
		seen[c.ID] = c
	}

	if len(l.Embedding) > 0 && l.Location.City != "" {
		nearest, err := d.store.NearestByEmbedding(ctx, l.Location.City, l.Embedding, d.cfg.CosineFloor, candidateLimit)
		if err != nil {
			return nil, fmt.Errorf("dedup: ann lookup: %w", err)
		}
		for _, c := range nearest {
			seen[c.ID] = c
		}
	}

	delete(seen, l.ID)

	out := make([]*models.CanonicalListing, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out, nil
}

// pickBest scores every candidate and applies the epsilon tie-break:
// prefer the most recently verified candidate among near-equals.
func (d *DedupEngine) pickBest(l *models.CanonicalListing, candidates []*models.CanonicalListing) *models.MatchCandidate {
	var best *models.MatchCandidate
	var bestListing *models.CanonicalListing

	for _, c := range candidates {
		m := d.score(l, c)
		if best == nil {
			best, bestListing = m, c
			continue
		}
		switch {
		case m.Score > best.Score+d.cfg.TieEpsilon:
			best, bestListing = m, c
		case m.Score > best.Score-d.cfg.TieEpsilon:
			if tieBreakPrefer(c, bestListing) {
				best, bestListing = m, c
			}
		}
	}
	return best
}

// tieBreakPrefer reports whether a should win over b in an epsilon tie.
func tieBreakPrefer(a, b *models.CanonicalListing) bool {
	if a.IsVerified != b.IsVerified {
		return a.IsVerified
	}
	return a.LastChecked.After(b.LastChecked)
}

// score combines weighted signal agreement with embedding cosine
// similarity into one score in [0,1]. Without an embedding on both sides
// the signal half carries the whole score.
func (d *DedupEngine) score(l, c *models.CanonicalListing) *models.MatchCandidate {
	m := &models.MatchCandidate{CandidateID: c.ID}

	var signalScore float64
	if l.PhoneFingerprint != "" && l.PhoneFingerprint == c.PhoneFingerprint {
		signalScore += weightPhone
		m.Signals = append(m.Signals, models.SignalPhone)
	}
	if l.AddressHash != 0 && l.AddressHash == c.AddressHash {
		signalScore += weightAddr
		m.Signals = append(m.Signals, models.SignalAddress)
	}
	if bucketsAdjacent(l.PriceBucket, c.PriceBucket) {
		signalScore += weightPrice
		m.Signals = append(m.Signals, models.SignalPriceBucket)
	}
	if bucketsAdjacent(l.AreaBucket, c.AreaBucket) {
		signalScore += weightArea
		m.Signals = append(m.Signals, models.SignalAreaBucket)
	}

	cosine := models.CosineSimilarity(l.Embedding, c.Embedding)
	if cosine > 0 {
		m.Cosine = cosine
		m.Signals = append(m.Signals, models.SignalEmbedding)
		m.Score = signalShare*signalScore + cosineShare*cosine
		// The embedding can only raise the score. Full signal agreement
		// (same phone, address, price and area) clears the merge
		// threshold on its own; a lukewarm cosine must not undo it.
		if m.Score < signalScore {
			m.Score = signalScore
		}
	} else {
		m.Score = signalScore
	}
	return m
}

// ApplyMerge folds an incoming listing into its merge target. The target
// keeps its identity and property link; content, price and check
// timestamps come from the fresher scrape; the new source alias is
// recorded; corroboration from a second platform verifies the listing.
func ApplyMerge(target, incoming *models.CanonicalListing) {
	for _, ref := range incoming.SourceRefs {
		if !target.HasSourceRef(ref) {
			target.SourceRefs = append(target.SourceRefs, ref)
		}
	}

	if incoming.LastChecked.After(target.LastChecked) {
		target.Price = incoming.Price
		target.RentPrice = incoming.RentPrice
		target.LastChecked = incoming.LastChecked
	}
	if incoming.Title != "" {
		target.Title = incoming.Title
	}
	if len(incoming.Description) > len(target.Description) {
		target.Description = incoming.Description
	}
	if target.Location.Coordinates == nil {
		target.Location.Coordinates = incoming.Location.Coordinates
	}
	if target.Features.Area == 0 {
		target.Features.Area = incoming.Features.Area
	}
	if target.Features.Bedrooms == 0 {
		target.Features.Bedrooms = incoming.Features.Bedrooms
	}
	target.Media.Photos = mergeStrings(target.Media.Photos, incoming.Media.Photos)
	if target.ContactInfo.Phone == "" {
		target.ContactInfo = incoming.ContactInfo
	}

	// Refresh signatures from the merged content.
	target.AddressHash = AddressHash(target.Location.City, target.Location.Address)
	target.PhoneFingerprint = PhoneFingerprint(target.ContactInfo.Phone)
	target.PriceBucket = PriceBucket(target.Price.Amount)
	target.AreaBucket = AreaBucket(target.Features.Area)
	target.ContentHash = ContentHash(target.Title, target.Description,
		target.Location.City, target.Location.Address, target.Price.Amount, target.Features.Area)
	if len(incoming.Embedding) > 0 {
		target.Embedding = incoming.Embedding
	}
	target.RawData = incoming.RawData

	// is_verified is sticky: set on cross-source corroboration, never cleared.
	if target.DistinctPlatforms() >= 2 {
		target.IsVerified = true
	}
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			out = append(out, s)
			seen[s] = struct{}{}
		}
	}
	return out
}
