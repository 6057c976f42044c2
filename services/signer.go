package services

import (
	"context"
	"fmt"
	"time"

	"github.com/martyniukyurii/KovchegBackend/embedding"
	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

// Signer fills a listing's matching signals and embedding vector.
// Signals are pure functions of the listing; only the embedding call can
// fail, and that failure degrades matching instead of blocking it.
type Signer struct {
	embedder embedding.Embedder
	timeout  time.Duration
	logger   *utils.Logger
}

// NewSigner creates a Signer. embedder may be nil, in which case every
// listing is signed signals-only.
func NewSigner(embedder embedding.Embedder, timeout time.Duration, logger *utils.Logger) *Signer {
	return &Signer{embedder: embedder, timeout: timeout, logger: logger}
}

// Sign computes the signatures for l. prior, when non-nil, is the stored
// listing for the same (platform, source id); if the content hash is
// unchanged its embedding is reused so that re-scraping unchanged raw
// data never calls the embedding service. Returns ErrDegradedMatch when
// the embedding could not be computed; l is still fully signed.
func (s *Signer) Sign(ctx context.Context, l *models.CanonicalListing, prior *models.CanonicalListing) error {
	l.AddressHash = AddressHash(l.Location.City, l.Location.Address)
	l.PhoneFingerprint = PhoneFingerprint(l.ContactInfo.Phone)
	l.PriceBucket = PriceBucket(l.Price.Amount)
	l.AreaBucket = AreaBucket(l.Features.Area)
	l.ContentHash = ContentHash(l.Title, l.Description,
		l.Location.City, l.Location.Address, l.Price.Amount, l.Features.Area)

	if prior != nil && prior.ContentHash == l.ContentHash && len(prior.Embedding) > 0 {
		l.Embedding = prior.Embedding
		return nil
	}

	if s.embedder == nil {
		return ErrDegradedMatch
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, embedding.ListingText(l))
	if err != nil {
		s.logger.Warn("[signer] embedding failed for %s: %v — falling back to signal-only matching", l.ID, err)
		return fmt.Errorf("%w: %v", ErrDegradedMatch, err)
	}
	l.Embedding = vec
	return nil
}
