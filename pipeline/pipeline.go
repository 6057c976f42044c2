package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/services"
	"github.com/martyniukyurii/KovchegBackend/storage"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

// Pipeline runs a single raw record through the full chain: normalize,
// sign, dedup, persist, lifecycle, promote. Records are independent;
// one record failing never aborts the rest of the cycle.
type Pipeline struct {
	store      storage.ListingStore
	normalizer *services.Normalizer
	signer     *services.Signer
	dedup      *services.DedupEngine
	lifecycle  *services.LifecycleManager
	importer   *services.Importer
	insights   *services.InsightService
	metrics    *utils.Metrics
	logger     *utils.Logger

	// locks serializes concurrent writers touching the same listing so
	// two workers resolving to one dedup target cannot interleave.
	locks *utils.KeyedMutex
}

// New wires a Pipeline from its stages.
func New(
	store storage.ListingStore,
	normalizer *services.Normalizer,
	signer *services.Signer,
	dedup *services.DedupEngine,
	lifecycle *services.LifecycleManager,
	importer *services.Importer,
	insights *services.InsightService,
	metrics *utils.Metrics,
	logger *utils.Logger,
) *Pipeline {
	return &Pipeline{
		store:      store,
		normalizer: normalizer,
		signer:     signer,
		dedup:      dedup,
		lifecycle:  lifecycle,
		importer:   importer,
		insights:   insights,
		metrics:    metrics,
		logger:     logger,
		locks:      utils.NewKeyedMutex(),
	}
}

// ProcessRecord takes one raw record end to end. Unnormalizable records
// are counted and dropped; everything else lands in the store with its
// lifecycle advanced and, when eligible, a catalog promotion applied.
func (p *Pipeline) ProcessRecord(ctx context.Context, rec *models.RawRecord, report *models.CycleReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l, err := p.normalizer.Normalize(rec)
	if err != nil {
		report.Lock()
		report.Skipped++
		report.Unlock()
		p.metrics.RecordsSkipped.WithLabelValues(rec.Platform).Inc()
		p.logger.Warn("[pipeline] dropping %s/%s: %v", rec.Platform, rec.SourceID, err)
		return err
	}
	report.Lock()
	report.Normalized++
	report.Unlock()
	p.metrics.RecordsNormalized.WithLabelValues(rec.Platform).Inc()

	prior, err := p.store.FindByExternalID(ctx, l.SourceRefs[0])
	if err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("pipeline: prior lookup for %s/%s: %w", rec.Platform, rec.SourceID, err)
	}

	if err := p.signer.Sign(ctx, l, prior); err != nil {
		if !errors.Is(err, services.ErrDegradedMatch) {
			return err
		}
		// Signed without an embedding; dedup falls back to signals alone.
		report.Lock()
		report.Degraded++
		report.Unlock()
		p.metrics.RecordsDegraded.WithLabelValues(rec.Platform).Inc()
	}

	match, err := p.dedup.Match(ctx, l)
	if err != nil {
		return err
	}

	return p.applyDecision(ctx, l, match, report)
}

// applyDecision routes the dedup outcome to the right write path. Every
// path runs its persist and the follow-up import under one hold of the
// target listing's lock, so two workers resolving to the same listing
// cannot interleave a read-decide-promote with the other's write.
func (p *Pipeline) applyDecision(ctx context.Context, l *models.CanonicalListing, match *models.MatchCandidate, report *models.CycleReport) error {
	platform := l.SourceRefs[0].Platform

	switch match.Decision {
	case models.DecisionUpdate:
		report.Lock()
		report.Updated++
		report.Unlock()
		p.metrics.ListingsUpdated.WithLabelValues(platform).Inc()
		return p.commitLocked(ctx, match.CandidateID, report, func(ctx context.Context) (*models.CanonicalListing, error) {
			return p.refresh(ctx, match.CandidateID, l)
		})

	case models.DecisionMerge:
		report.Lock()
		report.Merged++
		report.Unlock()
		p.metrics.ListingsMerged.WithLabelValues(platform).Inc()
		p.logger.Info("[pipeline] %s/%s merged into %s (score %.3f, signals %v)",
			platform, l.SourceRefs[0].SourceID, match.CandidateID, match.Score, match.Signals)
		return p.commitLocked(ctx, match.CandidateID, report, func(ctx context.Context) (*models.CanonicalListing, error) {
			return p.merge(ctx, match.CandidateID, l)
		})

	default:
		l.NeedsReview = match.NeedsReview
		if match.NeedsReview {
			report.Lock()
			report.Reviews++
			report.Unlock()
		}
		p.lifecycle.Confirm(l, l.LastChecked)
		err := p.commitLocked(ctx, l.ID, report, func(ctx context.Context) (*models.CanonicalListing, error) {
			if err := p.store.Insert(ctx, l); err != nil {
				return nil, err
			}
			report.Lock()
			report.Created++
			report.Unlock()
			p.metrics.ListingsCreated.WithLabelValues(platform).Inc()
			return l, nil
		})
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Lost a race with another worker scraping the same posting.
			// Resolve through the alias index and fold in as an update.
			existing, lookupErr := p.store.FindByExternalID(ctx, l.SourceRefs[0])
			if lookupErr != nil {
				return fmt.Errorf("pipeline: duplicate key but no alias for %s/%s: %w",
					platform, l.SourceRefs[0].SourceID, lookupErr)
			}
			return p.commitLocked(ctx, existing.ID, report, func(ctx context.Context) (*models.CanonicalListing, error) {
				return p.refresh(ctx, existing.ID, l)
			})
		}
		return err
	}
}

// commitLocked holds the listing's lock across the write produced by
// apply and the import that follows, keeping the whole dedup-to-promote
// span single-writer per listing identity.
func (p *Pipeline) commitLocked(ctx context.Context, id string, report *models.CycleReport, apply func(context.Context) (*models.CanonicalListing, error)) error {
	p.locks.Lock(id)
	defer p.locks.Unlock(id)

	final, err := apply(ctx)
	if err != nil {
		return err
	}
	return p.finishImport(ctx, final, report)
}

// finishImport evaluates the promotion policy for a freshly persisted
// listing and records the outcome. Caller holds the listing's lock.
func (p *Pipeline) finishImport(ctx context.Context, final *models.CanonicalListing, report *models.CycleReport) error {
	report.Lock()
	p.insights.ObserveListing(report, final)
	report.Unlock()

	decision, err := p.importer.Apply(ctx, final)
	if err != nil {
		var conflict *services.PromotionConflictError
		if errors.As(err, &conflict) {
			// Next cycle retries the promotion; the listing itself is saved.
			p.logger.Warn("[pipeline] %v", err)
			return nil
		}
		return err
	}
	if decision != services.ImportSkip {
		if err := p.store.Update(ctx, final); err != nil {
			return fmt.Errorf("pipeline: persist promotion state of %s: %w", final.ID, err)
		}
		if decision == services.ImportPromote {
			report.Lock()
			report.Promoted++
			report.Unlock()
			p.metrics.ListingsPromoted.WithLabelValues(final.SourceRefs[0].Platform).Inc()
		}
	}
	return nil
}

// refresh re-applies a re-scrape of a known (platform, source id) onto
// its existing listing in place. Identity, property link, verification
// and review flags are preserved; content comes from the fresh scrape.
// Caller holds the listing's lock.
func (p *Pipeline) refresh(ctx context.Context, id string, incoming *models.CanonicalListing) (*models.CanonicalListing, error) {
	existing, err := p.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("pipeline: refresh target %s: %w", id, err)
	}

	for _, ref := range incoming.SourceRefs {
		if !existing.HasSourceRef(ref) {
			existing.SourceRefs = append(existing.SourceRefs, ref)
		}
	}

	existing.Title = incoming.Title
	existing.Description = incoming.Description
	existing.Price = incoming.Price
	existing.RentPrice = incoming.RentPrice
	existing.PropertyType = incoming.PropertyType
	existing.Location = incoming.Location
	existing.Features = incoming.Features
	existing.Media = incoming.Media
	existing.ContactInfo = incoming.ContactInfo

	existing.AddressHash = incoming.AddressHash
	existing.PhoneFingerprint = incoming.PhoneFingerprint
	existing.PriceBucket = incoming.PriceBucket
	existing.AreaBucket = incoming.AreaBucket
	existing.ContentHash = incoming.ContentHash
	if len(incoming.Embedding) > 0 {
		existing.Embedding = incoming.Embedding
	}
	existing.RawData = incoming.RawData

	p.lifecycle.Confirm(existing, incoming.LastChecked)

	if err := p.store.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("pipeline: refresh %s: %w", id, err)
	}
	return existing, nil
}

// merge folds the incoming scrape into its dedup target. Caller holds
// the target's lock.
func (p *Pipeline) merge(ctx context.Context, targetID string, incoming *models.CanonicalListing) (*models.CanonicalListing, error) {
	target, err := p.store.GetByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: merge target %s: %w", targetID, err)
	}

	services.ApplyMerge(target, incoming)
	p.lifecycle.Confirm(target, incoming.LastChecked)

	if err := p.store.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("pipeline: merge into %s: %w", targetID, err)
	}
	return target, nil
}

// ProcessBatch fans the records of one fetch into a bounded worker
// pool, isolating per-record failures. Records resolving to the same
// listing serialize on its keyed lock. Returns how many records failed.
func (p *Pipeline) ProcessBatch(ctx context.Context, records []*models.RawRecord, workers int, report *models.CycleReport) int {
	if workers < 1 {
		workers = 1
	}
	pool := utils.NewWorkerPool(workers, 0)

	var mu sync.Mutex
	failed := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		rec := rec
		pool.Submit(func() {
			if err := p.ProcessRecord(ctx, rec, report); err != nil {
				var nerr *services.NormalizationError
				if !errors.As(err, &nerr) {
					p.logger.Error("[pipeline] record %s/%s failed: %v", rec.Platform, rec.SourceID, err)
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		})
	}
	pool.Wait()
	return failed
}

// FinishCycle runs the post-batch sweeps for one source: staleness
// misses for listings the cycle did not re-confirm, then retention
// archival.
func (p *Pipeline) FinishCycle(ctx context.Context, platform string, cycleStart time.Time, report *models.CycleReport) {
	expired, err := p.lifecycle.SweepStale(ctx, platform, cycleStart)
	if err != nil {
		p.logger.Error("[pipeline] staleness sweep for %s: %v", platform, err)
	} else {
		report.Expired = expired
		if expired > 0 {
			p.metrics.ListingsExpired.WithLabelValues(platform).Add(float64(expired))
		}
	}

	if _, err := p.lifecycle.SweepArchivable(ctx); err != nil {
		p.logger.Error("[pipeline] archive sweep: %v", err)
	}
}
