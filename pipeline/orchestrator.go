package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/martyniukyurii/KovchegBackend/config"
	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/scraper"
	"github.com/martyniukyurii/KovchegBackend/services"
	"github.com/martyniukyurii/KovchegBackend/storage"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

// Orchestrator runs one re-scrape loop per configured source. Each
// source keeps its own cadence; a failed cycle never delays the next
// one, which starts at the normal interval. A global semaphore caps how
// many cycles run at once across all sources.
type Orchestrator struct {
	cfg      *config.Config
	pipe     *Pipeline
	archiver *storage.CycleArchiver
	insights *services.InsightService
	metrics  *utils.Metrics
	logger   *utils.Logger

	adapters []scraper.SourceAdapter
	sem      chan struct{}
}

// NewOrchestrator wires the orchestrator. Adapters without a matching
// source config are ignored.
func NewOrchestrator(
	cfg *config.Config,
	pipe *Pipeline,
	archiver *storage.CycleArchiver,
	insights *services.InsightService,
	metrics *utils.Metrics,
	logger *utils.Logger,
	adapters ...scraper.SourceAdapter,
) *Orchestrator {
	max := cfg.GlobalMaxConcurrency
	if max < 1 {
		max = 1
	}
	o := &Orchestrator{
		cfg:      cfg,
		pipe:     pipe,
		archiver: archiver,
		insights: insights,
		metrics:  metrics,
		logger:   logger,
		sem:      make(chan struct{}, max),
	}
	for _, a := range adapters {
		if cfg.Source(a.Platform()) == nil {
			logger.Warn("[orchestrator] no source config for %s, adapter disabled", a.Platform())
			continue
		}
		o.adapters = append(o.adapters, a)
	}
	return o
}

// Run starts every source loop and blocks until ctx is cancelled and
// all in-flight cycles have drained.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, a := range o.adapters {
		wg.Add(1)
		go func(a scraper.SourceAdapter) {
			defer wg.Done()
			o.sourceLoop(ctx, a)
		}(a)
	}
	wg.Wait()
	o.logger.Info("[orchestrator] all source loops stopped")
}

// sourceLoop runs one source at its configured interval. The first
// cycle starts immediately. The since token survives across cycles so
// incremental sources only see new postings.
func (o *Orchestrator) sourceLoop(ctx context.Context, a scraper.SourceAdapter) {
	src := o.cfg.Source(a.Platform())
	interval := cycleInterval(src.Interval, a.RateLimitHint())
	o.logger.Info("[orchestrator] %s loop started (interval %v)", a.Platform(), interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sinceToken := ""
	sinceToken = o.runCycle(ctx, a, src, sinceToken)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("[orchestrator] %s loop stopping: %v", a.Platform(), ctx.Err())
			return
		case <-ticker.C:
			sinceToken = o.runCycle(ctx, a, src, sinceToken)
		}
	}
}

// cycleInterval reconciles the configured cadence with the platform's
// rate limit hint; the slower of the two wins.
func cycleInterval(configured, hint time.Duration) time.Duration {
	if hint > configured {
		return hint
	}
	return configured
}

// runCycle executes one fetch-and-process cycle and returns the next
// since token. A failing fetch keeps the old token so the next cycle
// retries the same window.
func (o *Orchestrator) runCycle(ctx context.Context, a scraper.SourceAdapter, src *config.SourceConfig, sinceToken string) string {
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return sinceToken
	}
	defer func() { <-o.sem }()

	platform := a.Platform()
	start := time.Now()
	report := o.insights.NewReport(platform)

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	retry := &utils.RetryConfig{
		MaxAttempts: src.MaxRetries,
		BaseDelay:   src.BackoffBase,
		MaxDelay:    src.BackoffMax,
		Logger:      o.logger,
	}

	var records []*models.RawRecord
	nextToken := sinceToken
	err := retry.Do(fetchCtx, platform+" fetch", func() error {
		var ferr error
		records, nextToken, ferr = a.FetchListings(fetchCtx, sinceToken)
		return ferr
	})
	if err != nil {
		report.FetchFail = true
		o.metrics.CycleFailures.WithLabelValues(platform).Inc()
		o.logger.Error("[orchestrator] %s cycle failed: %v", platform, err)
		o.insights.Commit(report)
		return sinceToken
	}

	report.Fetched = len(records)
	o.metrics.RecordsFetched.WithLabelValues(platform).Add(float64(len(records)))

	if path, aerr := o.archiver.WriteCycle(platform, records); aerr != nil {
		o.logger.Warn("[orchestrator] %s cycle archive failed: %v", platform, aerr)
	} else if path != "" {
		o.logger.Info("[orchestrator] %s raw records archived to %s", platform, path)
	}

	if failed := o.pipe.ProcessBatch(ctx, records, src.MaxConcurrentFetch, report); failed > 0 {
		o.logger.Warn("[orchestrator] %s cycle: %d records failed processing", platform, failed)
	}

	if ctx.Err() == nil {
		o.pipe.FinishCycle(ctx, platform, start, report)
	}

	o.metrics.CycleDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	o.insights.Commit(report)
	o.insights.Print(report)

	return nextToken
}
