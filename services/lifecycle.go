package services

import (
	"context"
	"time"

	"github.com/martyniukyurii/KovchegBackend/config"
	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/storage"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

// LifecycleManager drives the per-listing state machine:
//
//	New → Active → (stale after K missed re-checks) → Inactive → Active
//
// and handles retention-window archival. is_verified is orthogonal and
// sticky: it is set by cross-source corroboration or manual review and
// never cleared here.
type LifecycleManager struct {
	store  storage.ListingStore
	cfg    config.LifecycleConfig
	logger *utils.Logger
}

// NewLifecycleManager creates a LifecycleManager.
func NewLifecycleManager(store storage.ListingStore, cfg config.LifecycleConfig, logger *utils.Logger) *LifecycleManager {
	return &LifecycleManager{store: store, cfg: cfg, logger: logger}
}

// Confirm records a successful re-check: the listing becomes (or stays)
// active, its missed-check count resets and last_checked moves forward.
// An inactive listing re-confirmed by its source is re-listed.
func (m *LifecycleManager) Confirm(l *models.CanonicalListing, checkedAt time.Time) {
	if l.State == models.StateInactive {
		m.logger.Info("[lifecycle] listing %s re-confirmed by source — reactivating", l.ID)
	}
	l.State = models.StateActive
	l.IsActive = true
	l.MissedChecks = 0
	if checkedAt.After(l.LastChecked) {
		l.LastChecked = checkedAt
	}
}

// Miss records a failed re-check. After MaxMissedChecks consecutive
// misses the listing goes inactive. Returns true when the state flipped.
func (m *LifecycleManager) Miss(l *models.CanonicalListing) bool {
	if l.State == models.StateInactive {
		return false
	}
	l.MissedChecks++
	if l.MissedChecks < m.cfg.MaxMissedChecks {
		return false
	}
	l.State = models.StateInactive
	l.IsActive = false
	m.logger.Info("[lifecycle] listing %s went stale after %d missed re-checks", l.ID, l.MissedChecks)
	return true
}

// Delist marks a listing inactive immediately: the source reported the
// posting removed.
func (m *LifecycleManager) Delist(l *models.CanonicalListing) {
	l.State = models.StateInactive
	l.IsActive = false
}

// SweepStale walks listings of one platform not seen in the cycle that
// started at cycleStart, applies Miss to each, and persists the changes.
// Returns how many listings went inactive.
func (m *LifecycleManager) SweepStale(ctx context.Context, platform string, cycleStart time.Time) (int, error) {
	stale, err := m.store.ListCheckedBefore(ctx, platform, cycleStart)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, l := range stale {
		if l.State == models.StateInactive {
			continue
		}
		flipped := m.Miss(l)
		if err := m.store.Update(ctx, l); err != nil {
			m.logger.Error("[lifecycle] failed to persist staleness for %s: %v", l.ID, err)
			continue
		}
		if flipped {
			expired++
		}
	}
	return expired, nil
}

// SweepArchivable removes listings that have been inactive longer than
// the retention window and were never promoted. Promoted listings keep
// their id forever; the store refuses to archive them.
func (m *LifecycleManager) SweepArchivable(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-m.cfg.Retention)
	eligible, err := m.store.ListArchivable(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, l := range eligible {
		if err := m.store.Archive(ctx, l.ID); err != nil {
			m.logger.Warn("[lifecycle] could not archive %s: %v", l.ID, err)
			continue
		}
		archived++
	}
	if archived > 0 {
		m.logger.Info("[lifecycle] archived %d listings past the retention window", archived)
	}
	return archived, nil
}
