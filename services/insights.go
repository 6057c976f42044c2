package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

// InsightService accumulates per-cycle reports and exposes the read-only
// catalog-delta snapshot the external daily-task job consumes.
type InsightService struct {
	logger *utils.Logger

	mu      sync.Mutex
	reports []*models.CycleReport
}

// NewInsightService creates an InsightService with the given logger.
func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// NewReport starts a report for one source cycle.
func (s *InsightService) NewReport(platform string) *models.CycleReport {
	return &models.CycleReport{Platform: platform, ByType: make(map[string]int)}
}

// ObserveListing folds one normalized listing into the report's coverage
// statistics. Callers sharing the report across goroutines hold its lock.
func (s *InsightService) ObserveListing(r *models.CycleReport, l *models.CanonicalListing) {
	if l.ContactInfo.Phone != "" {
		r.WithPhone++
	}
	if l.Location.City != "" || l.Location.Address != "" {
		r.WithLocation++
	}
	r.ByType[l.PropertyType]++
	if p := l.Price.Amount; p > 0 {
		if r.PriceCount == 0 || p < r.PriceMin {
			r.PriceMin = p
		}
		if p > r.PriceMax {
			r.PriceMax = p
		}
		r.PriceSum += p
		r.PriceCount++
	}
}

// Commit records a finished cycle report.
func (s *InsightService) Commit(r *models.CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

// Snapshot returns the committed reports since the last call and resets
// the buffer. This is the catalog-delta view per cycle: counts of new,
// updated and expired listings per source.
func (s *InsightService) Snapshot() []*models.CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.reports
	s.reports = nil
	return out
}

// Print renders a cycle report to the console.
func (s *InsightService) Print(r *models.CycleReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 CYCLE REPORT — %s\033[0m\n", strings.ToUpper(r.Platform))
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Pipeline\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Fetched    : \033[1m%d\033[0m\n", r.Fetched)
	fmt.Printf("  Normalized : \033[1m%d\033[0m  (skipped %d, degraded %d)\n",
		r.Normalized, r.Skipped, r.Degraded)
	fmt.Printf("  Created    : \033[1m%d\033[0m | merged %d | updated %d\n",
		r.Created, r.Merged, r.Updated)
	fmt.Printf("  Promoted   : \033[1;32m%d\033[0m | expired %d | flagged for review %d\n",
		r.Promoted, r.Expired, r.Reviews)
	fmt.Println()

	fmt.Printf("\033[1;33m  Coverage\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.Normalized > 0 {
		pct := func(n int) float64 { return float64(n) / float64(r.Normalized) * 100 }
		fmt.Printf("  With price    : %d (%.1f%%)\n", r.PriceCount, pct(r.PriceCount))
		fmt.Printf("  With phone    : %d (%.1f%%)\n", r.WithPhone, pct(r.WithPhone))
		fmt.Printf("  With location : %d (%.1f%%)\n", r.WithLocation, pct(r.WithLocation))
	} else {
		fmt.Printf("  No normalized listings this cycle\n")
	}
	fmt.Println()

	if r.PriceCount > 0 {
		fmt.Printf("\033[1;33m  Price Statistics\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  Average : \033[1;32m%.0f\033[0m\n", r.PriceSum/float64(r.PriceCount))
		fmt.Printf("  Minimum : \033[1;32m%.0f\033[0m\n", r.PriceMin)
		fmt.Printf("  Maximum : \033[1;32m%.0f\033[0m\n", r.PriceMax)
		fmt.Println()
	}

	if len(r.ByType) > 0 {
		fmt.Printf("\033[1;33m  By Property Type\033[0m\n")
		fmt.Printf("  %s\n", thin)
		type typeCount struct {
			name  string
			count int
		}
		var types []typeCount
		for name, cnt := range r.ByType {
			types = append(types, typeCount{name, cnt})
		}
		sort.Slice(types, func(i, j int) bool {
			return types[i].count > types[j].count
		})
		for _, tc := range types {
			width := tc.count
			if width > 40 {
				width = 40
			}
			bar := strings.Repeat("█", width)
			fmt.Printf("  %-15s %s (%d)\n", truncate(tc.name, 14), bar, tc.count)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
