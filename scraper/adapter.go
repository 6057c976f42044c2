package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/martyniukyurii/KovchegBackend/models"
)

// SourceAdapter is the uniform boundary every platform implements.
// Adapters are black boxes: how a page is rendered or a block evaded is
// their business, the pipeline only sees raw records with stable
// source ids.
type SourceAdapter interface {
	// Platform returns the stable platform tag ("olx", "m2bomber", ...).
	Platform() string

	// RateLimitHint is the minimum spacing between fetches the platform
	// tolerates; the orchestrator respects it across cycles.
	RateLimitHint() time.Duration

	// FetchListings yields one batch of raw records. sinceToken is the
	// opaque resume token returned by the previous call ("" for a full
	// fetch); the returned token feeds the next cycle.
	FetchListings(ctx context.Context, sinceToken string) ([]*models.RawRecord, string, error)
}

// FetchError wraps an adapter/network failure. Source-scoped: it fails
// one cycle of one source and never the whole process.
type FetchError struct {
	Platform string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Platform, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
