package services

import (
	"errors"
	"fmt"
)

// ErrInsufficientData marks a record missing all of price, location and
// contact info, leaving nothing to match or promote on.
var ErrInsufficientData = errors.New("insufficient data")

// ErrDegradedMatch marks a dedup pass that ran on signals only because
// the embedding was unavailable. It is a warning, never fatal.
var ErrDegradedMatch = errors.New("degraded match: embedding unavailable")

// NormalizationError wraps a per-record normalization failure. The record
// is logged and skipped; the stream continues.
type NormalizationError struct {
	Platform string
	SourceID string
	Err      error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s/%s: %v", e.Platform, e.SourceID, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// PromotionConflictError wraps a transactional failure while promoting a
// listing to the catalog. Retried once, then left for the next cycle.
type PromotionConflictError struct {
	ListingID string
	Err       error
}

func (e *PromotionConflictError) Error() string {
	return fmt.Sprintf("promotion conflict for listing %s: %v", e.ListingID, e.Err)
}

func (e *PromotionConflictError) Unwrap() error { return e.Err }
