package domain

import (
	"errors"
)

// Common domain errors shared across the pipeline.
var (
	// ErrInvalidCombiner indicates an unknown or misconfigured score
	// combination strategy name.
	ErrInvalidCombiner = errors.New("invalid score combiner")

	// ErrBatchTooSmall indicates a dispatch request with fewer than two
	// candidates; a one-candidate batch can never produce a pair.
	ErrBatchTooSmall = errors.New("batch requires at least two candidates")

	// ErrBatchNotComplete indicates the decision engine was handed an
	// aggregate with missing records, which violates its contract.
	ErrBatchNotComplete = errors.New("batch aggregate is not complete")

	// ErrUnknownBatch indicates a lookup for a batch the store does not hold.
	ErrUnknownBatch = errors.New("unknown batch")

	// ErrStoreFull indicates the bounded batch store has no free slot;
	// the dispatch is rejected rather than growing memory unbounded.
	ErrStoreFull = errors.New("batch store at capacity")
)
