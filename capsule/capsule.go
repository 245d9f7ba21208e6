// Package capsule defines the run-capsule store contract: the durable,
// queryable audit record of every query a user ran, what was executed,
// and what came back. Two backends implement Store — filestore (a
// local append-only log, for single-process deployments) and
// lodestore (Hive-partitioned object storage, for production).
package capsule

import (
	"context"

	"github.com/tabularun/tabularun/types"
)

// Store persists and retrieves run capsules.
type Store interface {
	// Put appends a capsule to the store. RunID must be unique; Put
	// does not overwrite an existing capsule with the same RunID.
	Put(ctx context.Context, c *types.RunCapsule) error
	// Get retrieves a capsule by run ID. Returns (nil, false) if absent.
	Get(ctx context.Context, runID string) (*types.RunCapsule, bool, error)
	// LatestSuccessful returns the most recent succeeded capsule for a
	// dataset/thread pair, or (nil, false) if none exist. Used by the
	// agent to answer follow-up questions against a prior result
	// without re-running the query.
	LatestSuccessful(ctx context.Context, datasetID, threadID string) (*types.RunCapsule, bool, error)
	// List returns capsules for a thread in chronological order,
	// newest last, bounded to limit (0 means no bound).
	List(ctx context.Context, threadID string, limit int) ([]*types.RunCapsule, error)
}
