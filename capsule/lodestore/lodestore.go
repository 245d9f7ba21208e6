// Package lodestore implements capsule.Store over a Hive-partitioned
// Lode dataset, backed by either the local filesystem or S3. Capsules
// reuse four segments of the partition shape used for event storage
// (source/category/day/run_id), with source holding the dataset id and
// category holding the query mode in place of an event type — there is
// no event_type here, since a capsule is a single immutable record
// rather than a stream of typed events.
package lodestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/tabularun/tabularun/capsule"
	"github.com/tabularun/tabularun/types"
)

const capsuleDataset = "tabularun_capsules"

const recordKindCapsule = "capsule"

// S3Config configures the S3-backed variant.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

// Validate checks required S3 fields are present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("lodestore: S3 bucket is required")
	}
	return nil
}

// Store is a capsule.Store backed by a Lode dataset.
type Store struct {
	dataset lode.Dataset
}

var _ capsule.Store = (*Store)(nil)

// OpenFS opens a filesystem-backed capsule dataset rooted at root.
func OpenFS(root string) (*Store, error) {
	return open(lode.NewFSFactory(root))
}

// OpenS3 opens an S3-backed capsule dataset using the AWS SDK default
// credential chain (env vars, shared config, IAM role).
func OpenS3(cfg S3Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("lodestore: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	factory := func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	}
	return open(factory)
}

func open(factory lode.StoreFactory) (*Store, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(capsuleDataset),
		factory,
		lode.WithHiveLayout("source", "category", "day", "run_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, fmt.Errorf("lodestore: open dataset: %w", err)
	}
	return &Store{dataset: ds}, nil
}

// Put writes c as a single-record batch under its
// source=dataset_id/category=query_mode/day/run_id partition.
func (s *Store) Put(ctx context.Context, c *types.RunCapsule) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("lodestore: put: %w", err)
	}
	record, err := capsuleToRecord(c)
	if err != nil {
		return fmt.Errorf("lodestore: put: encode: %w", err)
	}
	if _, err := s.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return fmt.Errorf("lodestore: put: write: %w", err)
	}
	return nil
}

// Get scans snapshots for a capsule matching run_id. Lode has no
// secondary index on run_id, so every snapshot is read in full;
// callers needing fast point-lookups at scale should route through
// filestore for hot/recent capsules instead.
func (s *Store) Get(ctx context.Context, runID string) (*types.RunCapsule, bool, error) {
	var found *types.RunCapsule
	err := s.scan(ctx, nil, func(c *types.RunCapsule) bool {
		if c.RunID == runID {
			found = c
			return false
		}
		return true
	})
	if err != nil {
		return nil, false, err
	}
	if found == nil {
		return nil, false, nil
	}
	return found, true, nil
}

// LatestSuccessful scans for the most recent succeeded capsule
// matching datasetID/threadID. datasetID narrows the scan via the
// source partition hint; threadID is not a partition key, so it is
// applied only as a record-level filter.
func (s *Store) LatestSuccessful(ctx context.Context, datasetID, threadID string) (*types.RunCapsule, bool, error) {
	hints := map[string]string{"source": datasetID}
	var latest *types.RunCapsule
	err := s.scan(ctx, hints, func(c *types.RunCapsule) bool {
		if c.DatasetID != datasetID || c.ThreadID != threadID {
			return true
		}
		if c.Status != types.CapsuleSucceeded {
			return true
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
		return true
	})
	if err != nil {
		return nil, false, err
	}
	if latest == nil {
		return nil, false, nil
	}
	return latest, true, nil
}

// List returns capsules for threadID in chronological order. threadID
// is not a partition key, so every snapshot is scanned and filtered
// at the record level.
func (s *Store) List(ctx context.Context, threadID string, limit int) ([]*types.RunCapsule, error) {
	var out []*types.RunCapsule
	err := s.scan(ctx, nil, func(c *types.RunCapsule) bool {
		if c.ThreadID == threadID {
			out = append(out, c)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sortByCreatedAt(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// scan walks every snapshot, using partitionHints as a coarse
// pre-filter over manifest paths, decodes each capsule record, and
// invokes visit for every match. visit returns false to stop early.
func (s *Store) scan(ctx context.Context, partitionHints map[string]string, visit func(*types.RunCapsule) bool) error {
	snapshots, err := s.dataset.Snapshots(ctx)
	if err != nil {
		return fmt.Errorf("lodestore: list snapshots: %w", err)
	}

	for _, snap := range snapshots {
		if !snapshotMatchesHints(snap, partitionHints) {
			continue
		}
		rows, err := s.dataset.Read(ctx, snap.ID)
		if err != nil {
			return fmt.Errorf("lodestore: read snapshot %s: %w", snap.ID, err)
		}
		for _, row := range rows {
			record, ok := row.(map[string]any)
			if !ok {
				continue
			}
			if record["record_kind"] != recordKindCapsule {
				continue
			}
			c, err := recordToCapsule(record)
			if err != nil {
				continue
			}
			if !visit(c) {
				return nil
			}
		}
	}
	return nil
}

// snapshotMatchesHints reports whether a snapshot's manifest paths
// could contain records under the given partition key=value hints.
// An empty or absent hint always passes; this is a coarse pre-filter,
// not authoritative — record-level fields decide the real match.
func snapshotMatchesHints(snap *lode.Snapshot, hints map[string]string) bool {
	for key, value := range hints {
		if value == "" {
			continue
		}
		if !matchesAnyFile(snap, key, value) {
			return false
		}
	}
	return true
}

func matchesAnyFile(snap *lode.Snapshot, key, value string) bool {
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

// capsuleToRecord flattens a RunCapsule into the map[string]any shape
// Lode's HiveLayout requires, carrying its own partition keys.
func capsuleToRecord(c *types.RunCapsule) (map[string]any, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, err
	}
	record["record_kind"] = recordKindCapsule
	record["source"] = c.DatasetID
	record["category"] = string(c.QueryMode)
	record["day"] = c.CreatedAt.UTC().Format("2006-01-02")
	record["run_id"] = c.RunID
	return record, nil
}

// recordToCapsule reverses capsuleToRecord via the capsule's own JSON
// tags, so the decode stays in lockstep with types.RunCapsule.
func recordToCapsule(record map[string]any) (*types.RunCapsule, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var c types.RunCapsule
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, err
	}
	if c.CreatedAt.IsZero() {
		if day, ok := record["day"].(string); ok {
			if t, err := time.Parse("2006-01-02", day); err == nil {
				c.CreatedAt = t
			}
		}
	}
	return &c, nil
}

func sortByCreatedAt(capsules []*types.RunCapsule) {
	for i := 1; i < len(capsules); i++ {
		for j := i; j > 0 && capsules[j].CreatedAt.Before(capsules[j-1].CreatedAt); j-- {
			capsules[j], capsules[j-1] = capsules[j-1], capsules[j]
		}
	}
}
