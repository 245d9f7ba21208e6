// Package filestore implements capsule.Store as a single append-only
// log file of length-prefixed msgpack records, one per capsule. It is
// the single-process/local-development backend; production
// deployments use capsule/lodestore instead.
package filestore

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tabularun/tabularun/capsule"
	"github.com/tabularun/tabularun/types"
)

const lengthPrefixSize = 4

// Store is a file-backed capsule.Store. Every Put appends one
// length-prefixed msgpack frame and fsyncs before returning, so a
// capsule is never reported as stored until it is durable on disk.
// An in-memory index (run_id -> byte offset) is rebuilt by replaying
// the log once on Open.
type Store struct {
	mu    sync.Mutex
	file  *os.File
	index map[string]int64 // run_id -> offset of its frame
}

var _ capsule.Store = (*Store)(nil)

// Open opens (creating if absent) the log file at path and replays it
// to rebuild the in-memory index.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", path, err)
	}

	s := &Store{file: f, index: make(map[string]int64)}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func (s *Store) replay() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(s.file)

	var offset int64
	for {
		frameStart := offset
		var lengthBuf [lengthPrefixSize]byte
		n, err := io.ReadFull(r, lengthBuf[:])
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return fmt.Errorf("filestore: replay: read length prefix: %w", err)
		}
		offset += int64(n)

		payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
		payload := make([]byte, payloadSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("filestore: replay: read payload: %w", err)
		}
		offset += int64(payloadSize)

		var c types.RunCapsule
		if err := msgpack.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("filestore: replay: decode capsule: %w", err)
		}
		s.index[c.RunID] = frameStart
	}

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

// Put appends c as one length-prefixed msgpack frame and fsyncs
// before returning.
func (s *Store) Put(_ context.Context, c *types.RunCapsule) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("filestore: put: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[c.RunID]; exists {
		return fmt.Errorf("filestore: put: run %q already stored", c.RunID)
	}

	payload, err := msgpack.Marshal(c)
	if err != nil {
		return fmt.Errorf("filestore: put: encode: %w", err)
	}

	offset, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	frame := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)

	if _, err := s.file.Write(frame); err != nil {
		return fmt.Errorf("filestore: put: write: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("filestore: put: fsync: %w", err)
	}

	s.index[c.RunID] = offset
	return nil
}

// Get reads the capsule at its indexed offset.
func (s *Store) Get(_ context.Context, runID string) (*types.RunCapsule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset, ok := s.index[runID]
	if !ok {
		return nil, false, nil
	}
	c, err := s.readAt(offset)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *Store) readAt(offset int64) (*types.RunCapsule, error) {
	var lengthBuf [lengthPrefixSize]byte
	if _, err := s.file.ReadAt(lengthBuf[:], offset); err != nil {
		return nil, fmt.Errorf("filestore: read length prefix: %w", err)
	}
	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	payload := make([]byte, payloadSize)
	if _, err := s.file.ReadAt(payload, offset+lengthPrefixSize); err != nil {
		return nil, fmt.Errorf("filestore: read payload: %w", err)
	}
	var c types.RunCapsule
	if err := msgpack.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("filestore: decode capsule: %w", err)
	}
	return &c, nil
}

// LatestSuccessful scans the index for the most recent succeeded
// capsule matching datasetID/threadID. The index has no secondary
// sort structure, so this is a linear scan — acceptable for the
// single-process deployment this backend targets.
func (s *Store) LatestSuccessful(ctx context.Context, datasetID, threadID string) (*types.RunCapsule, bool, error) {
	s.mu.Lock()
	offsets := make([]int64, 0, len(s.index))
	for _, off := range s.index {
		offsets = append(offsets, off)
	}
	s.mu.Unlock()

	var latest *types.RunCapsule
	for _, off := range offsets {
		s.mu.Lock()
		c, err := s.readAt(off)
		s.mu.Unlock()
		if err != nil {
			return nil, false, err
		}
		if c.DatasetID != datasetID || c.ThreadID != threadID {
			continue
		}
		if c.Status != types.CapsuleSucceeded {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	return latest, true, nil
}

// List returns capsules for threadID in chronological order.
func (s *Store) List(ctx context.Context, threadID string, limit int) ([]*types.RunCapsule, error) {
	s.mu.Lock()
	offsets := make([]int64, 0, len(s.index))
	for _, off := range s.index {
		offsets = append(offsets, off)
	}
	s.mu.Unlock()

	var matched []*types.RunCapsule
	for _, off := range offsets {
		s.mu.Lock()
		c, err := s.readAt(off)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if c.ThreadID == threadID {
			matched = append(matched, c)
		}
	}

	sortByCreatedAt(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func sortByCreatedAt(capsules []*types.RunCapsule) {
	for i := 1; i < len(capsules); i++ {
		for j := i; j > 0 && capsules[j].CreatedAt.Before(capsules[j-1].CreatedAt); j-- {
			capsules[j], capsules[j-1] = capsules[j-1], capsules[j]
		}
	}
}
