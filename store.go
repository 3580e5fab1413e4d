package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

////////////////////////////////////////////////////////////////////////////////
// Persistence: build records in KV (JSON)
////////////////////////////////////////////////////////////////////////////////

type Store struct {
	kvBuilds jetstream.KeyValue
}

type buildIndex struct {
	IDs       []string  `json:"ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	var buildsKV jetstream.KeyValue
	err := ensureKVBucket(ctx, js, kvBucketBuilds, defaultKVHistory, &buildsKV)
	if err != nil {
		return nil, err
	}
	return &Store{kvBuilds: buildsKV}, nil
}

func buildKey(buildID string) string {
	return kvBuildKeyPrefix + buildID
}

// appendBuildIndex keeps the index newest-last, deduplicated, trimmed to
// limit entries.
func appendBuildIndex(ids []string, buildID string, limit int) []string {
	out := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		if id != buildID {
			out = append(out, id)
		}
	}
	out = append(out, buildID)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Store) PutBuild(ctx context.Context, rec BuildRecord) error {
	runCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	rec.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.kvBuilds.Put(runCtx, buildKey(rec.ID), body)
	if err != nil {
		return fmt.Errorf("put build %s: %w", rec.ID, err)
	}
	return s.indexBuild(runCtx, rec.ID)
}

func (s *Store) indexBuild(ctx context.Context, buildID string) error {
	idx, err := s.readIndex(ctx)
	if err != nil {
		return err
	}
	idx.IDs = appendBuildIndex(idx.IDs, buildID, buildHistoryLimit)
	idx.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	_, err = s.kvBuilds.Put(ctx, kvBuildIndexKey, body)
	if err != nil {
		return fmt.Errorf("put build index: %w", err)
	}
	return nil
}

func (s *Store) readIndex(ctx context.Context) (buildIndex, error) {
	idx := buildIndex{IDs: nil, UpdatedAt: time.Time{}}
	entry, err := s.kvBuilds.Get(ctx, kvBuildIndexKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return idx, nil
		}
		return idx, fmt.Errorf("get build index: %w", err)
	}
	if unmarshalErr := json.Unmarshal(entry.Value(), &idx); unmarshalErr != nil {
		return idx, fmt.Errorf("decode build index: %w", unmarshalErr)
	}
	return idx, nil
}

func (s *Store) GetBuild(ctx context.Context, buildID string) (BuildRecord, error) {
	runCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	var rec BuildRecord
	entry, err := s.kvBuilds.Get(runCtx, buildKey(buildID))
	if err != nil {
		return rec, fmt.Errorf("get build %s: %w", buildID, err)
	}
	if unmarshalErr := json.Unmarshal(entry.Value(), &rec); unmarshalErr != nil {
		return rec, fmt.Errorf("decode build %s: %w", buildID, unmarshalErr)
	}
	return rec, nil
}

// ListBuilds returns up to limit records, newest first. Records named by
// the index but missing from the bucket are skipped.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]BuildRecord, error) {
	runCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	idx, err := s.readIndex(runCtx)
	if err != nil {
		return nil, err
	}
	ids := append([]string(nil), idx.IDs...)
	slices.Reverse(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]BuildRecord, 0, len(ids))
	for _, id := range ids {
		rec, getErr := s.GetBuild(ctx, id)
		if getErr != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
