// Package blobstore implements the entity store on top of object storage.
// Each record is one JSON object at <entityType>/<id>.json.
package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/newthinker/stratsync/internal/core"
	"github.com/newthinker/stratsync/internal/storage/blob"
	"github.com/newthinker/stratsync/internal/store"
)

// Store keeps entity records in a blob.Bucket. Writes are serialised
// within the process; concurrent writers in other processes are not
// coordinated.
type Store struct {
	bucket blob.Bucket
	mu     sync.Mutex
}

var _ store.Store = (*Store)(nil)

// New creates a store over bucket.
func New(bucket blob.Bucket) *Store {
	return &Store{bucket: bucket}
}

func key(entityType, id string) string {
	return entityType + "/" + id + ".json"
}

// Create writes a new record, assigning an id if it has none.
func (s *Store) Create(ctx context.Context, entityType string, rec store.Record) (store.Record, error) {
	rec = rec.Clone()
	if rec.ID() == "" {
		rec["id"] = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(ctx, entityType, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List loads every record of entityType and applies q.
func (s *Store) List(ctx context.Context, entityType string, q store.Query) ([]store.Record, error) {
	keys, err := s.bucket.Keys(ctx, entityType+"/")
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", entityType, err)
	}

	records := make([]store.Record, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, ".json") {
			continue
		}
		rec, err := s.read(ctx, k)
		if errors.Is(err, core.ErrNotFound) {
			// Deleted between listing and reading.
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return store.Apply(records, q), nil
}

// Update merges patch into an existing record.
func (s *Store) Update(ctx context.Context, entityType, id string, patch store.Patch) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, entityType, id, patch)
}

// BulkUpdate applies patch to each id. Per-record failures are reported
// in the result; only a cancelled context fails the whole call.
func (s *Store) BulkUpdate(ctx context.Context, entityType string, ids []string, patch store.Patch) (store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.BulkResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := s.apply(ctx, entityType, id, patch); err != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

// Count returns the number of records of entityType.
func (s *Store) Count(ctx context.Context, entityType string) (int, error) {
	keys, err := s.bucket.Keys(ctx, entityType+"/")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) apply(ctx context.Context, entityType, id string, patch store.Patch) (store.Record, error) {
	rec, err := s.read(ctx, key(entityType, id))
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		rec[k] = v
	}
	if err := s.put(ctx, entityType, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) read(ctx context.Context, k string) (store.Record, error) {
	data, err := s.bucket.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	var rec store.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, core.WrapError(core.ErrMalformedRecord, fmt.Errorf("%s: %w", k, err))
	}
	return rec, nil
}

func (s *Store) put(ctx context.Context, entityType string, rec store.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return core.WrapError(core.ErrMalformedRecord, err)
	}
	return s.bucket.Put(ctx, key(entityType, rec.ID()), data)
}
