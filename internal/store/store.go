// Package store defines the contract with the remote entity store that
// holds trades and strategies, plus an in-memory implementation.
package store

import "context"

// Entity types used by the pipeline.
const (
	EntityTrade    = "Trade"
	EntityStrategy = "Strategy"
)

// Record is one entity as returned by the store.
type Record map[string]any

// Patch is a set of fields to write on a record. A nil value clears the field.
type Patch map[string]any

// Query narrows a List call.
type Query struct {
	// Filter matches records whose fields equal the given values.
	Filter map[string]any
	// Sort names a field; a leading "-" sorts descending.
	Sort  string
	Limit int
}

// BulkResult reports per-record outcomes of a bulk update.
type BulkResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// Lister fetches records.
type Lister interface {
	List(ctx context.Context, entityType string, q Query) ([]Record, error)
}

// Writer updates a single record.
type Writer interface {
	Update(ctx context.Context, entityType, id string, patch Patch) (Record, error)
}

// BulkUpdater applies one patch to many records.
type BulkUpdater interface {
	BulkUpdate(ctx context.Context, entityType string, ids []string, patch Patch) (BulkResult, error)
}

// Store is the full entity-store contract.
type Store interface {
	Lister
	Writer
	BulkUpdater
}

// ID returns the record's id field as a string.
func (r Record) ID() string {
	if v, ok := r["id"]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
