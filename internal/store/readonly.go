package store

import "context"

// ReadOnly wraps a Lister as a Store whose writes are accepted and
// discarded. Update echoes the patch onto the id; BulkUpdate reports every
// id as succeeded.
func ReadOnly(l Lister) Store {
	return readOnly{l}
}

type readOnly struct {
	Lister
}

func (readOnly) Update(ctx context.Context, entityType, id string, patch Patch) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := Record{"id": id}
	for k, v := range patch {
		rec[k] = v
	}
	return rec, nil
}

func (readOnly) BulkUpdate(ctx context.Context, entityType string, ids []string, patch Patch) (BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return BulkResult{}, err
	}
	return BulkResult{Succeeded: append([]string(nil), ids...)}, nil
}
