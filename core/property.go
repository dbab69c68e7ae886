package core

import "context"

// PropertyStore is a small keyed table for cursor-style state the
// workers carry across runs (sync heights, fetch cutoffs). Values are
// JSON-encoded.
type PropertyStore interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any) error
}
