package telemetry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RecordReader answers the orchestrator's three read-only record RPCs
// (spec §4.6): a list fetch that reads the whole list in one call (with an
// optional sibling key fetched alongside; it takes no start index and does
// not page), a single blob fetch, and a batch-of-keys-sharing-a-parent
// fetch. It satisfies internal/httpapi.RecordRPC.
type RecordReader struct {
	rdb *redis.Client
}

// NewRecordReader wraps the same Redis client the Writer uses.
func NewRecordReader(rdb *redis.Client) *RecordReader {
	return &RecordReader{rdb: rdb}
}

// FetchList reads a list-typed key (e.g. a step or child-case process
// list) and, if sibling is non-empty, reads that key alongside it in one
// round-trip.
func (r *RecordReader) FetchList(ctx context.Context, recordBackupIndex, key, sibling string) (any, error) {
	pipe := r.rdb.Pipeline()
	listCmd := pipe.LRange(ctx, key, 0, -1)
	var siblingCmd *redis.StringCmd
	if sibling != "" {
		siblingCmd = pipe.Get(ctx, sibling)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("telemetry: fetch_list %q: %w", key, err)
	}

	out := map[string]any{"items": listCmd.Val()}
	if siblingCmd != nil {
		if v, err := siblingCmd.Result(); err == nil {
			out["sibling"] = v
		}
	}
	return out, nil
}

// FetchBlob reads a single hash- or string-typed key in full.
func (r *RecordReader) FetchBlob(ctx context.Context, recordBackupIndex, key string) (any, error) {
	typ, err := r.rdb.Type(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("telemetry: fetch_blob type %q: %w", key, err)
	}
	switch typ {
	case "hash":
		return r.rdb.HGetAll(ctx, key).Result()
	case "string":
		v, err := r.rdb.Get(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		return map[string]string{"value": v}, nil
	default:
		return nil, fmt.Errorf("telemetry: fetch_blob unsupported type %q for key %q", typ, key)
	}
}

// FetchBatch reads several keys that share a parent (e.g. every child
// case's status hash under one task) in a single pipelined round-trip.
func (r *RecordReader) FetchBatch(ctx context.Context, recordBackupIndex string, keys []string) (any, error) {
	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("telemetry: fetch_batch: %w", err)
	}

	out := make(map[string]map[string]string, len(keys))
	for i, k := range keys {
		out[k] = cmds[i].Val()
	}
	return out, nil
}
