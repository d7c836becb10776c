package syncer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"qfleet/internal/store"
	"qfleet/internal/types"
)

// Applier applies queued ops to the remote side. The engine only sees this
// interface; tests substitute fakes.
type Applier interface {
	// Apply performs the op remotely. Errors carry taxonomy kinds.
	Apply(ctx context.Context, op types.SyncOp) error
	// RecordTimestamp reports when the remote copy of a record was written,
	// for newest-wins conflict resolution. ok is false when the table has
	// no per-record timestamp to compare.
	RecordTimestamp(ctx context.Context, table, recordID string) (ts time.Time, ok bool, err error)
	// Ping probes remote reachability.
	Ping(ctx context.Context) error
}

// RemoteApplier adapts the Postgres store to the Applier interface by
// decoding each op's payload into its record type.
type RemoteApplier struct {
	remote *store.RemoteStore
}

// NewRemoteApplier wraps a remote store.
func NewRemoteApplier(remote *store.RemoteStore) *RemoteApplier {
	return &RemoteApplier{remote: remote}
}

// Ping probes the remote.
func (a *RemoteApplier) Ping(ctx context.Context) error {
	return a.remote.Ping(ctx)
}

// Apply dispatches on the op's table. Upsert semantics make replays after
// a crash harmless.
func (a *RemoteApplier) Apply(ctx context.Context, op types.SyncOp) error {
	if op.OpType == types.OpDelete {
		return a.applyDelete(ctx, op)
	}
	switch op.Table {
	case store.TableMemoryEntries:
		var e types.MemoryEntry
		if err := json.Unmarshal(op.Payload, &e); err != nil {
			return types.WrapError(types.KindInvalidInput, err, "decoding memory entry payload")
		}
		return a.remote.StoreMemoryEntry(ctx, e)
	case store.TableEvents:
		var e types.EventRecord
		if err := json.Unmarshal(op.Payload, &e); err != nil {
			return types.WrapError(types.KindInvalidInput, err, "decoding event payload")
		}
		return a.remote.StoreEvent(ctx, e)
	case store.TableMetrics:
		var m types.MetricRecord
		if err := json.Unmarshal(op.Payload, &m); err != nil {
			return types.WrapError(types.KindInvalidInput, err, "decoding metric payload")
		}
		return a.remote.StoreMetric(ctx, m)
	case store.TableCodeChunks:
		var c types.CodeChunk
		if err := json.Unmarshal(op.Payload, &c); err != nil {
			return types.WrapError(types.KindInvalidInput, err, "decoding code chunk payload")
		}
		return a.remote.StoreCodeChunk(ctx, c)
	case store.TableExperiences:
		var e types.Experience
		if err := json.Unmarshal(op.Payload, &e); err != nil {
			return types.WrapError(types.KindInvalidInput, err, "decoding experience payload")
		}
		return a.remote.StoreExperience(ctx, e)
	case store.TablePatterns:
		var p types.Pattern
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return types.WrapError(types.KindInvalidInput, err, "decoding pattern payload")
		}
		return a.remote.StorePattern(ctx, p)
	case store.TableAgentStates:
		return a.remote.SaveAgentState(ctx, op.RecordID, op.Payload)
	case store.TablePlans:
		var p types.Plan
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return types.WrapError(types.KindInvalidInput, err, "decoding plan payload")
		}
		return a.remote.SavePlan(ctx, &p)
	default:
		return types.NewError(types.KindInvalidInput, "unknown sync table %q", op.Table)
	}
}

func (a *RemoteApplier) applyDelete(ctx context.Context, op types.SyncOp) error {
	switch op.Table {
	case store.TableMemoryEntries:
		partition, key, ok := splitMemoryRecordID(op.RecordID)
		if !ok {
			return types.NewError(types.KindInvalidInput, "malformed memory record id %q", op.RecordID)
		}
		_, err := a.remote.DeleteMemoryEntries(ctx, key, partition)
		return err
	case store.TableCodeChunks:
		return a.remote.DeleteCodeChunk(ctx, op.RecordID)
	case store.TableAgentStates:
		return a.remote.DeleteAgentState(ctx, op.RecordID)
	default:
		return types.NewError(types.KindInvalidInput, "delete not supported for table %q", op.Table)
	}
}

// RecordTimestamp resolves a remote record's write time where the schema
// has one.
func (a *RemoteApplier) RecordTimestamp(ctx context.Context, table, recordID string) (time.Time, bool, error) {
	switch table {
	case store.TableMemoryEntries:
		partition, key, ok := splitMemoryRecordID(recordID)
		if !ok {
			return time.Time{}, false, types.NewError(types.KindInvalidInput, "malformed memory record id %q", recordID)
		}
		e, err := a.remote.GetMemoryEntry(ctx, key, partition)
		if err != nil {
			if types.IsKind(err, types.KindNotFound) {
				return time.Time{}, false, nil
			}
			return time.Time{}, false, err
		}
		return e.CreatedAt, true, nil
	case store.TablePlans:
		p, err := a.remote.GetPlan(ctx, recordID)
		if err != nil {
			if types.IsKind(err, types.KindNotFound) {
				return time.Time{}, false, nil
			}
			return time.Time{}, false, err
		}
		ts := p.CreatedAt
		if p.CompletedAt != nil {
			ts = *p.CompletedAt
		}
		return ts, true, nil
	default:
		return time.Time{}, false, nil
	}
}

func splitMemoryRecordID(recordID string) (partition, key string, ok bool) {
	i := strings.Index(recordID, "/")
	if i <= 0 || i == len(recordID)-1 {
		return "", "", false
	}
	return recordID[:i], recordID[i+1:], true
}

var _ Applier = (*RemoteApplier)(nil)
