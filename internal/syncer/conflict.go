package syncer

import (
	"context"
	"time"

	"qfleet/internal/logging"
	"qfleet/internal/types"
)

// Strategy decides which side wins when the remote rejects an op as a
// duplicate or a conflicting concurrent write.
type Strategy string

const (
	// StrategyLocal forces the local record over the remote one.
	StrategyLocal Strategy = "local"
	// StrategyRemote keeps the remote record and drops the local op.
	StrategyRemote Strategy = "remote"
	// StrategyNewest compares write times and keeps the later one. When
	// the remote side has no comparable timestamp the local op wins,
	// matching last-write-wins queue semantics.
	StrategyNewest Strategy = "newest"
)

// resolution is the engine's verdict for a conflicted op.
type resolution int

const (
	resolutionForce resolution = iota // re-apply, overwriting remote
	resolutionDrop                    // discard the local op
)

// resolveConflict maps a conflict error onto a verdict. Only called for
// errors whose kind is conflict or duplicate.
func resolveConflict(ctx context.Context, strategy Strategy, applier Applier, op types.SyncOp) resolution {
	switch strategy {
	case StrategyLocal:
		return resolutionForce
	case StrategyRemote:
		return resolutionDrop
	case StrategyNewest:
		remoteTS, ok, err := applier.RecordTimestamp(ctx, op.Table, op.RecordID)
		if err != nil {
			logging.SyncerWarn("cannot read remote timestamp for %s/%s, keeping local: %v",
				op.Table, op.RecordID, err)
			return resolutionForce
		}
		if !ok {
			return resolutionForce
		}
		if localWriteTime(op).After(remoteTS) {
			return resolutionForce
		}
		return resolutionDrop
	default:
		// Unknown strategies behave like newest-wins without a remote
		// timestamp.
		return resolutionForce
	}
}

// localWriteTime approximates when the local mutation happened. Enqueue
// follows the local write immediately, so queue time is close enough for
// ordering against remote writes.
func localWriteTime(op types.SyncOp) time.Time {
	return op.EnqueuedAt
}
