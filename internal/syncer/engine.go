// Package syncer pushes queued local mutations to the remote store. Writes
// coalesce per record, flush on a debounce window or queue pressure, and
// survive restarts through the durable queue in the local store.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"qfleet/internal/config"
	"qfleet/internal/logging"
	"qfleet/internal/store"
	"qfleet/internal/types"
)

// Options tune the engine. Zero values take the defaults below.
type Options struct {
	Debounce      time.Duration
	Interval      time.Duration
	MaxQueueSize  int
	RetryAttempts int
	RetryDelay    time.Duration
	Strategy      Strategy
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = 100
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Strategy == "" {
		o.Strategy = StrategyNewest
	}
	return o
}

// OptionsFromConfig translates the sync section of the config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Debounce:      cfg.Debounce(),
		Interval:      cfg.SyncInterval(),
		MaxQueueSize:  cfg.Sync.MaxQueueSize,
		RetryAttempts: cfg.Sync.RetryAttempts,
		RetryDelay:    cfg.RetryDelay(),
		Strategy:      Strategy(cfg.Sync.ConflictStrategy),
	}
}

// Engine is the background sync worker. One flush runs at a time; Enqueue
// never blocks on the network.
type Engine struct {
	opts    Options
	durable *store.LocalStore
	applier Applier

	mu      sync.Mutex
	pending map[string]types.SyncOp
	order   []string
	timer   *time.Timer
	online  bool
	syncing bool
	stopped bool

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine builds an engine over the durable queue in the local store and
// a remote applier.
func NewEngine(durable *store.LocalStore, applier Applier, opts Options) *Engine {
	return &Engine{
		opts:    opts.withDefaults(),
		durable: durable,
		applier: applier,
		pending: make(map[string]types.SyncOp),
		kick:    make(chan struct{}, 1),
	}
}

// Start reloads queued ops from disk, probes connectivity and launches the
// background worker.
func (e *Engine) Start(ctx context.Context) error {
	ops, err := e.durable.LoadSyncOps(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, op := range ops {
		key := opKey(op)
		if _, exists := e.pending[key]; !exists {
			e.order = append(e.order, key)
		}
		e.pending[key] = op
	}
	e.mu.Unlock()
	if len(ops) > 0 {
		logging.Syncer("restored %d queued ops", len(ops))
	}

	e.setOnline(e.applier.Ping(ctx) == nil)

	workerCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.loop(workerCtx)

	if e.Online() {
		e.ForceSyncNow()
	}
	return nil
}

// Enqueue queues a mutation. Ops for the same (table, recordId) coalesce,
// the newest replacing its predecessor with the retry counter reset. The
// flush fires after the debounce window, immediately under queue pressure.
func (e *Engine) Enqueue(op types.SyncOp) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}
	op.Retries = 0

	if err := e.durable.EnqueueSyncOp(context.Background(), op); err != nil {
		logging.SyncerError("durable enqueue failed for %s/%s: %v", op.Table, op.RecordID, err)
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	key := opKey(op)
	if _, exists := e.pending[key]; !exists {
		e.order = append(e.order, key)
	}
	e.pending[key] = op
	depth := len(e.pending)

	if depth >= e.opts.MaxQueueSize {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.mu.Unlock()
		e.ForceSyncNow()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.opts.Debounce, e.ForceSyncNow)
	e.mu.Unlock()
}

// ForceSyncNow schedules an immediate flush.
func (e *Engine) ForceSyncNow() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// SetOnlineStatus records connectivity. The offline-to-online transition
// triggers a flush of everything queued while disconnected.
func (e *Engine) SetOnlineStatus(online bool) {
	if e.setOnline(online) && online {
		logging.Syncer("back online, flushing queue")
		e.ForceSyncNow()
	}
}

// setOnline returns whether the status changed.
func (e *Engine) setOnline(online bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := e.online != online
	e.online = online
	return changed
}

// Online reports last known connectivity.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// CheckConnectivity pings the remote and updates status.
func (e *Engine) CheckConnectivity(ctx context.Context) {
	e.SetOnlineStatus(e.applier.Ping(ctx) == nil)
}

// PendingCount reports queue depth.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Shutdown stops the worker and makes a final synchronous flush attempt
// while the context allows.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if e.Online() {
		e.flush(ctx, true)
	}
	remaining := e.PendingCount()
	if remaining > 0 {
		logging.Syncer("shutdown with %d ops still queued, will resume next start", remaining)
	}
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
			e.flush(ctx, false)
		case <-ticker.C:
			e.CheckConnectivity(ctx)
			e.flush(ctx, false)
		}
	}
}

// flush drains the queue in order. Only one flush runs at a time; the
// shutdown flush passes final to process ops even though stopped is set.
func (e *Engine) flush(ctx context.Context, final bool) {
	e.mu.Lock()
	if e.syncing || !e.online || (e.stopped && !final) {
		e.mu.Unlock()
		return
	}
	e.syncing = true
	keys := make([]string, len(e.order))
	copy(keys, e.order)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	for _, key := range keys {
		e.mu.Lock()
		op, ok := e.pending[key]
		e.mu.Unlock()
		if !ok {
			continue
		}
		if !e.processOp(ctx, op) {
			return // went offline, keep the rest queued
		}
	}
}

// processOp applies one op with linear retries. Returns false when the
// remote became unreachable and the flush should stop.
func (e *Engine) processOp(ctx context.Context, op types.SyncOp) bool {
	var lastErr error
	for attempt := 1; attempt <= e.opts.RetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(e.opts.RetryDelay):
			}
		}

		err := e.applier.Apply(ctx, op)
		if err == nil {
			e.dequeue(op)
			return true
		}
		lastErr = err

		switch types.KindOf(err) {
		case types.KindRemoteUnavailable, types.KindTimeout:
			logging.SyncerWarn("remote unreachable syncing %s/%s: %v", op.Table, op.RecordID, err)
			e.recordRetry(op, attempt)
			e.SetOnlineStatus(false)
			return false
		case types.KindCancelled:
			e.recordRetry(op, attempt)
			return false
		case types.KindConflict, types.KindDuplicate:
			switch resolveConflict(ctx, e.opts.Strategy, e.applier, op) {
			case resolutionDrop:
				logging.Syncer("conflict on %s/%s resolved for remote, dropping local op", op.Table, op.RecordID)
				e.dequeue(op)
				return true
			case resolutionForce:
				// Appliers upsert, so one more apply overwrites.
				ferr := e.applier.Apply(ctx, op)
				if ferr == nil {
					e.dequeue(op)
					return true
				}
				lastErr = ferr
			}
		case types.KindInvalidInput:
			// Undecodable payload will never succeed.
			logging.SyncerError("dropping malformed op %s/%s: %v", op.Table, op.RecordID, err)
			e.dequeue(op)
			return true
		}
	}

	err := types.WrapError(types.KindExhaustedRetries, lastErr,
		"giving up on %s/%s after %d attempts", op.Table, op.RecordID, e.opts.RetryAttempts)
	logging.SyncerError("%v", err)
	e.dequeue(op)
	return true
}

func (e *Engine) dequeue(op types.SyncOp) {
	key := opKey(op)
	e.mu.Lock()
	delete(e.pending, key)
	for i, k := range e.order {
		if k == key {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	if err := e.durable.DeleteSyncOp(context.Background(), op.ID); err != nil {
		logging.SyncerError("cannot remove synced op %s: %v", op.ID, err)
	}
}

func (e *Engine) recordRetry(op types.SyncOp, attempt int) {
	e.mu.Lock()
	if cur, ok := e.pending[opKey(op)]; ok {
		cur.Retries = op.Retries + attempt
		e.pending[opKey(op)] = cur
	}
	e.mu.Unlock()
	if err := e.durable.UpdateSyncRetries(context.Background(), op.ID, op.Retries+attempt); err != nil {
		logging.SyncerError("cannot persist retry count for %s: %v", op.ID, err)
	}
}

func opKey(op types.SyncOp) string {
	return op.Table + "/" + op.RecordID
}
