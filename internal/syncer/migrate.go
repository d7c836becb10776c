package syncer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"qfleet/internal/logging"
	"qfleet/internal/store"
	"qfleet/internal/types"
)

// MigrationReport counts what a bulk migration moved.
type MigrationReport struct {
	Tables map[string]int
	Total  int
}

// MigrateLocalToRemote copies every table family from the local store into
// the remote, table families in parallel. Used when a workspace upgrades
// from local to hybrid mode. Records are upserted, so a re-run after a
// partial failure resumes where it left off.
func MigrateLocalToRemote(ctx context.Context, local *store.LocalStore, remote *store.RemoteStore) (*MigrationReport, error) {
	report := &MigrationReport{Tables: make(map[string]int)}
	var mu sync.Mutex
	record := func(table string, n int) {
		mu.Lock()
		report.Tables[table] += n
		report.Total += n
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entries, err := local.QueryMemoryEntries(gctx, store.MemoryQuery{})
		if err != nil {
			return err
		}
		for i := range entries {
			entries[i].CreatedAt = NormalizeTimestamp(entries[i].CreatedAt)
		}
		if len(entries) > 0 {
			if err := remote.StoreMemoryEntries(gctx, entries); err != nil {
				return err
			}
		}
		record(store.TableMemoryEntries, len(entries))
		return nil
	})

	g.Go(func() error {
		events, err := local.QueryEvents(gctx, store.EventQuery{})
		if err != nil {
			return err
		}
		for i := range events {
			events[i].Timestamp = NormalizeTimestamp(events[i].Timestamp)
		}
		if len(events) > 0 {
			if err := remote.StoreEvents(gctx, events); err != nil {
				return err
			}
		}
		record(store.TableEvents, len(events))
		return nil
	})

	g.Go(func() error {
		metrics, err := local.QueryMetrics(gctx, store.MetricQuery{})
		if err != nil {
			return err
		}
		for i := range metrics {
			metrics[i].Timestamp = NormalizeTimestamp(metrics[i].Timestamp)
		}
		if len(metrics) > 0 {
			if err := remote.StoreMetrics(gctx, metrics); err != nil {
				return err
			}
		}
		record(store.TableMetrics, len(metrics))
		return nil
	})

	g.Go(func() error {
		chunks, err := local.QueryCodeChunks(gctx, store.ChunkQuery{})
		if err != nil {
			return err
		}
		if len(chunks) > 0 {
			if err := remote.StoreCodeChunks(gctx, chunks); err != nil {
				return err
			}
		}
		record(store.TableCodeChunks, len(chunks))
		return nil
	})

	g.Go(func() error {
		experiences, err := local.QueryExperiences(gctx, store.ExperienceQuery{})
		if err != nil {
			return err
		}
		for _, e := range experiences {
			e.CreatedAt = NormalizeTimestamp(e.CreatedAt)
			if err := remote.StoreExperience(gctx, e); err != nil {
				return err
			}
		}
		record(store.TableExperiences, len(experiences))
		return nil
	})

	g.Go(func() error {
		patterns, err := local.QueryPatterns(gctx, store.PatternQuery{})
		if err != nil {
			return err
		}
		for _, p := range patterns {
			p.CreatedAt = NormalizeTimestamp(p.CreatedAt)
			if err := remote.StorePattern(gctx, p); err != nil {
				return err
			}
		}
		record(store.TablePatterns, len(patterns))
		return nil
	})

	g.Go(func() error {
		agents, err := local.ListAgentsWithState(gctx)
		if err != nil {
			return err
		}
		moved := 0
		for _, id := range agents {
			blob, err := local.LoadAgentState(gctx, id)
			if err != nil {
				// Corrupt snapshots quarantine themselves on load; skip
				// rather than abort the whole migration.
				if types.IsKind(err, types.KindCorruptState) {
					logging.Migrate("skipping corrupt state for agent %s", id)
					continue
				}
				return err
			}
			if err := remote.SaveAgentState(gctx, id, blob); err != nil {
				return err
			}
			moved++
		}
		record(store.TableAgentStates, moved)
		return nil
	})

	g.Go(func() error {
		plans, err := local.QueryPlans(gctx, store.PlanQuery{})
		if err != nil {
			return err
		}
		for _, p := range plans {
			p.CreatedAt = NormalizeTimestamp(p.CreatedAt)
			if err := remote.SavePlan(gctx, p); err != nil {
				return err
			}
		}
		record(store.TablePlans, len(plans))
		return nil
	})

	if err := g.Wait(); err != nil {
		return report, err
	}
	logging.Migrate("migrated %d records to remote", report.Total)
	return report, nil
}

// NormalizeTimestamp repairs timestamps from older local databases. A
// column written in epoch seconds decodes as an early-1970 time under the
// millisecond reading and trips the lower bound; zero and far-future values
// are equally implausible. All of them are replaced with now.
func NormalizeTimestamp(t time.Time) time.Time {
	lower := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	upper := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	if t.IsZero() || t.Before(lower) || t.After(upper) {
		return time.Now()
	}
	return t
}

// Attach wires a hybrid store's mutation stream into the engine's queue.
func Attach(h *store.HybridStore, e *Engine) {
	h.SetEnqueue(e.Enqueue)
}
