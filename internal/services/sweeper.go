package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"contas/internal/core"
	"contas/internal/storage"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Period    core.Period
	Owners    int
	Generated int
	Promoted  int
	Failed    int
}

// ReplicationSweeper materializes the current period for every owner with
// ledger activity, so months appear even for owners who never open them.
type ReplicationSweeper struct {
	store   storage.Store
	engine  *ReplicationEngine
	reports ReportInvalidator
}

// NewReplicationSweeper returns a sweeper. reports is told about every owner
// whose ledger changed and may be nil.
func NewReplicationSweeper(store storage.Store, engine *ReplicationEngine, reports ReportInvalidator) *ReplicationSweeper {
	return &ReplicationSweeper{
		store:   store,
		engine:  engine,
		reports: reports,
	}
}

// Sweep replicates into the period containing now and promotes its overdue
// expenses. A failing owner is logged and skipped.
func (s *ReplicationSweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	if s.store == nil || s.engine == nil {
		return SweepResult{}, fmt.Errorf("sweeper not properly initialized")
	}

	today := core.DateOf(now)
	current := core.PeriodOf(today)
	result := SweepResult{Period: current}

	owners, err := s.owners(ctx, current)
	if err != nil {
		return result, storeFailure("list owners", err)
	}

	slog.InfoContext(ctx, "Sweeping ledgers",
		"period", current.String(),
		"owners", len(owners))

	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Owners++

		rep, err := s.engine.Replicate(ctx, owner, current)
		if err != nil {
			result.Failed++
			slog.ErrorContext(ctx, "Sweep replication failed",
				"owner_id", owner,
				"period", current.String(),
				"error", err)
			continue
		}
		result.Generated += rep.Expenses + rep.Incomes

		var promoted int
		err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
			var err error
			_, promoted, err = promotePeriod(ctx, tx, owner, current, today)
			return err
		})
		if err != nil {
			result.Failed++
			slog.ErrorContext(ctx, "Sweep promotion failed",
				"owner_id", owner,
				"period", current.String(),
				"error", err)
			continue
		}
		result.Promoted += promoted

		if s.reports != nil && (rep.Generated() || promoted > 0) {
			s.reports.Invalidate(owner)
		}
	}

	slog.InfoContext(ctx, "Sweep complete",
		"period", current.String(),
		"owners", result.Owners,
		"generated", result.Generated,
		"promoted", result.Promoted,
		"failed", result.Failed)

	return result, nil
}

// owners lists everyone with entries in current or the period before it.
func (s *ReplicationSweeper) owners(ctx context.Context, current core.Period) ([]string, error) {
	seen := make(map[string]struct{})
	for _, p := range []core.Period{current.Previous(), current} {
		owners, err := s.store.ListOwnersWithEntries(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, o := range owners {
			seen[o] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out, nil
}
