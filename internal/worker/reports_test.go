package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"contas/internal/amqp"
	"contas/internal/cache"
	"contas/internal/core"
	"contas/internal/services"
	"contas/internal/storage"
	"contas/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	owners []string
	err    error
}

func (p *recordingPublisher) PublishReportInvalidation(_ context.Context, ownerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owners = append(p.owners, ownerID)
	return p.err
}

// loopbackPublisher hands invalidations straight to a consumer handler, the
// way the broker would.
type loopbackPublisher struct {
	handle func(context.Context, *amqp.ReportInvalidation) error
}

func (p loopbackPublisher) PublishReportInvalidation(ctx context.Context, ownerID string) error {
	return p.handle(ctx, amqp.NewReportInvalidation(ownerID))
}

func TestReportBroadcast(t *testing.T) {
	pub := &recordingPublisher{}
	NewReportBroadcast(pub).Invalidate("alice")
	if len(pub.owners) != 1 || pub.owners[0] != "alice" {
		t.Errorf("published %v, want [alice]", pub.owners)
	}

	failing := &recordingPublisher{err: errors.New("circuit breaker is open")}
	NewReportBroadcast(failing).Invalidate("bob")
	if len(failing.owners) != 1 {
		t.Errorf("published %v, want one attempt", failing.owners)
	}
}

func TestHandleReplicationRequest_InvalidatesReports(t *testing.T) {
	ctx := context.Background()
	feb := core.Period{Year: 2025, Month: time.February}

	tests := []struct {
		name       string
		replicator Replicator
		wantOwners int
		wantErr    bool
	}{
		{"generated", &stubReplicator{}, 1, false},
		{"store failure", &stubReplicator{err: services.ErrStoreUnavailable}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			w := NewReplicationWorker(tt.replicator, &countingSweeper{}, NewReportBroadcast(pub), time.Hour)

			err := w.HandleReplicationRequest(ctx, amqp.NewReplicationRequest("alice", feb))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(pub.owners) != tt.wantOwners {
				t.Errorf("invalidations = %v, want %d", pub.owners, tt.wantOwners)
			}
		})
	}
}

func TestSweepRefreshesCachedReport(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertExpenses(ctx, []core.Expense{{
			ID:          "tv-1",
			OwnerID:     "alice",
			Period:      core.Period{Year: 2025, Month: time.February},
			Name:        "TV Sala",
			Amount:      decimal.NewFromInt(500),
			DueDate:     core.NewDate(2025, 2, 5),
			Installment: &core.Installment{Index: 1, Total: 2},
			Status:      core.StatusPending,
		}})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// API side: cached aggregator fed by the invalidation consumer.
	reports := services.NewInstallmentAggregator(store, cache.NewLRUCache[core.InstallmentReport](8, time.Hour))
	before, err := reports.GroupInstallments(ctx, "alice")
	if err != nil {
		t.Fatalf("GroupInstallments: %v", err)
	}
	if !before.TotalPending.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("pending before sweep = %s, want 500", before.TotalPending)
	}

	// Worker side: sweeper broadcasting through the loopback.
	engine := services.NewReplicationEngine(store, nil)
	broadcast := NewReportBroadcast(loopbackPublisher{handle: InvalidationHandler(reports)})
	sweeper := services.NewReplicationSweeper(store, engine, broadcast)
	res, err := sweeper.Sweep(ctx, time.Date(2025, 2, 12, 6, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Promoted != 1 {
		t.Fatalf("promoted = %d, want 1", res.Promoted)
	}

	after, err := reports.GroupInstallments(ctx, "alice")
	if err != nil {
		t.Fatalf("GroupInstallments after sweep: %v", err)
	}
	if !after.TotalPending.IsZero() || !after.TotalOverdue.Equal(decimal.NewFromInt(500)) {
		t.Errorf("report after sweep: pending=%s overdue=%s, want 0 and 500", after.TotalPending, after.TotalOverdue)
	}
}
