package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"contas/internal/core"
	"contas/internal/storage"
	"contas/internal/storage/memory"
)

var (
	jan2025 = core.Period{Year: 2025, Month: time.January}
	feb2025 = core.Period{Year: 2025, Month: time.February}
)

func seedExpenses(t *testing.T, store storage.Store, expenses ...core.Expense) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(tx storage.Tx) error {
		_, err := tx.InsertExpenses(context.Background(), expenses)
		return err
	})
	if err != nil {
		t.Fatalf("seed expenses: %v", err)
	}
}

func seedIncomes(t *testing.T, store storage.Store, incomes ...core.Income) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(tx storage.Tx) error {
		_, err := tx.InsertIncomes(context.Background(), incomes)
		return err
	})
	if err != nil {
		t.Fatalf("seed incomes: %v", err)
	}
}

func newExpense(id, owner string, p core.Period, name, amount string, due core.Date) core.Expense {
	return core.Expense{
		ID:      id,
		OwnerID: owner,
		Period:  p,
		Name:    name,
		Amount:  decimal.RequireFromString(amount),
		DueDate: due,
		Status:  core.StatusPending,
	}
}

func recurring(e core.Expense) core.Expense {
	e.Recurring = true
	return e
}

func installment(e core.Expense, index, total int) core.Expense {
	e.Installment = &core.Installment{Index: index, Total: total}
	return e
}

func withStatus(e core.Expense, s core.Status) core.Expense {
	e.Status = s
	return e
}

func newIncome(id, owner string, p core.Period, name, amount string, recurring bool) core.Income {
	return core.Income{
		ID:        id,
		OwnerID:   owner,
		Period:    p,
		Name:      name,
		Amount:    decimal.RequireFromString(amount),
		Recurring: recurring,
	}
}

func newTestEngine(store storage.Store) *ReplicationEngine {
	engine := NewReplicationEngine(store, nil)
	var seq int
	var mu sync.Mutex
	engine.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("gen-%d", seq)
	}
	engine.now = func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) }
	return engine
}

func seedJanuary(t *testing.T, store storage.Store, owner string) {
	t.Helper()
	seedExpenses(t, store,
		recurring(newExpense("aluguel", owner, jan2025, "Aluguel", "1500", core.NewDate(2025, 1, 10))),
		installment(newExpense("tv", owner, jan2025, "TV Parcela", "200", core.NewDate(2025, 1, 15)), 3, 10),
		newExpense("jantar", owner, jan2025, "Jantar", "80", core.NewDate(2025, 1, 20)),
	)
	seedIncomes(t, store, newIncome("salario", owner, jan2025, "Salario", "5000", true))
}

func TestReplicate_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	engine := newTestEngine(store)
	seedJanuary(t, store, "alice")

	first, err := engine.Replicate(ctx, "alice", feb2025)
	if err != nil {
		t.Fatalf("first Replicate: %v", err)
	}
	if first.Expenses != 2 || first.Incomes != 1 || !first.Generated() {
		t.Fatalf("first call = %+v, want 2 expenses and 1 income", first)
	}

	second, err := engine.Replicate(ctx, "alice", feb2025)
	if err != nil {
		t.Fatalf("second Replicate: %v", err)
	}
	if second.Generated() {
		t.Fatalf("second call generated %+v", second)
	}

	expenses, _ := store.ListExpenses(ctx, "alice", feb2025)
	if len(expenses) != 2 {
		t.Fatalf("february holds %d expenses, want 2", len(expenses))
	}
	byOrigin := make(map[string]core.Expense)
	for _, e := range expenses {
		byOrigin[e.OriginID] = e
	}
	tv, ok := byOrigin["tv"]
	if !ok {
		t.Fatal("missing TV Parcela replica")
	}
	if tv.Installment == nil || *tv.Installment != (core.Installment{Index: 4, Total: 10}) {
		t.Errorf("TV installment = %v, want 4/10", tv.Installment)
	}
	if tv.DueDate.String() != "2025-02-15" {
		t.Errorf("TV due = %s, want 2025-02-15", tv.DueDate)
	}
	if _, ok := byOrigin["jantar"]; ok {
		t.Error("one-off expense was replicated")
	}

	incomes, _ := store.ListIncomes(ctx, "alice", feb2025)
	if len(incomes) != 1 || incomes[0].OriginID != "salario" {
		t.Fatalf("february incomes = %+v", incomes)
	}
}

func TestReplicate_Classification(t *testing.T) {
	tests := []struct {
		name      string
		source    core.Expense
		wantCount int
	}{
		{
			name:      "terminal installment",
			source:    installment(newExpense("e", "alice", jan2025, "TV", "200", core.NewDate(2025, 1, 15)), 10, 10),
			wantCount: 0,
		},
		{
			name:      "single payment installment",
			source:    installment(newExpense("e", "alice", jan2025, "Fridge", "900", core.NewDate(2025, 1, 15)), 1, 1),
			wantCount: 0,
		},
		{
			name:      "non recurring one-off",
			source:    newExpense("e", "alice", jan2025, "Jantar", "80", core.NewDate(2025, 1, 20)),
			wantCount: 0,
		},
		{
			name:      "non recurring installment still advances",
			source:    installment(newExpense("e", "alice", jan2025, "Sofa", "300", core.NewDate(2025, 1, 5)), 1, 3),
			wantCount: 1,
		},
		{
			name:      "plain recurring",
			source:    recurring(newExpense("e", "alice", jan2025, "Gym", "50", core.NewDate(2025, 1, 5))),
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			seedExpenses(t, store, tt.source)

			res, err := newTestEngine(store).Replicate(context.Background(), "alice", feb2025)
			if err != nil {
				t.Fatalf("Replicate: %v", err)
			}
			if res.Expenses != tt.wantCount {
				t.Errorf("replicated %d expenses, want %d", res.Expenses, tt.wantCount)
			}
		})
	}
}

func TestReplicate_ResetsStatusToPending(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedExpenses(t, store,
		withStatus(recurring(newExpense("rent", "alice", jan2025, "Rent", "1500", core.NewDate(2025, 1, 10))), core.StatusPaid),
		withStatus(installment(newExpense("tv", "alice", jan2025, "TV", "200", core.NewDate(2025, 1, 15)), 1, 4), core.StatusOverdue),
	)

	if _, err := newTestEngine(store).Replicate(ctx, "alice", feb2025); err != nil {
		t.Fatalf("Replicate: %v", err)
	}

	expenses, _ := store.ListExpenses(ctx, "alice", feb2025)
	if len(expenses) != 2 {
		t.Fatalf("got %d replicas, want 2", len(expenses))
	}
	for _, e := range expenses {
		if e.Status != core.StatusPending {
			t.Errorf("%s replica status = %s, want Pending", e.Name, e.Status)
		}
	}
}

func TestReplicate_ClampsDueDate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	occurs := core.NewDate(2025, 1, 31)
	seedExpenses(t, store, recurring(newExpense("rent", "alice", jan2025, "Rent", "1500", core.NewDate(2025, 1, 31))))
	inc := newIncome("pay", "alice", jan2025, "Salary", "5000", true)
	inc.OccursOn = &occurs
	seedIncomes(t, store, inc)

	if _, err := newTestEngine(store).Replicate(ctx, "alice", feb2025); err != nil {
		t.Fatalf("Replicate: %v", err)
	}

	expenses, _ := store.ListExpenses(ctx, "alice", feb2025)
	if len(expenses) != 1 || expenses[0].DueDate.String() != "2025-02-28" {
		t.Fatalf("replica = %+v, want due 2025-02-28", expenses)
	}
	incomes, _ := store.ListIncomes(ctx, "alice", feb2025)
	if len(incomes) != 1 || incomes[0].OccursOn == nil || incomes[0].OccursOn.String() != "2025-02-28" {
		t.Fatalf("income replica = %+v, want occurs 2025-02-28", incomes)
	}
}

func TestReplicate_UserIsolation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedJanuary(t, store, "alice")

	res, err := newTestEngine(store).Replicate(ctx, "bob", feb2025)
	if err != nil {
		t.Fatalf("Replicate: %v", err)
	}
	if res.Generated() {
		t.Fatalf("bob got %+v from alice's ledger", res)
	}
	expenses, _ := store.ListExpenses(ctx, "bob", feb2025)
	if len(expenses) != 0 {
		t.Fatalf("bob holds %d february expenses", len(expenses))
	}
}

func TestReplicate_EmptySourceIsNoop(t *testing.T) {
	res, err := newTestEngine(memory.New()).Replicate(context.Background(), "alice", feb2025)
	if err != nil {
		t.Fatalf("Replicate: %v", err)
	}
	if res.Generated() {
		t.Fatalf("empty source generated %+v", res)
	}
}

func TestReplicate_BackfillsDeletedReplicaOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	engine := newTestEngine(store)
	seedJanuary(t, store, "alice")

	if _, err := engine.Replicate(ctx, "alice", feb2025); err != nil {
		t.Fatalf("Replicate: %v", err)
	}
	expenses, _ := store.ListExpenses(ctx, "alice", feb2025)
	var rentReplica string
	for _, e := range expenses {
		if e.OriginID == "aluguel" {
			rentReplica = e.ID
		}
	}
	if err := store.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteExpenses(ctx, "alice", []string{rentReplica})
	}); err != nil {
		t.Fatalf("delete replica: %v", err)
	}

	res, err := engine.Replicate(ctx, "alice", feb2025)
	if err != nil {
		t.Fatalf("Replicate: %v", err)
	}
	if res.Expenses != 1 || res.Incomes != 0 {
		t.Fatalf("backfill = %+v, want exactly the deleted expense", res)
	}
}

func TestReplicate_SkipsUpfrontInstallments(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedExpenses(t, store,
		installment(newExpense("tv1", "alice", jan2025, "TV", "200", core.NewDate(2025, 1, 15)), 1, 3),
		installment(newExpense("tv2", "alice", feb2025, " tv ", "200", core.NewDate(2025, 2, 15)), 2, 3),
	)

	res, err := newTestEngine(store).Replicate(ctx, "alice", feb2025)
	if err != nil {
		t.Fatalf("Replicate: %v", err)
	}
	if res.Generated() {
		t.Fatalf("replicated over an upfront installment: %+v", res)
	}
}

func TestReplicate_CollapsesDuplicateSequenceInBatch(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedExpenses(t, store,
		installment(newExpense("a", "alice", jan2025, "Phone", "100", core.NewDate(2025, 1, 5)), 2, 6),
		installment(newExpense("b", "alice", jan2025, "phone", "100", core.NewDate(2025, 1, 5)), 2, 6),
	)

	res, err := newTestEngine(store).Replicate(ctx, "alice", feb2025)
	if err != nil {
		t.Fatalf("Replicate: %v", err)
	}
	if res.Expenses != 1 {
		t.Fatalf("replicated %d, want 1", res.Expenses)
	}
}

func TestReplicate_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	engine := newTestEngine(store)
	seedJanuary(t, store, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Replicate(ctx, "alice", feb2025); err != nil {
				t.Errorf("Replicate: %v", err)
			}
		}()
	}
	wg.Wait()

	expenses, _ := store.ListExpenses(ctx, "alice", feb2025)
	incomes, _ := store.ListIncomes(ctx, "alice", feb2025)
	if len(expenses) != 2 || len(incomes) != 1 {
		t.Fatalf("got %d expenses and %d incomes, want 2 and 1", len(expenses), len(incomes))
	}
}

// failingStore fails every income insert.
type failingStore struct {
	*memory.Store
}

type failingTx struct {
	storage.Tx
}

var errDiskFull = errors.New("disk full")

func (s failingStore) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx storage.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

func (failingTx) InsertIncomes(context.Context, []core.Income) (int, error) {
	return 0, errDiskFull
}

func TestReplicate_StoreFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedJanuary(t, mem, "alice")

	_, err := newTestEngine(failingStore{Store: mem}).Replicate(ctx, "alice", feb2025)
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errDiskFull) {
		t.Fatalf("err = %v, want ErrStoreUnavailable wrapping disk full", err)
	}

	expenses, _ := mem.ListExpenses(ctx, "alice", feb2025)
	if len(expenses) != 0 {
		t.Fatalf("partial batch persisted: %+v", expenses)
	}

	res, err := newTestEngine(mem).Replicate(ctx, "alice", feb2025)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Expenses != 2 || res.Incomes != 1 {
		t.Fatalf("retry = %+v, want full batch", res)
	}
}

type stubLocker struct {
	mu       sync.Mutex
	acquired []string
	released int
	err      error
}

func (l *stubLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

func TestReplicate_Locker(t *testing.T) {
	ctx := context.Background()

	t.Run("holds lock for the batch", func(t *testing.T) {
		store := memory.New()
		seedJanuary(t, store, "alice")
		locker := &stubLocker{}
		engine := newTestEngine(store)
		engine.locker = locker

		if _, err := engine.Replicate(ctx, "alice", feb2025); err != nil {
			t.Fatalf("Replicate: %v", err)
		}
		if len(locker.acquired) != 1 || locker.acquired[0] != "replicate:alice:2025-02" {
			t.Errorf("acquired = %v", locker.acquired)
		}
		if locker.released != 1 {
			t.Errorf("released %d times, want 1", locker.released)
		}
	})

	t.Run("busy lock is retryable", func(t *testing.T) {
		store := memory.New()
		seedJanuary(t, store, "alice")
		engine := newTestEngine(store)
		engine.locker = &stubLocker{err: errors.New("not obtained")}

		_, err := engine.Replicate(ctx, "alice", feb2025)
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("err = %v, want ErrStoreUnavailable", err)
		}
		expenses, _ := store.ListExpenses(ctx, "alice", feb2025)
		if len(expenses) != 0 {
			t.Fatal("replicated without the lock")
		}
	})
}

func TestReplicate_RejectsMissingOwner(t *testing.T) {
	_, err := newTestEngine(memory.New()).Replicate(context.Background(), "", feb2025)
	if !errors.Is(err, core.ErrMissingOwner) {
		t.Fatalf("err = %v, want ErrMissingOwner", err)
	}
}

// gateLocker holds its first Acquire until open is closed.
type gateLocker struct {
	entered chan struct{}
	open    chan struct{}
	once    sync.Once
}

func (l *gateLocker) Acquire(ctx context.Context, _ string) (func(context.Context) error, error) {
	first := false
	l.once.Do(func() { first = true })
	if first {
		close(l.entered)
		select {
		case <-l.open:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return func(context.Context) error { return nil }, nil
}

func TestReplicate_CallerCancelDoesNotFailOthers(t *testing.T) {
	store := memory.New()
	seedJanuary(t, store, "alice")
	locker := &gateLocker{entered: make(chan struct{}), open: make(chan struct{})}
	engine := newTestEngine(store)
	engine.locker = locker

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := engine.Replicate(ctxA, "alice", feb2025)
		errA <- err
	}()
	<-locker.entered

	errB := make(chan error, 1)
	go func() {
		_, err := engine.Replicate(context.Background(), "alice", feb2025)
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(locker.open)
	if err := <-errB; err != nil {
		t.Fatalf("live caller err = %v", err)
	}

	expenses, _ := store.ListExpenses(context.Background(), "alice", feb2025)
	incomes, _ := store.ListIncomes(context.Background(), "alice", feb2025)
	if len(expenses) != 2 || len(incomes) != 1 {
		t.Fatalf("got %d expenses and %d incomes, want 2 and 1", len(expenses), len(incomes))
	}
}
