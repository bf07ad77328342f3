package services

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"contas/internal/core"
	"contas/internal/storage"
)

// InstallmentAggregator reports the progress of installment purchases.
type InstallmentAggregator struct {
	store storage.Reader
	cache ReportCache
}

// NewInstallmentAggregator returns an aggregator. cache may be nil.
func NewInstallmentAggregator(store storage.Reader, cache ReportCache) *InstallmentAggregator {
	return &InstallmentAggregator{store: store, cache: cache}
}

func (a *InstallmentAggregator) GroupInstallments(ctx context.Context, ownerID string) (core.InstallmentReport, error) {
	if ownerID == "" {
		return core.InstallmentReport{}, core.ErrMissingOwner
	}
	if a.cache != nil {
		if report, ok := a.cache.Get(ownerID); ok {
			return report, nil
		}
	}

	expenses, err := a.store.ListInstallmentExpenses(ctx, ownerID)
	if err != nil {
		return core.InstallmentReport{}, storeFailure("list installments", err)
	}
	report := BuildInstallmentReport(expenses)

	if a.cache != nil {
		a.cache.Set(ownerID, report)
	}
	return report, nil
}

// Invalidate drops the cached report of ownerID.
func (a *InstallmentAggregator) Invalidate(ownerID string) {
	if a != nil && a.cache != nil {
		a.cache.Delete(ownerID)
	}
}

type purchaseKey struct {
	name  string
	total int
}

type purchaseAccumulator struct {
	name      string
	purchase  decimal.Decimal
	paid      decimal.Decimal
	remaining decimal.Decimal
	members   []core.Expense
}

// BuildInstallmentReport groups expenses into purchases keyed by normalized
// name and installment total. Expenses outside a sequence of more than one
// payment are ignored.
func BuildInstallmentReport(expenses []core.Expense) core.InstallmentReport {
	var (
		keys   []purchaseKey
		groups = make(map[purchaseKey]*purchaseAccumulator)

		spent, paid, pending, overdue decimal.Decimal
	)

	members := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if e.Installment != nil && e.Installment.Total > 1 {
			members = append(members, e)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.Period != b.Period {
			return a.Period.Start().Before(b.Period.Start())
		}
		return a.Installment.Index < b.Installment.Index
	})

	for _, e := range members {
		k := purchaseKey{name: core.NormalizeName(e.Name), total: e.Installment.Total}
		acc, ok := groups[k]
		if !ok {
			acc = &purchaseAccumulator{name: e.Name}
			groups[k] = acc
			keys = append(keys, k)
		}

		acc.purchase = acc.purchase.Add(e.Amount)
		acc.members = append(acc.members, e)
		spent = spent.Add(e.Amount)

		switch e.Status {
		case core.StatusPaid:
			acc.paid = acc.paid.Add(e.Amount)
			paid = paid.Add(e.Amount)
		case core.StatusOverdue:
			acc.remaining = acc.remaining.Add(e.Amount)
			overdue = overdue.Add(e.Amount)
		default:
			acc.remaining = acc.remaining.Add(e.Amount)
			pending = pending.Add(e.Amount)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].total < keys[j].total
	})

	report := core.InstallmentReport{
		Groups:       make([]core.PurchaseGroup, 0, len(keys)),
		TotalSpent:   core.RoundMoney(spent),
		TotalPaid:    core.RoundMoney(paid),
		TotalPending: core.RoundMoney(pending),
		TotalOverdue: core.RoundMoney(overdue),
	}
	for _, k := range keys {
		acc := groups[k]
		status := core.GroupInProgress
		if acc.remaining.IsZero() {
			status = core.GroupComplete
		}
		report.Groups = append(report.Groups, core.PurchaseGroup{
			Name:             acc.name,
			InstallmentTotal: k.total,
			PurchaseTotal:    core.RoundMoney(acc.purchase),
			Paid:             core.RoundMoney(acc.paid),
			Remaining:        core.RoundMoney(acc.remaining),
			HasPending:       acc.remaining.IsPositive(),
			Status:           status,
			Installments:     acc.members,
		})
	}
	return report
}
