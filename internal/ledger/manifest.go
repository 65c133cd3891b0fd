package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kupontech/kupon-ledger/internal/models"
)

// BuildManifest filters and aggregates invoice rows into the collection
// view handed to a collector or the reporting layer. Pure read-side
// computation over a snapshot; it tolerates the snapshot being stale by
// the time it is displayed.
//
// Rows come back with their status derived as of today and are ordered by
// due date ascending, then contract reference, so repeated runs over the
// same snapshot produce identical output.
func BuildManifest(rows []models.InvoiceRow, filter models.ManifestFilter, today time.Time) models.Manifest {
	out := models.Manifest{
		Rows:           []models.InvoiceRow{},
		TotalBilled:    decimal.Zero,
		TotalCollected: decimal.Zero,
		CollectionRate: decimal.Zero,
	}

	for _, row := range rows {
		row.Status = DeriveStatus(row.Status, row.DueDate, row.Amount, row.PaidAmount, today)
		if !matches(row, filter) {
			continue
		}
		out.Rows = append(out.Rows, row)
		out.TotalBilled = out.TotalBilled.Add(row.Amount)
		out.TotalCollected = out.TotalCollected.Add(row.PaidAmount)
		if row.Status == models.CouponStatusOverdue {
			out.OverdueCount++
		}
	}

	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, b := out.Rows[i], out.Rows[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.ContractRef != b.ContractRef {
			return a.ContractRef < b.ContractRef
		}
		return a.InstallmentIndex < b.InstallmentIndex
	})

	out.Count = len(out.Rows)
	if out.TotalBilled.IsPositive() {
		out.CollectionRate = out.TotalCollected.Div(out.TotalBilled)
	}
	return out
}

func matches(row models.InvoiceRow, f models.ManifestFilter) bool {
	if f.SalesID != nil && row.SalesID != *f.SalesID {
		return false
	}
	if f.DueFrom != nil && DateOnly(row.DueDate).Before(DateOnly(*f.DueFrom)) {
		return false
	}
	if f.DueTo != nil && DateOnly(row.DueDate).After(DateOnly(*f.DueTo)) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if row.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
