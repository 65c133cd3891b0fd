package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kupontech/kupon-ledger/internal/models"
)

// nearLimitRatio is the usage ratio at which the guard raises the
// informational near-limit warning.
var nearLimitRatio = decimal.NewFromFloat(0.8)

// CheckLimit evaluates a proposed disbursement against the rolling monthly
// ceiling. contracts must be the consistent snapshot of contracts whose
// start date falls in month; the caller is responsible for reading that
// snapshot inside the same transaction that inserts the new contract.
//
// The guard is advisory: it never mutates ledger state, it only tells the
// caller whether creating the contract is allowed.
func CheckLimit(proposed decimal.Decimal, month time.Time, contracts []models.CreditContract, ceiling decimal.Decimal) (models.LimitDecision, error) {
	if !ceiling.IsPositive() {
		return models.LimitDecision{}, fmt.Errorf("%w: monthly ceiling must be positive, got %s", ErrValidation, ceiling)
	}
	if proposed.IsNegative() {
		return models.LimitDecision{}, fmt.Errorf("%w: proposed amount must not be negative, got %s", ErrValidation, proposed)
	}

	used := decimal.Zero
	for _, c := range contracts {
		if c.Status == models.ContractStatusCancelled {
			continue
		}
		if sameMonth(c.StartDate, month) {
			used = used.Add(c.TotalLoanAmount)
		}
	}

	remaining := ceiling.Sub(used)
	ratio := used.Div(ceiling)
	return models.LimitDecision{
		Approved:   proposed.LessThanOrEqual(remaining),
		Used:       used,
		Remaining:  remaining,
		Ceiling:    ceiling,
		UsageRatio: ratio,
		NearLimit:  ratio.GreaterThanOrEqual(nearLimitRatio),
	}, nil
}

func sameMonth(a, b time.Time) bool {
	return a.UTC().Year() == b.UTC().Year() && a.UTC().Month() == b.UTC().Month()
}
