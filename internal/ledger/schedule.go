package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kupontech/kupon-ledger/internal/models"
)

// GenerateSchedule derives the full installment sequence for a contract:
// one coupon per day of the tenor, the first due the day after startDate.
//
// Each coupon carries floor(total/tenorDays); the last coupon absorbs the
// rounding remainder so the amounts sum to the loan total exactly
// (100 over 3 days yields 33, 33, 34).
func GenerateSchedule(totalLoanAmount decimal.Decimal, tenorDays int, startDate time.Time) ([]models.InstallmentCoupon, error) {
	if tenorDays < 1 {
		return nil, fmt.Errorf("%w: tenor must be at least 1 day, got %d", ErrValidation, tenorDays)
	}
	if totalLoanAmount.IsNegative() {
		return nil, fmt.Errorf("%w: loan amount must not be negative, got %s", ErrValidation, totalLoanAmount)
	}

	start := DateOnly(startDate)
	per := totalLoanAmount.Div(decimal.NewFromInt(int64(tenorDays))).Floor()

	coupons := make([]models.InstallmentCoupon, 0, tenorDays)
	now := time.Now().UTC()
	for i := 1; i <= tenorDays; i++ {
		amount := per
		if i == tenorDays {
			amount = totalLoanAmount.Sub(per.Mul(decimal.NewFromInt(int64(tenorDays - 1))))
		}
		coupons = append(coupons, models.InstallmentCoupon{
			ID:               uuid.New(),
			InstallmentIndex: i,
			DueDate:          start.AddDate(0, 0, i),
			Amount:           amount,
			PaidAmount:       decimal.Zero,
			Status:           models.CouponStatusUnpaid,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	return coupons, nil
}

// DateOnly truncates a timestamp to its calendar date in UTC. Due dates,
// start dates and paid dates all carry date-only semantics.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
