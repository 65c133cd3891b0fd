package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kupontech/kupon-ledger/internal/models"
)

// ApplyPayment applies one payment event to a coupon and returns the
// updated copy. The event REPLACES the coupon's paid amount, status and
// paid date rather than adding to them: reapplying the same event is a
// no-op, and an event with a smaller amount moves the status backward,
// which is how data-entry mistakes get corrected.
//
// Status follows the new paid amount alone:
//
//	paid == 0       -> unpaid
//	0 < paid < due  -> partial
//	paid >= due     -> paid (overpayment is not clamped or credited forward)
func ApplyPayment(coupon models.InstallmentCoupon, paidAmount decimal.Decimal, paidDate time.Time) (models.InstallmentCoupon, error) {
	if paidAmount.IsNegative() {
		return models.InstallmentCoupon{}, fmt.Errorf("%w: paid amount must not be negative, got %s", ErrValidation, paidAmount)
	}

	coupon.PaidAmount = paidAmount
	switch {
	case paidAmount.IsZero():
		coupon.Status = models.CouponStatusUnpaid
		coupon.PaidDate = nil
	case paidAmount.LessThan(coupon.Amount):
		coupon.Status = models.CouponStatusPartial
		d := DateOnly(paidDate)
		coupon.PaidDate = &d
	default:
		coupon.Status = models.CouponStatusPaid
		d := DateOnly(paidDate)
		coupon.PaidDate = &d
	}
	coupon.UpdatedAt = time.Now().UTC()
	return coupon, nil
}

// DeriveStatus returns the coupon status as of today. Overdue is a
// time-based reclassification of unpaid/partial coupons whose due date has
// passed; it is computed on read and never persisted, so stale writes
// cannot occur.
func DeriveStatus(status string, dueDate time.Time, amount, paidAmount decimal.Decimal, today time.Time) string {
	if status == models.CouponStatusPaid || paidAmount.GreaterThanOrEqual(amount) {
		return models.CouponStatusPaid
	}
	if DateOnly(dueDate).Before(DateOnly(today)) {
		return models.CouponStatusOverdue
	}
	return status
}

// AllPaid reports whether every coupon of a contract is fully settled,
// which is the condition for the contract's active -> closed transition.
func AllPaid(coupons []models.InstallmentCoupon) bool {
	for _, c := range coupons {
		if c.Status != models.CouponStatusPaid {
			return false
		}
	}
	return len(coupons) > 0
}

// Outstanding returns the contract's aggregate unpaid balance,
// sum(amount - paid_amount) floored at zero per coupon. Recomputed on
// demand instead of stored so it cannot drift from the coupon rows.
func Outstanding(coupons []models.InstallmentCoupon) decimal.Decimal {
	total := decimal.Zero
	for _, c := range coupons {
		rest := c.Amount.Sub(c.PaidAmount)
		if rest.IsPositive() {
			total = total.Add(rest)
		}
	}
	return total
}
