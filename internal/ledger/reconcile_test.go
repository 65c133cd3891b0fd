package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kupontech/kupon-ledger/internal/models"
)

func coupon(amount int64) models.InstallmentCoupon {
	return models.InstallmentCoupon{
		ID:               uuid.New(),
		InstallmentIndex: 1,
		DueDate:          date(2024, time.March, 10),
		Amount:           decimal.NewFromInt(amount),
		PaidAmount:       decimal.Zero,
		Status:           models.CouponStatusUnpaid,
	}
}

func TestApplyPayment(t *testing.T) {
	paidOn := date(2024, time.March, 10)

	t.Run("full payment marks the coupon paid and records the date", func(t *testing.T) {
		c, err := ApplyPayment(coupon(60000), decimal.NewFromInt(60000), paidOn)
		require.NoError(t, err)

		assert.Equal(t, models.CouponStatusPaid, c.Status)
		require.NotNil(t, c.PaidDate)
		assert.Equal(t, paidOn, *c.PaidDate)
		assert.True(t, decimal.NewFromInt(60000).Equal(c.PaidAmount))
	})

	t.Run("partial payment marks the coupon partial", func(t *testing.T) {
		c, err := ApplyPayment(coupon(60000), decimal.NewFromInt(30000), paidOn)
		require.NoError(t, err)

		assert.Equal(t, models.CouponStatusPartial, c.Status)
		require.NotNil(t, c.PaidDate)
	})

	t.Run("zero payment reverts the coupon to unpaid and clears the date", func(t *testing.T) {
		c, err := ApplyPayment(coupon(60000), decimal.NewFromInt(30000), paidOn)
		require.NoError(t, err)

		c, err = ApplyPayment(c, decimal.Zero, paidOn)
		require.NoError(t, err)
		assert.Equal(t, models.CouponStatusUnpaid, c.Status)
		assert.Nil(t, c.PaidDate)
		assert.True(t, c.PaidAmount.IsZero())
	})

	t.Run("overpayment counts as paid without clamping", func(t *testing.T) {
		c, err := ApplyPayment(coupon(60000), decimal.NewFromInt(75000), paidOn)
		require.NoError(t, err)

		assert.Equal(t, models.CouponStatusPaid, c.Status)
		assert.True(t, decimal.NewFromInt(75000).Equal(c.PaidAmount))
	})

	t.Run("reapplying the same event is idempotent", func(t *testing.T) {
		once, err := ApplyPayment(coupon(60000), decimal.NewFromInt(45000), paidOn)
		require.NoError(t, err)
		twice, err := ApplyPayment(once, decimal.NewFromInt(45000), paidOn)
		require.NoError(t, err)

		assert.Equal(t, once.Status, twice.Status)
		assert.True(t, once.PaidAmount.Equal(twice.PaidAmount))
		assert.Equal(t, once.PaidDate, twice.PaidDate)
	})

	t.Run("a smaller correction moves the status backward", func(t *testing.T) {
		c, err := ApplyPayment(coupon(60000), decimal.NewFromInt(60000), paidOn)
		require.NoError(t, err)
		require.Equal(t, models.CouponStatusPaid, c.Status)

		c, err = ApplyPayment(c, decimal.NewFromInt(10000), paidOn)
		require.NoError(t, err)
		assert.Equal(t, models.CouponStatusPartial, c.Status)
	})

	t.Run("rejects negative amounts", func(t *testing.T) {
		_, err := ApplyPayment(coupon(60000), decimal.NewFromInt(-1), paidOn)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestDeriveStatus(t *testing.T) {
	due := date(2024, time.March, 10)
	amount := decimal.NewFromInt(50000)

	t.Run("unpaid coupon past due becomes overdue", func(t *testing.T) {
		got := DeriveStatus(models.CouponStatusUnpaid, due, amount, decimal.Zero, date(2024, time.March, 11))
		assert.Equal(t, models.CouponStatusOverdue, got)
	})

	t.Run("partial coupon past due becomes overdue", func(t *testing.T) {
		got := DeriveStatus(models.CouponStatusPartial, due, amount, decimal.NewFromInt(10000), date(2024, time.April, 1))
		assert.Equal(t, models.CouponStatusOverdue, got)
	})

	t.Run("due today is not overdue", func(t *testing.T) {
		got := DeriveStatus(models.CouponStatusUnpaid, due, amount, decimal.Zero, due)
		assert.Equal(t, models.CouponStatusUnpaid, got)
	})

	t.Run("paid coupons never become overdue", func(t *testing.T) {
		got := DeriveStatus(models.CouponStatusPaid, due, amount, amount, date(2025, time.January, 1))
		assert.Equal(t, models.CouponStatusPaid, got)
	})
}

func TestOutstanding(t *testing.T) {
	a := coupon(60000)
	b, err := ApplyPayment(coupon(60000), decimal.NewFromInt(25000), date(2024, time.March, 9))
	require.NoError(t, err)
	over, err := ApplyPayment(coupon(60000), decimal.NewFromInt(70000), date(2024, time.March, 9))
	require.NoError(t, err)

	// 60000 + 35000; the overpaid coupon contributes nothing negative.
	got := Outstanding([]models.InstallmentCoupon{a, b, over})
	assert.True(t, decimal.NewFromInt(95000).Equal(got))
}

func TestAllPaid(t *testing.T) {
	paidOn := date(2024, time.March, 10)
	a, err := ApplyPayment(coupon(100), decimal.NewFromInt(100), paidOn)
	require.NoError(t, err)
	b, err := ApplyPayment(coupon(100), decimal.NewFromInt(40), paidOn)
	require.NoError(t, err)

	assert.False(t, AllPaid([]models.InstallmentCoupon{a, b}))
	assert.False(t, AllPaid(nil))

	b, err = ApplyPayment(b, decimal.NewFromInt(100), paidOn)
	require.NoError(t, err)
	assert.True(t, AllPaid([]models.InstallmentCoupon{a, b}))
}
