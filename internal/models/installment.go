package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Installment coupon statuses. Overdue is derived at read time from the due
// date and is never written to the store.
const (
	CouponStatusUnpaid  = "unpaid"
	CouponStatusPartial = "partial"
	CouponStatusPaid    = "paid"
	CouponStatusOverdue = "overdue"
)

// InstallmentCoupon represents one scheduled repayment unit of a contract
type InstallmentCoupon struct {
	ID               uuid.UUID       `json:"id"`
	ContractID       uuid.UUID       `json:"contract_id"`
	InstallmentIndex int             `json:"installment_index"` // 1-based
	DueDate          time.Time       `json:"due_date"`          // date-only
	Amount           decimal.Decimal `json:"amount"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	PaidDate         *time.Time      `json:"paid_date,omitempty"`
	Status           string          `json:"status"`
	Notes            string          `json:"notes,omitempty"`
	CollectedBy      *uuid.UUID      `json:"collected_by,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
