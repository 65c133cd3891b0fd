package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Contract statuses
const (
	ContractStatusActive    = "active"
	ContractStatusClosed    = "closed"
	ContractStatusCancelled = "cancelled"
)

// CreditContract represents a single credit disbursement repaid in daily installments
type CreditContract struct {
	ID              uuid.UUID       `json:"id"`
	ContractRef     string          `json:"contract_ref"`
	CustomerID      uuid.UUID       `json:"customer_id"`
	SalesID         uuid.UUID       `json:"sales_id"`
	StartDate       time.Time       `json:"start_date"` // date-only
	TenorDays       int             `json:"tenor_days"`
	TotalLoanAmount decimal.Decimal `json:"total_loan_amount"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
