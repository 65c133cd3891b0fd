package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceRow is the read model joining a coupon with its contract, customer
// and agent identity for manifests and reports.
type InvoiceRow struct {
	CouponID         uuid.UUID       `json:"coupon_id"`
	ContractID       uuid.UUID       `json:"contract_id"`
	ContractRef      string          `json:"contract_ref"`
	InstallmentIndex int             `json:"installment_index"`
	NoFaktur         string          `json:"no_faktur"`
	DueDate          time.Time       `json:"due_date"`
	Amount           decimal.Decimal `json:"amount"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	PaidDate         *time.Time      `json:"paid_date,omitempty"`
	Status           string          `json:"status"`
	CustomerID       uuid.UUID       `json:"customer_id"`
	CustomerName     string          `json:"customer_name"`
	CustomerAddress  string          `json:"customer_address,omitempty"`
	CustomerPhone    string          `json:"customer_phone,omitempty"`
	SalesID          uuid.UUID       `json:"sales_id"`
	SalesName        string          `json:"sales_name"`
	AgentCode        string          `json:"agent_code"`
}

// InvoiceNumber builds the human-readable invoice reference printed on each
// coupon: contract reference plus zero-padded installment index.
func InvoiceNumber(contractRef string, installmentIndex int) string {
	return fmt.Sprintf("%s-%03d", contractRef, installmentIndex)
}

// ManifestFilter narrows the rows included in a manifest or report.
// Zero values mean "no restriction".
type ManifestFilter struct {
	SalesID  *uuid.UUID `json:"sales_id,omitempty"`
	DueFrom  *time.Time `json:"due_from,omitempty"`
	DueTo    *time.Time `json:"due_to,omitempty"`
	Statuses []string   `json:"statuses,omitempty"` // derived statuses, overdue included
}

// Manifest is the aggregated collection view handed to a collector or the
// reporting layer.
type Manifest struct {
	Rows           []InvoiceRow    `json:"rows"`
	Count          int             `json:"count"`
	TotalBilled    decimal.Decimal `json:"total_billed"`
	TotalCollected decimal.Decimal `json:"total_collected"`
	OverdueCount   int             `json:"overdue_count"`
	CollectionRate decimal.Decimal `json:"collection_rate"`
}

// LimitDecision is the disbursement limit guard's verdict for one proposal.
type LimitDecision struct {
	Approved   bool            `json:"approved"`
	Used       decimal.Decimal `json:"used"`
	Remaining  decimal.Decimal `json:"remaining"`
	Ceiling    decimal.Decimal `json:"ceiling"`
	UsageRatio decimal.Decimal `json:"usage_ratio"`
	NearLimit  bool            `json:"near_limit"`
}
