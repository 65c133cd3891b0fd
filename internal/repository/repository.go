// Package repository defines the ledger store port and its
// implementations. The core packages depend on the Store interface only;
// which database sits behind it is a deployment detail.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kupontech/kupon-ledger/internal/models"
)

// LimitGuard inspects the consistent snapshot of the disbursement month's
// contracts before a new contract is inserted. Returning an error aborts
// the creation. The store guarantees the snapshot and the insert happen
// under the same transaction, so two near-ceiling creations serialize.
type LimitGuard func(monthContracts []models.CreditContract) error

// Store is the durable keyed storage the ledger core runs against.
//
// Implementations map their failures onto the ledger error kinds:
// missing rows to ErrNotFound, unique/race violations to ErrConflict,
// transport failures to ErrStoreUnavailable.
type Store interface {
	// Customers
	CreateCustomer(ctx context.Context, c *models.Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	UpdateCustomer(ctx context.Context, c *models.Customer) error
	DeleteCustomer(ctx context.Context, id uuid.UUID) error

	// Sales agents
	CreateSalesAgent(ctx context.Context, a *models.SalesAgent) error
	GetSalesAgent(ctx context.Context, id uuid.UUID) (*models.SalesAgent, error)
	ListSalesAgents(ctx context.Context) ([]models.SalesAgent, error)
	UpdateSalesAgent(ctx context.Context, a *models.SalesAgent) error
	DeleteSalesAgent(ctx context.Context, id uuid.UUID) error

	// Contracts. CreateContractWithCoupons persists the contract and its
	// full coupon batch as one unit, invoking guard on the target month's
	// snapshot first.
	CreateContractWithCoupons(ctx context.Context, contract *models.CreditContract, coupons []models.InstallmentCoupon, guard LimitGuard) error
	GetContract(ctx context.Context, id uuid.UUID) (*models.CreditContract, error)
	ListContracts(ctx context.Context) ([]models.CreditContract, error)
	MonthContracts(ctx context.Context, month time.Time) ([]models.CreditContract, error)
	ContractsByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.CreditContract, error)
	CountActiveContractsBySales(ctx context.Context, salesID uuid.UUID) (int, error)
	SetContractStatus(ctx context.Context, id uuid.UUID, status string) error

	// Installment coupons
	GetCoupon(ctx context.Context, id uuid.UUID) (*models.InstallmentCoupon, error)
	ListCouponsByContract(ctx context.Context, contractID uuid.UUID) ([]models.InstallmentCoupon, error)
	// UpdateCouponPayment is a compare-and-set on the coupon's previous
	// updated_at; a lost race returns ErrConflict.
	UpdateCouponPayment(ctx context.Context, coupon *models.InstallmentCoupon, expectedUpdatedAt time.Time) error

	// Read model mirroring the invoice_details join
	InvoiceRows(ctx context.Context, filter models.ManifestFilter) ([]models.InvoiceRow, error)

	// Staff users
	CreateStaffUser(ctx context.Context, u *models.StaffUser) error
	FindStaffUserByEmail(ctx context.Context, email string) (*models.StaffUser, error)

	Close() error
}
