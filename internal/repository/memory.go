package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kupontech/kupon-ledger/internal/ledger"
	"github.com/kupontech/kupon-ledger/internal/models"
)

// MemoryStore is an in-memory Store used in tests and local development.
// A single mutex serializes every operation, which also gives the
// CreateContractWithCoupons guard its consistent month snapshot.
type MemoryStore struct {
	mu         sync.Mutex
	customers  map[uuid.UUID]models.Customer
	agents     map[uuid.UUID]models.SalesAgent
	contracts  map[uuid.UUID]models.CreditContract
	coupons    map[uuid.UUID]models.InstallmentCoupon
	staff      map[string]models.StaffUser
	nextUserID int64
}

// NewMemoryStore initializes an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[uuid.UUID]models.Customer),
		agents:    make(map[uuid.UUID]models.SalesAgent),
		contracts: make(map[uuid.UUID]models.CreditContract),
		coupons:   make(map[uuid.UUID]models.InstallmentCoupon),
		staff:     make(map[string]models.StaffUser),
	}
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error { return nil }

// CreateCustomer stores a new customer
func (s *MemoryStore) CreateCustomer(_ context.Context, c *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.customers[c.ID] = *c
	return nil
}

// GetCustomer retrieves a customer by id
func (s *MemoryStore) GetCustomer(_ context.Context, id uuid.UUID) (*models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, fmt.Errorf("get customer: %w", ledger.ErrNotFound)
	}
	return &c, nil
}

// ListCustomers returns all customers ordered by name
func (s *MemoryStore) ListCustomers(_ context.Context) ([]models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateCustomer replaces customer master data
func (s *MemoryStore) UpdateCustomer(_ context.Context, c *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[c.ID]; !ok {
		return fmt.Errorf("update customer: %w", ledger.ErrNotFound)
	}
	c.UpdatedAt = time.Now().UTC()
	s.customers[c.ID] = *c
	return nil
}

// DeleteCustomer removes a customer
func (s *MemoryStore) DeleteCustomer(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		return fmt.Errorf("delete customer: %w", ledger.ErrNotFound)
	}
	delete(s.customers, id)
	return nil
}

// CreateSalesAgent stores a new agent; agent codes are unique
func (s *MemoryStore) CreateSalesAgent(_ context.Context, a *models.SalesAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.agents {
		if strings.EqualFold(existing.AgentCode, a.AgentCode) {
			return fmt.Errorf("create sales agent: agent code %s: %w", a.AgentCode, ledger.ErrConflict)
		}
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	s.agents[a.ID] = *a
	return nil
}

// GetSalesAgent retrieves an agent by id
func (s *MemoryStore) GetSalesAgent(_ context.Context, id uuid.UUID) (*models.SalesAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("get sales agent: %w", ledger.ErrNotFound)
	}
	return &a, nil
}

// ListSalesAgents returns all agents ordered by name
func (s *MemoryStore) ListSalesAgents(_ context.Context) ([]models.SalesAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SalesAgent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateSalesAgent replaces agent master data
func (s *MemoryStore) UpdateSalesAgent(_ context.Context, a *models.SalesAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID]; !ok {
		return fmt.Errorf("update sales agent: %w", ledger.ErrNotFound)
	}
	a.UpdatedAt = time.Now().UTC()
	s.agents[a.ID] = *a
	return nil
}

// DeleteSalesAgent removes an agent
func (s *MemoryStore) DeleteSalesAgent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("delete sales agent: %w", ledger.ErrNotFound)
	}
	delete(s.agents, id)
	return nil
}

// CreateContractWithCoupons stores a contract and its coupons atomically
// under the store mutex, running guard on the month snapshot first.
func (s *MemoryStore) CreateContractWithCoupons(_ context.Context, contract *models.CreditContract, coupons []models.InstallmentCoupon, guard LimitGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snapshot []models.CreditContract
	for _, c := range s.contracts {
		if c.StartDate.UTC().Year() == contract.StartDate.UTC().Year() &&
			c.StartDate.UTC().Month() == contract.StartDate.UTC().Month() {
			snapshot = append(snapshot, c)
		}
	}
	if guard != nil {
		if err := guard(snapshot); err != nil {
			return err
		}
	}

	for _, existing := range s.contracts {
		if existing.ContractRef == contract.ContractRef {
			return fmt.Errorf("create contract: ref %s: %w", contract.ContractRef, ledger.ErrConflict)
		}
	}

	now := time.Now().UTC()
	contract.CreatedAt, contract.UpdatedAt = now, now
	s.contracts[contract.ID] = *contract
	for _, c := range coupons {
		c.ContractID = contract.ID
		c.CreatedAt, c.UpdatedAt = now, now
		s.coupons[c.ID] = c
	}
	return nil
}

// GetContract retrieves a contract by id
func (s *MemoryStore) GetContract(_ context.Context, id uuid.UUID) (*models.CreditContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("get contract: %w", ledger.ErrNotFound)
	}
	return &c, nil
}

// ListContracts returns all contracts, newest first
func (s *MemoryStore) ListContracts(_ context.Context) ([]models.CreditContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CreditContract, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MonthContracts returns contracts starting in the given calendar month
func (s *MemoryStore) MonthContracts(_ context.Context, month time.Time) ([]models.CreditContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditContract
	for _, c := range s.contracts {
		if c.StartDate.UTC().Year() == month.UTC().Year() && c.StartDate.UTC().Month() == month.UTC().Month() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// ContractsByCustomer returns all contracts referencing a customer
func (s *MemoryStore) ContractsByCustomer(_ context.Context, customerID uuid.UUID) ([]models.CreditContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditContract
	for _, c := range s.contracts {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	return out, nil
}

// CountActiveContractsBySales counts active contracts referencing an agent
func (s *MemoryStore) CountActiveContractsBySales(_ context.Context, salesID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.contracts {
		if c.SalesID == salesID && c.Status == models.ContractStatusActive {
			n++
		}
	}
	return n, nil
}

// SetContractStatus transitions a contract's status
func (s *MemoryStore) SetContractStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return fmt.Errorf("set contract status: %w", ledger.ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	s.contracts[id] = c
	return nil
}

// GetCoupon retrieves a coupon by id
func (s *MemoryStore) GetCoupon(_ context.Context, id uuid.UUID) (*models.InstallmentCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	if !ok {
		return nil, fmt.Errorf("get coupon: %w", ledger.ErrNotFound)
	}
	return &c, nil
}

// ListCouponsByContract returns a contract's coupons in installment order
func (s *MemoryStore) ListCouponsByContract(_ context.Context, contractID uuid.UUID) ([]models.InstallmentCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.InstallmentCoupon
	for _, c := range s.coupons {
		if c.ContractID == contractID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstallmentIndex < out[j].InstallmentIndex })
	return out, nil
}

// UpdateCouponPayment replaces a coupon's payment state via compare-and-set
// on updated_at, mirroring the postgres behavior.
func (s *MemoryStore) UpdateCouponPayment(_ context.Context, coupon *models.InstallmentCoupon, expectedUpdatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.coupons[coupon.ID]
	if !ok {
		return fmt.Errorf("update coupon payment: %w", ledger.ErrNotFound)
	}
	if !current.UpdatedAt.Equal(expectedUpdatedAt) {
		return fmt.Errorf("update coupon payment: %w", ledger.ErrConflict)
	}
	coupon.UpdatedAt = time.Now().UTC()
	s.coupons[coupon.ID] = *coupon
	return nil
}

// InvoiceRows builds the joined read model, ordered by due date then
// contract reference.
func (s *MemoryStore) InvoiceRows(_ context.Context, filter models.ManifestFilter) ([]models.InvoiceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.InvoiceRow
	for _, coupon := range s.coupons {
		contract, ok := s.contracts[coupon.ContractID]
		if !ok || contract.Status == models.ContractStatusCancelled {
			continue
		}
		if filter.SalesID != nil && contract.SalesID != *filter.SalesID {
			continue
		}
		if filter.DueFrom != nil && coupon.DueDate.Before(ledger.DateOnly(*filter.DueFrom)) {
			continue
		}
		if filter.DueTo != nil && coupon.DueDate.After(ledger.DateOnly(*filter.DueTo)) {
			continue
		}
		customer := s.customers[contract.CustomerID]
		agent := s.agents[contract.SalesID]
		out = append(out, models.InvoiceRow{
			CouponID:         coupon.ID,
			ContractID:       contract.ID,
			ContractRef:      contract.ContractRef,
			InstallmentIndex: coupon.InstallmentIndex,
			NoFaktur:         models.InvoiceNumber(contract.ContractRef, coupon.InstallmentIndex),
			DueDate:          coupon.DueDate,
			Amount:           coupon.Amount,
			PaidAmount:       coupon.PaidAmount,
			PaidDate:         coupon.PaidDate,
			Status:           coupon.Status,
			CustomerID:       customer.ID,
			CustomerName:     customer.Name,
			CustomerAddress:  customer.Address,
			CustomerPhone:    customer.Phone,
			SalesID:          agent.ID,
			SalesName:        agent.Name,
			AgentCode:        agent.AgentCode,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		if out[i].ContractRef != out[j].ContractRef {
			return out[i].ContractRef < out[j].ContractRef
		}
		return out[i].InstallmentIndex < out[j].InstallmentIndex
	})
	return out, nil
}

// CreateStaffUser stores a new staff user; emails are unique
func (s *MemoryStore) CreateStaffUser(_ context.Context, u *models.StaffUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staff[u.Email]; ok {
		return fmt.Errorf("create staff user: email %s: %w", u.Email, ledger.ErrConflict)
	}
	s.nextUserID++
	u.ID = s.nextUserID
	u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	s.staff[u.Email] = *u
	return nil
}

// FindStaffUserByEmail retrieves a staff user by email
func (s *MemoryStore) FindStaffUserByEmail(_ context.Context, email string) (*models.StaffUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.staff[email]
	if !ok {
		return nil, fmt.Errorf("find staff user: %w", ledger.ErrNotFound)
	}
	return &u, nil
}
