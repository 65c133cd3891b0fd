package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/kupontech/kupon-ledger/internal/config"
	"github.com/kupontech/kupon-ledger/internal/ledger"
	"github.com/kupontech/kupon-ledger/internal/models"
	"github.com/kupontech/kupon-ledger/internal/repository"
)

// ReminderSender delivers overdue collection notices to sales agents.
// Implemented by utils/email; injected so tests can capture notices.
type ReminderSender interface {
	SendOverdueNotice(agent models.SalesAgent, rows []models.InvoiceRow) error
}

// Service handles business logic
type Service struct {
	store  repository.Store
	log    *logrus.Logger
	config *config.Config
	sender ReminderSender
}

// NewService initializes a new service
func NewService(store repository.Store, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{store: store, log: log, config: cfg}
}

// SetReminderSender wires the outbound notice channel used by the cron job.
func (s *Service) SetReminderSender(sender ReminderSender) {
	s.sender = sender
}

// Register creates a new staff user with hashed password
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.StaffUser, error) {
	if username == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ledger.ErrValidation)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.StaffUser{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
	}
	if err := s.store.CreateStaffUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("Staff user registered: %s", user.Email)
	return user, nil
}

// Login authenticates a staff user and returns a JWT token
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.store.FindStaffUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("invalid credentials: %w", ledger.ErrValidation)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials: %w", ledger.ErrValidation)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", user.ID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("Staff user logged in: %s", user.Email)
	return tokenString, nil
}

// CreateCustomer registers a new customer, optionally assigned to an agent
func (s *Service) CreateCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("%w: customer name is required", ledger.ErrValidation)
	}
	if c.AssignedSalesID != nil {
		if _, err := s.store.GetSalesAgent(ctx, *c.AssignedSalesID); err != nil {
			return nil, fmt.Errorf("assigned sales agent: %w", err)
		}
	}
	c.ID = uuid.New()
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		return nil, err
	}
	s.log.Infof("Customer created: %s (%s)", c.Name, c.ID)
	return c, nil
}

// ListCustomers returns all customers
func (s *Service) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	return s.store.ListCustomers(ctx)
}

// UpdateCustomer updates customer master data, including agent reassignment
func (s *Service) UpdateCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("%w: customer name is required", ledger.ErrValidation)
	}
	if c.AssignedSalesID != nil {
		if _, err := s.store.GetSalesAgent(ctx, *c.AssignedSalesID); err != nil {
			return nil, fmt.Errorf("assigned sales agent: %w", err)
		}
	}
	if err := s.store.UpdateCustomer(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCustomer removes a customer. A customer with contracts on file is
// only removed when the operator explicitly confirms; the cascade then
// cancels those contracts rather than orphaning them.
func (s *Service) DeleteCustomer(ctx context.Context, id uuid.UUID, confirm bool) error {
	contracts, err := s.store.ContractsByCustomer(ctx, id)
	if err != nil {
		return err
	}
	if len(contracts) > 0 && !confirm {
		return fmt.Errorf("%w: customer has %d contract(s); deletion requires confirmation", ledger.ErrConflict, len(contracts))
	}
	for _, c := range contracts {
		if c.Status == models.ContractStatusActive {
			if err := s.store.SetContractStatus(ctx, c.ID, models.ContractStatusCancelled); err != nil {
				return err
			}
			s.log.Warnf("Contract %s cancelled by customer deletion", c.ContractRef)
		}
	}
	if err := s.store.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.log.Infof("Customer deleted: %s", id)
	return nil
}

// CreateSalesAgent registers a new field agent
func (s *Service) CreateSalesAgent(ctx context.Context, a *models.SalesAgent) (*models.SalesAgent, error) {
	if strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.AgentCode) == "" {
		return nil, fmt.Errorf("%w: agent name and code are required", ledger.ErrValidation)
	}
	a.ID = uuid.New()
	if err := s.store.CreateSalesAgent(ctx, a); err != nil {
		return nil, err
	}
	s.log.Infof("Sales agent created: %s (%s)", a.Name, a.AgentCode)
	return a, nil
}

// ListSalesAgents returns all agents
func (s *Service) ListSalesAgents(ctx context.Context) ([]models.SalesAgent, error) {
	return s.store.ListSalesAgents(ctx)
}

// UpdateSalesAgent updates agent master data
func (s *Service) UpdateSalesAgent(ctx context.Context, a *models.SalesAgent) (*models.SalesAgent, error) {
	if strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.AgentCode) == "" {
		return nil, fmt.Errorf("%w: agent name and code are required", ledger.ErrValidation)
	}
	if err := s.store.UpdateSalesAgent(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteSalesAgent removes an agent. Agents still referenced by active
// contracts are rejected; staff reassign the contracts first.
func (s *Service) DeleteSalesAgent(ctx context.Context, id uuid.UUID) error {
	n, err := s.store.CountActiveContractsBySales(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: agent has %d active contract(s); reassign before deleting", ledger.ErrConflict, n)
	}
	if err := s.store.DeleteSalesAgent(ctx, id); err != nil {
		return err
	}
	s.log.Infof("Sales agent deleted: %s", id)
	return nil
}

// ContractRequest is the contract creation entrypoint's input.
type ContractRequest struct {
	CustomerID      uuid.UUID       `json:"customer_id"`
	SalesID         uuid.UUID       `json:"sales_id"`
	StartDate       time.Time       `json:"start_date"`
	TenorDays       int             `json:"tenor_days"`
	TotalLoanAmount decimal.Decimal `json:"total_loan_amount"`
}

// ContractResult carries the created contract together with the limit
// snapshot the guard approved it against.
type ContractResult struct {
	Contract *models.CreditContract `json:"contract"`
	Limit    models.LimitDecision   `json:"limit"`
}

// CreateContract runs the full disbursement flow: validate references,
// generate the schedule, then persist contract plus coupons as one unit
// with the limit guard evaluated inside the store transaction.
func (s *Service) CreateContract(ctx context.Context, req ContractRequest) (*ContractResult, error) {
	if _, err := s.store.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, fmt.Errorf("customer: %w", err)
	}
	if _, err := s.store.GetSalesAgent(ctx, req.SalesID); err != nil {
		return nil, fmt.Errorf("sales agent: %w", err)
	}

	coupons, err := ledger.GenerateSchedule(req.TotalLoanAmount, req.TenorDays, req.StartDate)
	if err != nil {
		return nil, err
	}

	contract := &models.CreditContract{
		ID:              uuid.New(),
		ContractRef:     newContractRef(req.StartDate),
		CustomerID:      req.CustomerID,
		SalesID:         req.SalesID,
		StartDate:       ledger.DateOnly(req.StartDate),
		TenorDays:       req.TenorDays,
		TotalLoanAmount: req.TotalLoanAmount,
		Status:          models.ContractStatusActive,
	}

	var snapshot []models.CreditContract
	guard := func(monthContracts []models.CreditContract) error {
		snapshot = monthContracts
		d, err := ledger.CheckLimit(req.TotalLoanAmount, contract.StartDate, monthContracts, s.config.MonthlyLendingLimit)
		if err != nil {
			return err
		}
		if !d.Approved {
			return fmt.Errorf("%w: proposed %s exceeds remaining %s", ledger.ErrLimitExceeded, req.TotalLoanAmount, d.Remaining)
		}
		return nil
	}

	if err := s.store.CreateContractWithCoupons(ctx, contract, coupons, guard); err != nil {
		return nil, err
	}

	// Limit position as seen after this contract was admitted, so the
	// near-limit flag accounts for the contract itself crossing the line.
	decision, err := ledger.CheckLimit(decimal.Zero, contract.StartDate, append(snapshot, *contract), s.config.MonthlyLendingLimit)
	if err != nil {
		return nil, err
	}
	if decision.NearLimit {
		s.log.Warnf("Monthly lending limit usage at %s%% after contract %s",
			decision.UsageRatio.Mul(decimal.NewFromInt(100)).StringFixed(1), contract.ContractRef)
	}
	s.log.WithFields(logrus.Fields{
		"contract_ref": contract.ContractRef,
		"customer_id":  contract.CustomerID,
		"amount":       contract.TotalLoanAmount,
		"tenor_days":   contract.TenorDays,
	}).Info("Contract created")

	return &ContractResult{Contract: contract, Limit: decision}, nil
}

// ListContracts returns all contracts, newest first
func (s *Service) ListContracts(ctx context.Context) ([]models.CreditContract, error) {
	return s.store.ListContracts(ctx)
}

// ContractDetail is a contract with its coupons and derived balance.
type ContractDetail struct {
	Contract    *models.CreditContract     `json:"contract"`
	Coupons     []models.InstallmentCoupon `json:"coupons"`
	Outstanding decimal.Decimal            `json:"outstanding"`
}

// GetContract returns one contract with its full coupon schedule
func (s *Service) GetContract(ctx context.Context, id uuid.UUID) (*ContractDetail, error) {
	contract, err := s.store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	coupons, err := s.store.ListCouponsByContract(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ContractDetail{
		Contract:    contract,
		Coupons:     coupons,
		Outstanding: ledger.Outstanding(coupons),
	}, nil
}

// CancelContract administratively cancels an active contract and its
// remaining coupons with it. Closed contracts stay closed.
func (s *Service) CancelContract(ctx context.Context, id uuid.UUID) (*models.CreditContract, error) {
	contract, err := s.store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if contract.Status != models.ContractStatusActive {
		return nil, fmt.Errorf("%w: contract %s is %s, only active contracts can be cancelled", ledger.ErrValidation, contract.ContractRef, contract.Status)
	}
	if err := s.store.SetContractStatus(ctx, id, models.ContractStatusCancelled); err != nil {
		return nil, err
	}
	contract.Status = models.ContractStatusCancelled
	s.log.Warnf("Contract cancelled: %s", contract.ContractRef)
	return contract, nil
}

// PaymentRequest is the payment entry entrypoint's input.
type PaymentRequest struct {
	CouponID    uuid.UUID       `json:"installment_id"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	PaidDate    time.Time       `json:"paid_date"`
	CollectedBy *uuid.UUID      `json:"collected_by,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// PaymentResult is the updated coupon plus any contract transition the
// payment triggered.
type PaymentResult struct {
	Coupon           *models.InstallmentCoupon `json:"coupon"`
	ContractClosed   bool                      `json:"contract_closed"`
	ContractReopened bool                      `json:"contract_reopened"`
}

// RecordPayment applies one payment event to a coupon and evaluates the
// owning contract's close/reopen transition. Safe to retry on conflict:
// the event replaces the coupon's payment state, it never accumulates.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	coupon, err := s.store.GetCoupon(ctx, req.CouponID)
	if err != nil {
		return nil, err
	}
	contract, err := s.store.GetContract(ctx, coupon.ContractID)
	if err != nil {
		return nil, err
	}
	if contract.Status == models.ContractStatusCancelled {
		return nil, fmt.Errorf("%w: contract %s is cancelled", ledger.ErrValidation, contract.ContractRef)
	}
	if req.CollectedBy != nil {
		if _, err := s.store.GetSalesAgent(ctx, *req.CollectedBy); err != nil {
			return nil, fmt.Errorf("collector: %w", err)
		}
	}

	// Office staff key payments in same-day; an omitted date means the
	// entry date, matching the paper flow.
	paidDate := req.PaidDate
	if paidDate.IsZero() {
		paidDate = time.Now().UTC()
	}

	updated, err := ledger.ApplyPayment(*coupon, req.PaidAmount, paidDate)
	if err != nil {
		return nil, err
	}
	if req.CollectedBy != nil {
		updated.CollectedBy = req.CollectedBy
	}
	if req.Notes != "" {
		updated.Notes = req.Notes
	}

	if err := s.store.UpdateCouponPayment(ctx, &updated, coupon.UpdatedAt); err != nil {
		return nil, err
	}

	result := &PaymentResult{Coupon: &updated}
	coupons, err := s.store.ListCouponsByContract(ctx, contract.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case contract.Status == models.ContractStatusActive && ledger.AllPaid(coupons):
		if err := s.store.SetContractStatus(ctx, contract.ID, models.ContractStatusClosed); err != nil {
			return nil, err
		}
		result.ContractClosed = true
		s.log.Infof("Contract fully settled and closed: %s", contract.ContractRef)
	case contract.Status == models.ContractStatusClosed && !ledger.AllPaid(coupons):
		// Payment correction on a settled contract reopens it.
		if err := s.store.SetContractStatus(ctx, contract.ID, models.ContractStatusActive); err != nil {
			return nil, err
		}
		result.ContractReopened = true
		s.log.Warnf("Contract reopened by payment correction: %s", contract.ContractRef)
	}

	s.log.WithFields(logrus.Fields{
		"coupon_id":   updated.ID,
		"paid_amount": updated.PaidAmount,
		"status":      updated.Status,
	}).Info("Payment recorded")
	return result, nil
}

// BuildManifest assembles the collection manifest for the given filter as
// of today.
func (s *Service) BuildManifest(ctx context.Context, filter models.ManifestFilter, today time.Time) (models.Manifest, error) {
	rows, err := s.store.InvoiceRows(ctx, filter)
	if err != nil {
		return models.Manifest{}, err
	}
	return ledger.BuildManifest(rows, filter, today), nil
}

// LimitStatus reports the month's disbursement capacity without proposing
// a new contract.
func (s *Service) LimitStatus(ctx context.Context, month time.Time) (models.LimitDecision, error) {
	contracts, err := s.store.MonthContracts(ctx, month)
	if err != nil {
		return models.LimitDecision{}, err
	}
	return ledger.CheckLimit(decimal.Zero, month, contracts, s.config.MonthlyLendingLimit)
}

// SendOverdueReminders emails each agent the list of their coupons that
// are overdue as of today. Returns the number of notices sent.
func (s *Service) SendOverdueReminders(ctx context.Context, today time.Time) (int, error) {
	if s.sender == nil {
		return 0, fmt.Errorf("no reminder sender configured")
	}
	manifest, err := s.BuildManifest(ctx, models.ManifestFilter{Statuses: []string{models.CouponStatusOverdue}}, today)
	if err != nil {
		return 0, err
	}

	byAgent := make(map[uuid.UUID][]models.InvoiceRow)
	for _, row := range manifest.Rows {
		byAgent[row.SalesID] = append(byAgent[row.SalesID], row)
	}

	sent := 0
	for salesID, rows := range byAgent {
		agent, err := s.store.GetSalesAgent(ctx, salesID)
		if err != nil {
			s.log.Errorf("Skipping reminder, agent %s: %v", salesID, err)
			continue
		}
		if agent.Email == "" {
			s.log.Debugf("Agent %s has no email, skipping reminder", agent.AgentCode)
			continue
		}
		if err := s.sender.SendOverdueNotice(*agent, rows); err != nil {
			s.log.Errorf("Failed to send reminder to %s: %v", agent.AgentCode, err)
			continue
		}
		sent++
	}
	s.log.Infof("Overdue reminders sent: %d agent(s), %d coupon(s)", sent, manifest.Count)
	return sent, nil
}

// newContractRef builds the human-readable contract reference, unique per
// store constraint; the random suffix avoids coordination at entry time.
func newContractRef(startDate time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:6])
	return fmt.Sprintf("KTR-%s-%s", ledger.DateOnly(startDate).Format("20060102"), suffix)
}
