package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kupontech/kupon-ledger/internal/ledger"
	"github.com/kupontech/kupon-ledger/internal/models"
)

// PostgresStore implements Store on top of database/sql with lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore initializes a new postgres-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// mapErr translates driver failures into the ledger error taxonomy.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return fmt.Errorf("%s: %w: %s", op, ledger.ErrConflict, pqErr.Detail)
		case "foreign_key_violation":
			return fmt.Errorf("%s: %w: %s", op, ledger.ErrNotFound, pqErr.Detail)
		case "serialization_failure", "deadlock_detected":
			return fmt.Errorf("%s: %w", op, ledger.ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ledger.ErrStoreUnavailable, err)
}

// CreateCustomer creates a new customer row
func (s *PostgresStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		INSERT INTO kupon.customers (id, name, address, phone, assigned_sales_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query, c.ID, c.Name, c.Address, c.Phone, nullUUID(c.AssignedSalesID)).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr("create customer", err)
}

// GetCustomer retrieves a customer by id
func (s *PostgresStore) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	c := &models.Customer{}
	var sales uuid.NullUUID
	query := `
		SELECT id, name, address, phone, assigned_sales_id, created_at, updated_at
		FROM kupon.customers
		WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &sales, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr("get customer", err)
	}
	if sales.Valid {
		c.AssignedSalesID = &sales.UUID
	}
	return c, nil
}

// ListCustomers returns all customers ordered by name
func (s *PostgresStore) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	query := `
		SELECT id, name, address, phone, assigned_sales_id, created_at, updated_at
		FROM kupon.customers
		ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapErr("list customers", err)
	}
	defer rows.Close()

	var out []models.Customer
	for rows.Next() {
		var c models.Customer
		var sales uuid.NullUUID
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &sales, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, mapErr("list customers", err)
		}
		if sales.Valid {
			c.AssignedSalesID = &sales.UUID
		}
		out = append(out, c)
	}
	return out, mapErr("list customers", rows.Err())
}

// UpdateCustomer updates customer master data
func (s *PostgresStore) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		UPDATE kupon.customers
		SET name = $2, address = $3, phone = $4, assigned_sales_id = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := s.db.QueryRowContext(ctx, query, c.ID, c.Name, c.Address, c.Phone, nullUUID(c.AssignedSalesID)).
		Scan(&c.UpdatedAt)
	return mapErr("update customer", err)
}

// DeleteCustomer removes a customer row
func (s *PostgresStore) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kupon.customers WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete customer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete customer: %w", ledger.ErrNotFound)
	}
	return nil
}

// CreateSalesAgent creates a new sales agent row
func (s *PostgresStore) CreateSalesAgent(ctx context.Context, a *models.SalesAgent) error {
	query := `
		INSERT INTO kupon.sales_agents (id, name, agent_code, phone, area, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query, a.ID, a.Name, a.AgentCode, a.Phone, a.Area, a.Email).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr("create sales agent", err)
}

// GetSalesAgent retrieves a sales agent by id
func (s *PostgresStore) GetSalesAgent(ctx context.Context, id uuid.UUID) (*models.SalesAgent, error) {
	a := &models.SalesAgent{}
	query := `
		SELECT id, name, agent_code, phone, area, email, created_at, updated_at
		FROM kupon.sales_agents
		WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&a.ID, &a.Name, &a.AgentCode, &a.Phone, &a.Area, &a.Email, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr("get sales agent", err)
	}
	return a, nil
}

// ListSalesAgents returns all agents ordered by name
func (s *PostgresStore) ListSalesAgents(ctx context.Context) ([]models.SalesAgent, error) {
	query := `
		SELECT id, name, agent_code, phone, area, email, created_at, updated_at
		FROM kupon.sales_agents
		ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapErr("list sales agents", err)
	}
	defer rows.Close()

	var out []models.SalesAgent
	for rows.Next() {
		var a models.SalesAgent
		if err := rows.Scan(&a.ID, &a.Name, &a.AgentCode, &a.Phone, &a.Area, &a.Email, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, mapErr("list sales agents", err)
		}
		out = append(out, a)
	}
	return out, mapErr("list sales agents", rows.Err())
}

// UpdateSalesAgent updates agent master data
func (s *PostgresStore) UpdateSalesAgent(ctx context.Context, a *models.SalesAgent) error {
	query := `
		UPDATE kupon.sales_agents
		SET name = $2, agent_code = $3, phone = $4, area = $5, email = $6, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := s.db.QueryRowContext(ctx, query, a.ID, a.Name, a.AgentCode, a.Phone, a.Area, a.Email).
		Scan(&a.UpdatedAt)
	return mapErr("update sales agent", err)
}

// DeleteSalesAgent removes an agent row
func (s *PostgresStore) DeleteSalesAgent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kupon.sales_agents WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete sales agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete sales agent: %w", ledger.ErrNotFound)
	}
	return nil
}

// CreateContractWithCoupons persists a contract and its coupon batch in one
// transaction. An advisory lock keyed on the disbursement month serializes
// concurrent creations so the limit guard always sees a consistent month
// snapshot.
func (s *PostgresStore) CreateContractWithCoupons(ctx context.Context, contract *models.CreditContract, coupons []models.InstallmentCoupon, guard LimitGuard) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("create contract", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, monthLockKey(contract.StartDate)); err != nil {
		return mapErr("create contract", err)
	}

	snapshot, err := monthContractsTx(ctx, tx, contract.StartDate)
	if err != nil {
		return err
	}
	if guard != nil {
		if err := guard(snapshot); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO kupon.credit_contracts (id, contract_ref, customer_id, sales_id, start_date, tenor_days, total_loan_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err = tx.QueryRowContext(ctx, query,
		contract.ID, contract.ContractRef, contract.CustomerID, contract.SalesID,
		contract.StartDate, contract.TenorDays, contract.TotalLoanAmount, contract.Status).
		Scan(&contract.CreatedAt, &contract.UpdatedAt)
	if err != nil {
		return mapErr("create contract", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("kupon", "installment_coupons",
		"id", "contract_id", "installment_index", "due_date", "amount", "paid_amount", "status", "notes", "created_at", "updated_at"))
	if err != nil {
		return mapErr("create coupons", err)
	}
	now := time.Now().UTC()
	for _, c := range coupons {
		if _, err := stmt.ExecContext(ctx, c.ID, contract.ID, c.InstallmentIndex, c.DueDate, c.Amount, c.PaidAmount, c.Status, c.Notes, now, now); err != nil {
			stmt.Close()
			return mapErr("create coupons", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return mapErr("create coupons", err)
	}
	if err := stmt.Close(); err != nil {
		return mapErr("create coupons", err)
	}

	return mapErr("create contract", tx.Commit())
}

const contractColumns = `id, contract_ref, customer_id, sales_id, start_date, tenor_days, total_loan_amount, status, created_at, updated_at`

func scanContract(row interface{ Scan(...any) error }) (models.CreditContract, error) {
	var c models.CreditContract
	err := row.Scan(&c.ID, &c.ContractRef, &c.CustomerID, &c.SalesID, &c.StartDate,
		&c.TenorDays, &c.TotalLoanAmount, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetContract retrieves a contract by id
func (s *PostgresStore) GetContract(ctx context.Context, id uuid.UUID) (*models.CreditContract, error) {
	query := `SELECT ` + contractColumns + ` FROM kupon.credit_contracts WHERE id = $1`
	c, err := scanContract(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapErr("get contract", err)
	}
	return &c, nil
}

// ListContracts returns all contracts, newest first
func (s *PostgresStore) ListContracts(ctx context.Context) ([]models.CreditContract, error) {
	query := `SELECT ` + contractColumns + ` FROM kupon.credit_contracts ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapErr("list contracts", err)
	}
	defer rows.Close()
	return collectContracts(rows, "list contracts")
}

// MonthContracts returns the contracts whose start date falls in the given
// calendar month.
func (s *PostgresStore) MonthContracts(ctx context.Context, month time.Time) ([]models.CreditContract, error) {
	query := `SELECT ` + contractColumns + `
		FROM kupon.credit_contracts
		WHERE date_trunc('month', start_date) = date_trunc('month', $1::date)
		ORDER BY start_date`
	rows, err := s.db.QueryContext(ctx, query, ledger.DateOnly(month))
	if err != nil {
		return nil, mapErr("month contracts", err)
	}
	defer rows.Close()
	return collectContracts(rows, "month contracts")
}

func monthContractsTx(ctx context.Context, tx *sql.Tx, month time.Time) ([]models.CreditContract, error) {
	query := `SELECT ` + contractColumns + `
		FROM kupon.credit_contracts
		WHERE date_trunc('month', start_date) = date_trunc('month', $1::date)`
	rows, err := tx.QueryContext(ctx, query, ledger.DateOnly(month))
	if err != nil {
		return nil, mapErr("month contracts", err)
	}
	defer rows.Close()
	return collectContracts(rows, "month contracts")
}

// ContractsByCustomer returns all contracts referencing a customer
func (s *PostgresStore) ContractsByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.CreditContract, error) {
	query := `SELECT ` + contractColumns + ` FROM kupon.credit_contracts WHERE customer_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, mapErr("contracts by customer", err)
	}
	defer rows.Close()
	return collectContracts(rows, "contracts by customer")
}

func collectContracts(rows *sql.Rows, op string) ([]models.CreditContract, error) {
	var out []models.CreditContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, c)
	}
	return out, mapErr(op, rows.Err())
}

// CountActiveContractsBySales counts active contracts referencing an agent
func (s *PostgresStore) CountActiveContractsBySales(ctx context.Context, salesID uuid.UUID) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM kupon.credit_contracts WHERE sales_id = $1 AND status = 'active'`
	if err := s.db.QueryRowContext(ctx, query, salesID).Scan(&n); err != nil {
		return 0, mapErr("count contracts by sales", err)
	}
	return n, nil
}

// SetContractStatus transitions a contract's status
func (s *PostgresStore) SetContractStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE kupon.credit_contracts SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, id, status)
	if err != nil {
		return mapErr("set contract status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set contract status: %w", ledger.ErrNotFound)
	}
	return nil
}

// GetCoupon retrieves an installment coupon by id
func (s *PostgresStore) GetCoupon(ctx context.Context, id uuid.UUID) (*models.InstallmentCoupon, error) {
	query := `
		SELECT id, contract_id, installment_index, due_date, amount, paid_amount, paid_date, status, notes, collected_by, created_at, updated_at
		FROM kupon.installment_coupons
		WHERE id = $1`
	c, err := scanCoupon(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapErr("get coupon", err)
	}
	return &c, nil
}

func scanCoupon(row interface{ Scan(...any) error }) (models.InstallmentCoupon, error) {
	var c models.InstallmentCoupon
	var paidDate sql.NullTime
	var collectedBy uuid.NullUUID
	err := row.Scan(&c.ID, &c.ContractID, &c.InstallmentIndex, &c.DueDate, &c.Amount,
		&c.PaidAmount, &paidDate, &c.Status, &c.Notes, &collectedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if paidDate.Valid {
		d := paidDate.Time
		c.PaidDate = &d
	}
	if collectedBy.Valid {
		c.CollectedBy = &collectedBy.UUID
	}
	return c, nil
}

// ListCouponsByContract returns a contract's coupons in installment order
func (s *PostgresStore) ListCouponsByContract(ctx context.Context, contractID uuid.UUID) ([]models.InstallmentCoupon, error) {
	query := `
		SELECT id, contract_id, installment_index, due_date, amount, paid_amount, paid_date, status, notes, collected_by, created_at, updated_at
		FROM kupon.installment_coupons
		WHERE contract_id = $1
		ORDER BY installment_index`
	rows, err := s.db.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, mapErr("list coupons", err)
	}
	defer rows.Close()

	var out []models.InstallmentCoupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, mapErr("list coupons", err)
		}
		out = append(out, c)
	}
	return out, mapErr("list coupons", rows.Err())
}

// UpdateCouponPayment replaces a coupon's payment state. The WHERE clause
// compares the previously read updated_at so a concurrent writer loses the
// race explicitly instead of silently overwriting.
func (s *PostgresStore) UpdateCouponPayment(ctx context.Context, coupon *models.InstallmentCoupon, expectedUpdatedAt time.Time) error {
	query := `
		UPDATE kupon.installment_coupons
		SET paid_amount = $2, paid_date = $3, status = $4, notes = $5, collected_by = $6, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND updated_at = $7
		RETURNING updated_at`
	var paidDate sql.NullTime
	if coupon.PaidDate != nil {
		paidDate = sql.NullTime{Time: *coupon.PaidDate, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, query,
		coupon.ID, coupon.PaidAmount, paidDate, coupon.Status, coupon.Notes,
		nullUUID(coupon.CollectedBy), expectedUpdatedAt).
		Scan(&coupon.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Row gone or modified since the read: tell them apart.
		if _, getErr := s.GetCoupon(ctx, coupon.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("update coupon payment: %w", ledger.ErrConflict)
	}
	return mapErr("update coupon payment", err)
}

// InvoiceRows returns the joined coupon/contract/customer/agent read model,
// ordered by due date then contract reference. Sales and due-date filters
// are pushed down; status filtering stays in the aggregator because overdue
// is derived, not stored.
func (s *PostgresStore) InvoiceRows(ctx context.Context, filter models.ManifestFilter) ([]models.InvoiceRow, error) {
	query := `
		SELECT ic.id, ic.contract_id, cc.contract_ref, ic.installment_index, ic.due_date,
		       ic.amount, ic.paid_amount, ic.paid_date, ic.status,
		       cu.id, cu.name, cu.address, cu.phone,
		       sa.id, sa.name, sa.agent_code
		FROM kupon.installment_coupons ic
		JOIN kupon.credit_contracts cc ON cc.id = ic.contract_id
		JOIN kupon.customers cu ON cu.id = cc.customer_id
		JOIN kupon.sales_agents sa ON sa.id = cc.sales_id
		WHERE cc.status <> 'cancelled'
		  AND ($1::uuid IS NULL OR cc.sales_id = $1)
		  AND ($2::date IS NULL OR ic.due_date >= $2)
		  AND ($3::date IS NULL OR ic.due_date <= $3)
		ORDER BY ic.due_date, cc.contract_ref, ic.installment_index`

	var salesID uuid.NullUUID
	if filter.SalesID != nil {
		salesID = uuid.NullUUID{UUID: *filter.SalesID, Valid: true}
	}
	var from, to sql.NullTime
	if filter.DueFrom != nil {
		from = sql.NullTime{Time: ledger.DateOnly(*filter.DueFrom), Valid: true}
	}
	if filter.DueTo != nil {
		to = sql.NullTime{Time: ledger.DateOnly(*filter.DueTo), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, query, salesID, from, to)
	if err != nil {
		return nil, mapErr("invoice rows", err)
	}
	defer rows.Close()

	var out []models.InvoiceRow
	for rows.Next() {
		var r models.InvoiceRow
		var paidDate sql.NullTime
		err := rows.Scan(&r.CouponID, &r.ContractID, &r.ContractRef, &r.InstallmentIndex, &r.DueDate,
			&r.Amount, &r.PaidAmount, &paidDate, &r.Status,
			&r.CustomerID, &r.CustomerName, &r.CustomerAddress, &r.CustomerPhone,
			&r.SalesID, &r.SalesName, &r.AgentCode)
		if err != nil {
			return nil, mapErr("invoice rows", err)
		}
		if paidDate.Valid {
			d := paidDate.Time
			r.PaidDate = &d
		}
		r.NoFaktur = models.InvoiceNumber(r.ContractRef, r.InstallmentIndex)
		out = append(out, r)
	}
	return out, mapErr("invoice rows", rows.Err())
}

// CreateStaffUser creates a new staff user
func (s *PostgresStore) CreateStaffUser(ctx context.Context, u *models.StaffUser) error {
	query := `
		INSERT INTO kupon.staff_users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := s.db.QueryRowContext(ctx, query, u.Username, u.Email, u.PasswordHash).
		Scan(&u.ID, &u.CreatedAt)
	return mapErr("create staff user", err)
}

// FindStaffUserByEmail retrieves a staff user by email
func (s *PostgresStore) FindStaffUserByEmail(ctx context.Context, email string) (*models.StaffUser, error) {
	u := &models.StaffUser{}
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM kupon.staff_users
		WHERE email = $1`
	err := s.db.QueryRowContext(ctx, query, email).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, mapErr("find staff user", err)
	}
	return u, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// monthLockKey derives the advisory lock key for a disbursement month.
func monthLockKey(month time.Time) int64 {
	m := ledger.DateOnly(month)
	return int64(m.Year())*100 + int64(m.Month())
}
