package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kupontech/kupon-ledger/internal/config"
	"github.com/kupontech/kupon-ledger/internal/ledger"
	"github.com/kupontech/kupon-ledger/internal/models"
	"github.com/kupontech/kupon-ledger/internal/repository"
)

func newTestService(ceiling int64) (*Service, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.Config{
		JWTSecret:           "test-secret",
		MonthlyLendingLimit: decimal.NewFromInt(ceiling),
	}
	return NewService(store, log, cfg), store
}

func seedCustomerAndAgent(t *testing.T, svc *Service) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	customer, err := svc.CreateCustomer(ctx, &models.Customer{Name: "Budi Santoso", Address: "Jl. Merdeka No. 123", Phone: "081234567890"})
	require.NoError(t, err)
	agent, err := svc.CreateSalesAgent(ctx, &models.SalesAgent{Name: "Agus Prayitno", AgentCode: "AGT-01", Area: "Jakarta Pusat", Email: "agus@kupon.local"})
	require.NoError(t, err)
	return customer.ID, agent.ID
}

func TestCreateContract(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Run("creates contract with full coupon schedule", func(t *testing.T) {
		svc, store := newTestService(1_000_000_000)
		customerID, salesID := seedCustomerAndAgent(t, svc)

		res, err := svc.CreateContract(ctx, ContractRequest{
			CustomerID:      customerID,
			SalesID:         salesID,
			StartDate:       start,
			TenorDays:       30,
			TotalLoanAmount: decimal.NewFromInt(1_500_000),
		})
		require.NoError(t, err)
		require.NotNil(t, res.Contract)
		assert.Equal(t, models.ContractStatusActive, res.Contract.Status)
		assert.Contains(t, res.Contract.ContractRef, "KTR-20240301-")

		coupons, err := store.ListCouponsByContract(ctx, res.Contract.ID)
		require.NoError(t, err)
		require.Len(t, coupons, 30)

		sum := decimal.Zero
		for _, c := range coupons {
			sum = sum.Add(c.Amount)
		}
		assert.True(t, decimal.NewFromInt(1_500_000).Equal(sum))
	})

	t.Run("rejects a contract over the monthly limit", func(t *testing.T) {
		svc, _ := newTestService(1_000_000_000)
		customerID, salesID := seedCustomerAndAgent(t, svc)

		_, err := svc.CreateContract(ctx, ContractRequest{
			CustomerID:      customerID,
			SalesID:         salesID,
			StartDate:       start,
			TenorDays:       90,
			TotalLoanAmount: decimal.NewFromInt(950_000_000),
		})
		require.NoError(t, err)

		_, err = svc.CreateContract(ctx, ContractRequest{
			CustomerID:      customerID,
			SalesID:         salesID,
			StartDate:       start.AddDate(0, 0, 10),
			TenorDays:       30,
			TotalLoanAmount: decimal.NewFromInt(60_000_000),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ledger.ErrLimitExceeded)

		// A different month is a fresh bucket.
		_, err = svc.CreateContract(ctx, ContractRequest{
			CustomerID:      customerID,
			SalesID:         salesID,
			StartDate:       start.AddDate(0, 1, 0),
			TenorDays:       30,
			TotalLoanAmount: decimal.NewFromInt(60_000_000),
		})
		assert.NoError(t, err)
	})

	t.Run("limit snapshot reflects the admitted contract", func(t *testing.T) {
		svc, _ := newTestService(1_000_000_000)
		customerID, salesID := seedCustomerAndAgent(t, svc)

		res, err := svc.CreateContract(ctx, ContractRequest{
			CustomerID:      customerID,
			SalesID:         salesID,
			StartDate:       start,
			TenorDays:       30,
			TotalLoanAmount: decimal.NewFromInt(900_000_000),
		})
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(900_000_000).Equal(res.Limit.Used))
		assert.True(t, decimal.NewFromInt(100_000_000).Equal(res.Limit.Remaining))
		assert.True(t, decimal.NewFromFloat(0.9).Equal(res.Limit.UsageRatio))
		// The contract that crosses 0.8 itself raises the flag.
		assert.True(t, res.Limit.NearLimit)
	})

	t.Run("rejects unknown customer or agent", func(t *testing.T) {
		svc, _ := newTestService(1_000_000_000)
		customerID, salesID := seedCustomerAndAgent(t, svc)

		_, err := svc.CreateContract(ctx, ContractRequest{
			CustomerID:      uuid.New(),
			SalesID:         salesID,
			StartDate:       start,
			TenorDays:       10,
			TotalLoanAmount: decimal.NewFromInt(1000),
		})
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = svc.CreateContract(ctx, ContractRequest{
			CustomerID:      customerID,
			SalesID:         uuid.New(),
			StartDate:       start,
			TenorDays:       10,
			TotalLoanAmount: decimal.NewFromInt(1000),
		})
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("rejects an invalid tenor", func(t *testing.T) {
		svc, _ := newTestService(1_000_000_000)
		customerID, salesID := seedCustomerAndAgent(t, svc)

		_, err := svc.CreateContract(ctx, ContractRequest{
			CustomerID:      customerID,
			SalesID:         salesID,
			StartDate:       start,
			TenorDays:       0,
			TotalLoanAmount: decimal.NewFromInt(1000),
		})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})
}

func TestRecordPayment(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	paidOn := time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC)

	setup := func(t *testing.T, tenor int, total int64) (*Service, *repository.MemoryStore, *models.CreditContract) {
		t.Helper()
		svc, store := newTestService(1_000_000_000)
		customerID, salesID := seedCustomerAndAgent(t, svc)
		res, err := svc.CreateContract(ctx, ContractRequest{
			CustomerID:      customerID,
			SalesID:         salesID,
			StartDate:       start,
			TenorDays:       tenor,
			TotalLoanAmount: decimal.NewFromInt(total),
		})
		require.NoError(t, err)
		return svc, store, res.Contract
	}

	t.Run("full settlement of the last coupon closes the contract", func(t *testing.T) {
		svc, store, contract := setup(t, 2, 120000)
		coupons, err := store.ListCouponsByContract(ctx, contract.ID)
		require.NoError(t, err)

		res, err := svc.RecordPayment(ctx, PaymentRequest{CouponID: coupons[0].ID, PaidAmount: decimal.NewFromInt(60000), PaidDate: paidOn})
		require.NoError(t, err)
		assert.Equal(t, models.CouponStatusPaid, res.Coupon.Status)
		assert.False(t, res.ContractClosed)

		res, err = svc.RecordPayment(ctx, PaymentRequest{CouponID: coupons[1].ID, PaidAmount: decimal.NewFromInt(60000), PaidDate: paidOn})
		require.NoError(t, err)
		assert.True(t, res.ContractClosed)
		require.NotNil(t, res.Coupon.PaidDate)

		got, err := store.GetContract(ctx, contract.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ContractStatusClosed, got.Status)
	})

	t.Run("a zero correction reverts the coupon and reopens the contract", func(t *testing.T) {
		svc, store, contract := setup(t, 1, 60000)
		coupons, err := store.ListCouponsByContract(ctx, contract.ID)
		require.NoError(t, err)

		res, err := svc.RecordPayment(ctx, PaymentRequest{CouponID: coupons[0].ID, PaidAmount: decimal.NewFromInt(60000), PaidDate: paidOn})
		require.NoError(t, err)
		require.True(t, res.ContractClosed)

		res, err = svc.RecordPayment(ctx, PaymentRequest{CouponID: coupons[0].ID, PaidAmount: decimal.Zero, PaidDate: paidOn})
		require.NoError(t, err)
		assert.Equal(t, models.CouponStatusUnpaid, res.Coupon.Status)
		assert.Nil(t, res.Coupon.PaidDate)
		assert.True(t, res.ContractReopened)

		got, err := store.GetContract(ctx, contract.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ContractStatusActive, got.Status)
	})

	t.Run("partial payment keeps the contract active", func(t *testing.T) {
		svc, store, contract := setup(t, 1, 60000)
		coupons, err := store.ListCouponsByContract(ctx, contract.ID)
		require.NoError(t, err)

		res, err := svc.RecordPayment(ctx, PaymentRequest{CouponID: coupons[0].ID, PaidAmount: decimal.NewFromInt(30000), PaidDate: paidOn})
		require.NoError(t, err)
		assert.Equal(t, models.CouponStatusPartial, res.Coupon.Status)
		assert.False(t, res.ContractClosed)
	})

	t.Run("records the collector of record and notes", func(t *testing.T) {
		svc, store, contract := setup(t, 1, 60000)
		coupons, err := store.ListCouponsByContract(ctx, contract.ID)
		require.NoError(t, err)

		agent, err := svc.CreateSalesAgent(ctx, &models.SalesAgent{Name: "Dedi Kurniawan", AgentCode: "AGT-02"})
		require.NoError(t, err)

		res, err := svc.RecordPayment(ctx, PaymentRequest{
			CouponID:    coupons[0].ID,
			PaidAmount:  decimal.NewFromInt(10000),
			PaidDate:    paidOn,
			CollectedBy: &agent.ID,
			Notes:       "bayar sebagian, sisa minggu depan",
		})
		require.NoError(t, err)
		require.NotNil(t, res.Coupon.CollectedBy)
		assert.Equal(t, agent.ID, *res.Coupon.CollectedBy)
		assert.NotEmpty(t, res.Coupon.Notes)
	})

	t.Run("omitted paid date defaults to the entry date", func(t *testing.T) {
		svc, store, contract := setup(t, 1, 60000)
		coupons, err := store.ListCouponsByContract(ctx, contract.ID)
		require.NoError(t, err)

		res, err := svc.RecordPayment(ctx, PaymentRequest{CouponID: coupons[0].ID, PaidAmount: decimal.NewFromInt(60000)})
		require.NoError(t, err)
		require.NotNil(t, res.Coupon.PaidDate)
		assert.Equal(t, ledger.DateOnly(time.Now().UTC()), *res.Coupon.PaidDate)
	})

	t.Run("rejects payments on cancelled contracts", func(t *testing.T) {
		svc, store, contract := setup(t, 1, 60000)
		coupons, err := store.ListCouponsByContract(ctx, contract.ID)
		require.NoError(t, err)

		_, err = svc.CancelContract(ctx, contract.ID)
		require.NoError(t, err)

		_, err = svc.RecordPayment(ctx, PaymentRequest{CouponID: coupons[0].ID, PaidAmount: decimal.NewFromInt(60000), PaidDate: paidOn})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("rejects negative amounts", func(t *testing.T) {
		svc, store, contract := setup(t, 1, 60000)
		coupons, err := store.ListCouponsByContract(ctx, contract.ID)
		require.NoError(t, err)

		_, err = svc.RecordPayment(ctx, PaymentRequest{CouponID: coupons[0].ID, PaidAmount: decimal.NewFromInt(-5), PaidDate: paidOn})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("unknown coupon returns not found", func(t *testing.T) {
		svc, _ := newTestService(1_000_000_000)
		_, err := svc.RecordPayment(ctx, PaymentRequest{CouponID: uuid.New(), PaidAmount: decimal.NewFromInt(1), PaidDate: paidOn})
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestBuildManifest(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	svc, store := newTestService(1_000_000_000)
	customerID, salesID := seedCustomerAndAgent(t, svc)

	res, err := svc.CreateContract(ctx, ContractRequest{
		CustomerID:      customerID,
		SalesID:         salesID,
		StartDate:       start,
		TenorDays:       3,
		TotalLoanAmount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	coupons, err := store.ListCouponsByContract(ctx, res.Contract.ID)
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, PaymentRequest{CouponID: coupons[0].ID, PaidAmount: decimal.NewFromInt(33), PaidDate: start.AddDate(0, 0, 1)})
	require.NoError(t, err)

	t.Run("joins coupon rows with customer and agent identity", func(t *testing.T) {
		m, err := svc.BuildManifest(ctx, models.ManifestFilter{}, start.AddDate(0, 0, 3))
		require.NoError(t, err)
		require.Equal(t, 3, m.Count)

		assert.Equal(t, "Budi Santoso", m.Rows[0].CustomerName)
		assert.Equal(t, "AGT-01", m.Rows[0].AgentCode)
		assert.Equal(t, res.Contract.ContractRef+"-001", m.Rows[0].NoFaktur)
		assert.True(t, decimal.NewFromInt(100).Equal(m.TotalBilled))
		assert.True(t, decimal.NewFromInt(33).Equal(m.TotalCollected))
		// Installment 2 (due day 3) is unsettled and past due.
		assert.Equal(t, 1, m.OverdueCount)
	})

	t.Run("cancelled contracts drop out of the manifest", func(t *testing.T) {
		_, err := svc.CancelContract(ctx, res.Contract.ID)
		require.NoError(t, err)

		m, err := svc.BuildManifest(ctx, models.ManifestFilter{}, start.AddDate(0, 0, 3))
		require.NoError(t, err)
		assert.Equal(t, 0, m.Count)
		assert.True(t, m.CollectionRate.IsZero())
	})
}

func TestCustomerDeletionGuard(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	svc, store := newTestService(1_000_000_000)
	customerID, salesID := seedCustomerAndAgent(t, svc)

	res, err := svc.CreateContract(ctx, ContractRequest{
		CustomerID:      customerID,
		SalesID:         salesID,
		StartDate:       start,
		TenorDays:       5,
		TotalLoanAmount: decimal.NewFromInt(50000),
	})
	require.NoError(t, err)

	t.Run("requires confirmation when contracts exist", func(t *testing.T) {
		err := svc.DeleteCustomer(ctx, customerID, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ledger.ErrConflict)
	})

	t.Run("confirmed deletion cancels the contracts", func(t *testing.T) {
		require.NoError(t, svc.DeleteCustomer(ctx, customerID, true))

		contract, err := store.GetContract(ctx, res.Contract.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ContractStatusCancelled, contract.Status)

		_, err = store.GetCustomer(ctx, customerID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestSalesAgentDeletionGuard(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	svc, store := newTestService(1_000_000_000)
	customerID, salesID := seedCustomerAndAgent(t, svc)

	_, err := svc.CreateContract(ctx, ContractRequest{
		CustomerID:      customerID,
		SalesID:         salesID,
		StartDate:       start,
		TenorDays:       2,
		TotalLoanAmount: decimal.NewFromInt(20000),
	})
	require.NoError(t, err)

	err = svc.DeleteSalesAgent(ctx, salesID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrConflict)

	// Settle the contract, then deletion is allowed.
	coupons, err := store.ListCouponsByContract(ctx, mustOnlyContract(t, store).ID)
	require.NoError(t, err)
	for _, c := range coupons {
		_, err := svc.RecordPayment(ctx, PaymentRequest{CouponID: c.ID, PaidAmount: c.Amount, PaidDate: start.AddDate(0, 0, 1)})
		require.NoError(t, err)
	}
	assert.NoError(t, svc.DeleteSalesAgent(ctx, salesID))
}

func mustOnlyContract(t *testing.T, store *repository.MemoryStore) models.CreditContract {
	t.Helper()
	contracts, err := store.ListContracts(context.Background())
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	return contracts[0]
}

type capturingSender struct {
	notices map[string][]models.InvoiceRow
}

func (c *capturingSender) SendOverdueNotice(agent models.SalesAgent, rows []models.InvoiceRow) error {
	if c.notices == nil {
		c.notices = make(map[string][]models.InvoiceRow)
	}
	c.notices[agent.AgentCode] = rows
	return nil
}

func TestSendOverdueReminders(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	svc, _ := newTestService(1_000_000_000)
	customerID, salesID := seedCustomerAndAgent(t, svc)
	sender := &capturingSender{}
	svc.SetReminderSender(sender)

	_, err := svc.CreateContract(ctx, ContractRequest{
		CustomerID:      customerID,
		SalesID:         salesID,
		StartDate:       start,
		TenorDays:       2,
		TotalLoanAmount: decimal.NewFromInt(20000),
	})
	require.NoError(t, err)

	// Well past both due dates, nothing paid.
	sent, err := svc.SendOverdueReminders(ctx, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, sender.notices["AGT-01"], 2)
}

func TestAuth(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(1_000_000_000)

	t.Run("register then login issues a token", func(t *testing.T) {
		_, err := svc.Register(ctx, "admin", "admin@kupon.local", "rahasia123")
		require.NoError(t, err)

		token, err := svc.Login(ctx, "admin@kupon.local", "rahasia123")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		_, err := svc.Login(ctx, "admin@kupon.local", "salah")
		assert.Error(t, err)
	})
}
