package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kupontech/kupon-ledger/internal/models"
)

func sampleManifest() models.Manifest {
	due := time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC)
	rows := []models.InvoiceRow{
		{
			NoFaktur:     "KTR-20240301-A1B2C3-001",
			DueDate:      due,
			CustomerName: "Budi Santoso",
			AgentCode:    "AGT-01",
			Amount:       decimal.NewFromInt(33),
			PaidAmount:   decimal.NewFromInt(33),
			Status:       models.CouponStatusPaid,
		},
		{
			NoFaktur:     "KTR-20240301-A1B2C3-002",
			DueDate:      due.AddDate(0, 0, 1),
			CustomerName: "Budi Santoso",
			AgentCode:    "AGT-01",
			Amount:       decimal.NewFromInt(34),
			PaidAmount:   decimal.Zero,
			Status:       models.CouponStatusOverdue,
		},
	}
	return models.Manifest{
		Rows:           rows,
		Count:          2,
		TotalBilled:    decimal.NewFromInt(67),
		TotalCollected: decimal.NewFromInt(33),
		OverdueCount:   1,
		CollectionRate: decimal.NewFromInt(33).Div(decimal.NewFromInt(67)),
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleManifest()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"reference", "due_date", "customer", "agent", "amount_billed", "amount_paid", "status"}, records[0])
	assert.Equal(t, []string{"KTR-20240301-A1B2C3-001", "2024-03-02", "Budi Santoso", "AGT-01", "33", "33", "paid"}, records[1])
	assert.Equal(t, "overdue", records[2][6])
}

func TestWriteCSVEmptyManifest(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, models.Manifest{}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestWriteSpreadsheetXML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSpreadsheetXML(&buf, sampleManifest()))

	out := buf.String()
	assert.True(t, strings.Contains(out, `progid="Excel.Sheet"`))

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(out))

	rows := doc.FindElements("//Workbook/Worksheet/Table/Row")
	// Header, two data rows, totals.
	require.Len(t, rows, 4)

	cells := rows[1].FindElements("Cell/Data")
	require.Len(t, cells, 7)
	assert.Equal(t, "KTR-20240301-A1B2C3-001", cells[0].Text())
	assert.Equal(t, "33", cells[4].Text())

	totals := rows[3].FindElements("Cell/Data")
	assert.Contains(t, totals[0].Text(), "2 coupons")
	assert.Equal(t, "67", totals[4].Text())
	assert.Equal(t, "33", totals[5].Text())
}
