// Package report renders collection manifests into the file formats the
// back office hands to collectors and accounting: CSV and Excel 2003
// SpreadsheetML workbooks.
package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/kupontech/kupon-ledger/internal/models"
)

const dateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

var csvHeader = []string{"reference", "due_date", "customer", "agent", "amount_billed", "amount_paid", "status"}

// WriteCSV streams manifest rows as CSV, one line per coupon.
func WriteCSV(w io.Writer, m models.Manifest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range m.Rows {
		record := []string{
			row.NoFaktur,
			row.DueDate.Format(dateLayout),
			row.CustomerName,
			row.AgentCode,
			row.Amount.String(),
			row.PaidAmount.String(),
			row.Status,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSpreadsheetXML renders the manifest as an Excel 2003 SpreadsheetML
// workbook with a summary row at the bottom.
func WriteSpreadsheetXML(w io.Writer, m models.Manifest) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateProcInst("mso-application", `progid="Excel.Sheet"`)

	workbook := doc.CreateElement("Workbook")
	workbook.CreateAttr("xmlns", "urn:schemas-microsoft-com:office:spreadsheet")
	workbook.CreateAttr("xmlns:ss", "urn:schemas-microsoft-com:office:spreadsheet")

	worksheet := workbook.CreateElement("Worksheet")
	worksheet.CreateAttr("ss:Name", "Manifest")
	table := worksheet.CreateElement("Table")

	header := table.CreateElement("Row")
	for _, title := range []string{"Reference", "Due Date", "Customer", "Agent", "Billed", "Paid", "Status"} {
		addCell(header, "String", title)
	}

	for _, row := range m.Rows {
		r := table.CreateElement("Row")
		addCell(r, "String", row.NoFaktur)
		addCell(r, "String", row.DueDate.Format(dateLayout))
		addCell(r, "String", row.CustomerName)
		addCell(r, "String", row.AgentCode)
		addCell(r, "Number", row.Amount.String())
		addCell(r, "Number", row.PaidAmount.String())
		addCell(r, "String", row.Status)
	}

	totals := table.CreateElement("Row")
	addCell(totals, "String", fmt.Sprintf("TOTAL (%d coupons, %d overdue)", m.Count, m.OverdueCount))
	addCell(totals, "String", "")
	addCell(totals, "String", "")
	addCell(totals, "String", "")
	addCell(totals, "Number", m.TotalBilled.String())
	addCell(totals, "Number", m.TotalCollected.String())
	addCell(totals, "String", fmt.Sprintf("rate %s%%", m.CollectionRate.Mul(hundred).StringFixed(1)))

	doc.Indent(2)
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func addCell(row *etree.Element, dataType, value string) {
	cell := row.CreateElement("Cell")
	data := cell.CreateElement("Data")
	data.CreateAttr("ss:Type", dataType)
	data.SetText(value)
}
