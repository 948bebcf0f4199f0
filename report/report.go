/*
Package report renders ledger data as xlsx workbooks.

WORKBOOKS:
  MovementsWorkbook       "Movements" sheet, newest first, plus a "Stock"
                          sheet comparing each product with Σ movements
  ReconciliationWorkbook  "Discrepancies" sheet for one Check report, plus
                          a "Runs" sheet of recent reconciliation runs

Both return an *excelize.File; callers Write it to a response or SaveAs.
*/
package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/warp/backoffice/ledger"
)

// ContentType is the MIME type of the workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const timeLayout = "2006-01-02 15:04:05"

// MovementsWorkbook lists movements and, for each product, stored stock
// against the movement sum.
func MovementsWorkbook(movements []ledger.StockMovement, products []ledger.Product) (*excelize.File, error) {
	f := excelize.NewFile()
	w := &sheetWriter{f: f}
	if err := w.rename("Sheet1", "Movements"); err != nil {
		return nil, err
	}

	names := make(map[ledger.ProductID]string, len(products))
	sums := make(map[ledger.ProductID]int64, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	w.header("Movements", "Date", "Product ID", "Product", "Delta", "Reason", "Reference", "Actor", "Notes")
	for _, m := range movements {
		sums[m.ProductID] += m.Delta
		w.row("Movements",
			m.CreatedAt.UTC().Format(timeLayout), string(m.ProductID), names[m.ProductID],
			m.Delta, string(m.Reason), m.Reference, m.Actor, m.Notes)
	}

	w.sheet("Stock")
	w.header("Stock", "Product ID", "SKU", "Product", "In stock", "Σ movements", "Drift")
	for _, p := range products {
		w.row("Stock", string(p.ID), p.SKU, p.Name, p.QuantityInStock, sums[p.ID], p.QuantityInStock-sums[p.ID])
	}

	w.widths("Movements", map[string]float64{"A": 20, "B": 38, "C": 28, "F": 44})
	w.widths("Stock", map[string]float64{"A": 38, "C": 28})
	return w.done()
}

// ReconciliationWorkbook renders one check report and the recent run
// history.
func ReconciliationWorkbook(report *ledger.Report, runs []ledger.ReconciliationRun) (*excelize.File, error) {
	if report == nil {
		return nil, ledger.Invalid("report", "required")
	}
	f := excelize.NewFile()
	w := &sheetWriter{f: f}
	if err := w.rename("Sheet1", "Discrepancies"); err != nil {
		return nil, err
	}

	w.header("Discrepancies", "Kind", "Entity ID", "Stored", "Expected", "Drift")
	for _, d := range report.Discrepancies {
		w.row("Discrepancies", d.Kind, d.EntityID,
			d.Stored.InexactFloat64(), d.Expected.InexactFloat64(), d.Drift().InexactFloat64())
	}
	w.row("Discrepancies")
	w.row("Discrepancies", "Checked at", report.CheckedAt.UTC().Format(timeLayout))
	w.row("Discrepancies", "Products checked", report.ProductsChecked)
	w.row("Discrepancies", "Totals checked", report.TotalsChecked)

	w.sheet("Runs")
	w.header("Runs", "Run ID", "Started", "Completed", "Status", "Discrepancies", "Repaired", "Error")
	for _, r := range runs {
		completed := ""
		if r.CompletedAt != nil {
			completed = r.CompletedAt.UTC().Format(timeLayout)
		}
		w.row("Runs", r.ID, r.StartedAt.UTC().Format(timeLayout), completed, r.Status, r.Discrepancies, r.Repaired, r.Error)
	}

	w.widths("Discrepancies", map[string]float64{"A": 18, "B": 38})
	w.widths("Runs", map[string]float64{"A": 38, "B": 20, "C": 20, "G": 40})
	return w.done()
}

// sheetWriter appends rows sheet by sheet and keeps the first error.
type sheetWriter struct {
	f    *excelize.File
	next map[string]int
	bold int
	err  error
}

func (w *sheetWriter) rename(from, to string) error {
	if err := w.f.SetSheetName(from, to); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	return nil
}

func (w *sheetWriter) sheet(name string) {
	if w.err != nil {
		return
	}
	_, w.err = w.f.NewSheet(name)
}

func (w *sheetWriter) header(sheet string, titles ...string) {
	if w.err != nil {
		return
	}
	if w.bold == 0 {
		if w.bold, w.err = w.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); w.err != nil {
			return
		}
	}
	cells := make([]any, len(titles))
	for i, t := range titles {
		cells[i] = t
	}
	row := w.row(sheet, cells...)
	if w.err != nil {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(titles), row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), last, w.bold)
}

// row writes cells on the next free row of sheet and returns its number.
func (w *sheetWriter) row(sheet string, cells ...any) int {
	if w.next == nil {
		w.next = map[string]int{}
	}
	w.next[sheet]++
	n := w.next[sheet]
	if w.err != nil || len(cells) == 0 {
		return n
	}
	w.err = w.f.SetSheetRow(sheet, fmt.Sprintf("A%d", n), &cells)
	return n
}

func (w *sheetWriter) widths(sheet string, cols map[string]float64) {
	for col, width := range cols {
		if w.err != nil {
			return
		}
		w.err = w.f.SetColWidth(sheet, col, col, width)
	}
}

func (w *sheetWriter) done() (*excelize.File, error) {
	if w.err != nil {
		w.f.Close()
		return nil, fmt.Errorf("build workbook: %w", w.err)
	}
	w.f.SetActiveSheet(0)
	return w.f, nil
}
