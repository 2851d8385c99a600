package pipeline

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"partsbin/internal/storage"
)

const reviewSheet = "Manual Review"

// ExportReviewSheet writes every item flagged for manual review into an
// XLSX workbook at path, lowest confidence first, so a curator can work
// through the queue top to bottom.
func ExportReviewSheet(db *storage.DB, path string, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.GetReviewRows(limit)
	if err != nil {
		return 0, fmt.Errorf("load review rows: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(reviewSheet)
	if err != nil {
		return 0, err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"Order", "Supplier", "Item Title", "Qty", "Unit Price", "Confidence", "Component", "Category", "Part Number"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(reviewSheet, cell, h)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err == nil {
		_ = f.SetCellStyle(reviewSheet, "A1", "I1", headerStyle)
	}

	for i, row := range rows {
		values := []interface{}{
			row.OrderNumber,
			row.Supplier,
			row.Title,
			row.Quantity,
			row.UnitPrice.InexactFloat64(),
			row.Confidence,
			strOrDash(row.ComponentName),
			strOrDash(row.Category),
			strOrDash(row.PartNumber),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(reviewSheet, cell, v)
		}
	}

	_ = f.SetColWidth(reviewSheet, "A", "A", 18)
	_ = f.SetColWidth(reviewSheet, "C", "C", 48)
	_ = f.SetColWidth(reviewSheet, "G", "I", 22)

	if err := f.SaveAs(path); err != nil {
		return 0, fmt.Errorf("save workbook: %w", err)
	}
	return len(rows), nil
}

func strOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
