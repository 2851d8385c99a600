package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"partsbin/internal"
)

func TestExportReviewSheet(t *testing.T) {
	db := newTestDB(t)

	tx, err := db.BeginOrder()
	require.NoError(t, err)
	orderID, err := tx.InsertOrder(internal.Order{OrderNumber: "ORD-888001", Supplier: "Hua Xin Components"}, 0)
	require.NoError(t, err)
	_, err = tx.InsertItem(orderID, internal.Item{Title: "mystery unbranded widget", Quantity: 3}, nil, 0.5, true)
	require.NoError(t, err)
	_, err = tx.InsertItem(orderID, internal.Item{Title: "known part", Quantity: 1}, nil, 0.95, false)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	path := filepath.Join(t.TempDir(), "review.xlsx")
	count, err := ExportReviewSheet(db, path, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Manual Review")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Order", rows[0][0])
	assert.Equal(t, "ORD-888001", rows[1][0])
	assert.Equal(t, "mystery unbranded widget", rows[1][2])
}

func TestExportReviewSheetEmptyQueue(t *testing.T) {
	db := newTestDB(t)

	path := filepath.Join(t.TempDir(), "review.xlsx")
	count, err := ExportReviewSheet(db, path, 10)
	require.NoError(t, err)
	assert.Zero(t, count)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Manual Review")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
