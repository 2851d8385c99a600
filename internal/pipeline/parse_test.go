package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partsbin/internal"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return raw
}

func TestParseOrderHistory(t *testing.T) {
	parser := NewParser(nil)
	orders, skipped, err := parser.Parse(context.Background(), loadFixture(t, "order_history.html"), nil)
	require.NoError(t, err)

	// The third block has no order number and is skipped, not fatal.
	assert.Equal(t, 1, skipped)
	require.Len(t, orders, 2)

	first := orders[0]
	assert.Equal(t, "8012345678901234", first.OrderNumber)
	assert.Equal(t, "ShenzhenParts Official Store", first.Supplier)
	assert.Equal(t, "Delivered", first.Status)
	require.NotNil(t, first.OrderDate)
	assert.Equal(t, "2024-03-05", first.OrderDate.Format("2006-01-02"))
	require.NotNil(t, first.Total)
	assert.Equal(t, "13.8", first.Total.String())

	require.Len(t, first.Items, 2)
	resistor := first.Items[0]
	assert.Equal(t, "100pcs 10K Ohm Resistor 1/4W Metal Film", resistor.Title)
	assert.Equal(t, 2, resistor.Quantity)
	assert.Equal(t, "1.95", resistor.UnitPrice.String())
	assert.Equal(t, "3.9", resistor.TotalPrice.String())
	assert.Equal(t, "https://img.example.com/resistor-10k.jpg", resistor.ImageURL)
	assert.Equal(t, "https://example.com/item/1001", resistor.ProductURL)

	esp := first.Items[1]
	assert.Equal(t, "ESP32 DevKit V1 WiFi Bluetooth Development Board", esp.Title)
	assert.Equal(t, 1, esp.Quantity)

	second := orders[1]
	assert.Equal(t, "8012345678909999", second.OrderNumber)
	assert.Equal(t, "Hua Xin Components", second.Supplier)

	// The untitled row in the second order is dropped without dropping
	// its siblings.
	require.Len(t, second.Items, 1)
	capacitor := second.Items[0]
	assert.Equal(t, "0.1uF 50V Ceramic Capacitor 100pcs", capacitor.Title)
	assert.Equal(t, map[string]string{"Tolerance": "10%"}, capacitor.Specifications)
}

func TestParseMHTMLEnvelope(t *testing.T) {
	html := `<html><body><div class="order-item">` +
		`<span class="order-number">Order #: AB1234567</span>` +
		`<div class="order-item-content"><a class="item-title" href="#">LED 5mm Red</a></div>` +
		`</div></body></html>`
	mhtml := "MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/related; boundary=\"frontier\"\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		html + "\r\n" +
		"--frontier--\r\n"

	parser := NewParser(nil)
	orders, skipped, err := parser.Parse(context.Background(), []byte(mhtml), nil)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, orders, 1)
	assert.Equal(t, "AB1234567", orders[0].OrderNumber)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, "LED 5mm Red", orders[0].Items[0].Title)
}

func TestParseRejectsNonMarkup(t *testing.T) {
	parser := NewParser(nil)

	for _, raw := range [][]byte{
		[]byte("just some plain text, definitely not markup"),
		[]byte(""),
		[]byte("   \n  "),
	} {
		_, _, err := parser.Parse(context.Background(), raw, nil)
		var formatErr *internal.DocumentFormatError
		assert.ErrorAs(t, err, &formatErr)
	}
}

func TestParseMarkupWithoutOrdersIsEmpty(t *testing.T) {
	parser := NewParser(nil)
	orders, skipped, err := parser.Parse(context.Background(), []byte("<html><body><p>hello</p></body></html>"), nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Zero(t, skipped)
}

func TestParseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parser := NewParser(nil)
	_, _, err := parser.Parse(ctx, loadFixture(t, "order_history.html"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseItemTableLayout(t *testing.T) {
	html := `<html><body><div class="order-item">
		<span class="order-number">Order #: TBL999001</span>
		<table>
			<tr><th>Product</th><th>Qty</th><th>Unit Price</th><th>Subtotal</th></tr>
			<tr><td>BC547 NPN Transistor</td><td>50</td><td>$0.02</td><td>$1.00</td></tr>
			<tr><td>1N4148 Switching Diode</td><td>100</td><td>$0.01</td><td>$1.00</td></tr>
			<tr><td></td><td>3</td><td>$5.00</td><td>$15.00</td></tr>
		</table>
	</div></body></html>`

	parser := NewParser(nil)
	orders, _, err := parser.Parse(context.Background(), []byte(html), nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Len(t, orders[0].Items, 2)

	bc := orders[0].Items[0]
	assert.Equal(t, "BC547 NPN Transistor", bc.Title)
	assert.Equal(t, 50, bc.Quantity)
	assert.Equal(t, "0.02", bc.UnitPrice.String())
	assert.Equal(t, "1", bc.TotalPrice.String())
}
