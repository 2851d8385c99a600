package pipeline

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"partsbin/internal"
	"partsbin/internal/util"
)

// Parser turns a raw marketplace order-history export (HTML or MHTML) into
// an ordered list of orders with nested items. One layout family is
// supported: repeating order blocks, each with a header line and item rows
// either as nested blocks or as a table probed by column header.
type Parser struct {
	log *zap.Logger
}

func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log}
}

var (
	orderNumberPattern = regexp.MustCompile(`(?i)order\s*(?:id|no\.?|number|#)?[:\s#]*([A-Z0-9][A-Z0-9-]{5,})`)
	datePatterns       = []string{
		"Jan 2, 2006",
		"Jan. 2, 2006",
		"January 2, 2006",
		"2006-01-02",
		"02.01.2006",
		"01/02/2006",
		"2 Jan 2006",
	}
)

// Parse extracts orders from raw document bytes, emitting ordered progress
// events to the optional sink. The second return value counts order blocks
// that were located but not recognizable (reported as statistics, never as
// an error). A *internal.DocumentFormatError is returned only when the
// input is not markup at all.
func (p *Parser) Parse(ctx context.Context, raw []byte, sink Sink) ([]internal.Order, int, error) {
	safeEmit(sink, ProgressEvent{Stage: StageParsing})

	html, err := unwrapDocument(raw)
	if err != nil {
		return nil, 0, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, &internal.DocumentFormatError{Reason: err.Error()}
	}

	safeEmit(sink, ProgressEvent{Stage: StageStructuring})

	orders := make([]internal.Order, 0)
	skipped := 0
	itemCount := 0

	blocks := doc.Find(".order-item, .order-block, div[data-order-id]")
	var iterErr error
	blocks.EachWithBreak(func(_ int, block *goquery.Selection) bool {
		select {
		case <-ctx.Done():
			iterErr = ctx.Err()
			return false
		default:
		}

		order, ok := p.parseOrderBlock(block)
		if !ok {
			skipped++
			return true
		}
		orders = append(orders, order)
		itemCount += len(order.Items)
		safeEmit(sink, ProgressEvent{Stage: StageStructuring, Orders: len(orders), Items: itemCount})
		return true
	})
	if iterErr != nil {
		return nil, skipped, iterErr
	}

	return orders, skipped, nil
}

// unwrapDocument returns the HTML body of the export. MHTML archives are
// unwrapped through their MIME envelope first.
func unwrapDocument(raw []byte) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", &internal.DocumentFormatError{Reason: "empty document"}
	}

	if looksLikeMIME(raw) {
		env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
		if err != nil {
			return "", &internal.DocumentFormatError{Reason: "invalid MHTML envelope: " + err.Error()}
		}
		if env.HTML != "" {
			return env.HTML, nil
		}
		if strings.Contains(env.Text, "<") {
			return env.Text, nil
		}
		return "", &internal.DocumentFormatError{Reason: "MHTML envelope carries no HTML part"}
	}

	if !bytes.ContainsRune(raw, '<') {
		return "", &internal.DocumentFormatError{Reason: "input is not markup"}
	}
	return string(raw), nil
}

func looksLikeMIME(raw []byte) bool {
	head := raw
	if len(head) > 2048 {
		head = head[:2048]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("mime-version:")) ||
		bytes.Contains(lower, []byte("content-type: multipart/related"))
}

func (p *Parser) parseOrderBlock(block *goquery.Selection) (internal.Order, bool) {
	order := internal.Order{}

	if text := strings.TrimSpace(block.Find(".order-number").First().Text()); text != "" {
		// Labels like "Order #: 8012345678901234" carry the id at the end.
		if m := orderNumberPattern.FindStringSubmatch(text); len(m) > 1 {
			order.OrderNumber = m[1]
		} else {
			order.OrderNumber = text
		}
	}
	if order.OrderNumber == "" {
		if m := orderNumberPattern.FindStringSubmatch(blockHeaderText(block)); len(m) > 1 {
			order.OrderNumber = m[1]
		}
	}
	if order.OrderNumber == "" {
		if v, ok := block.Attr("data-order-id"); ok {
			order.OrderNumber = strings.TrimSpace(v)
		}
	}
	// An unnumbered block is unrecognizable; skip it without failing
	// sibling orders.
	if order.OrderNumber == "" {
		return internal.Order{}, false
	}

	order.Supplier = firstText(block, ".store-name a", ".store-name", ".supplier", ".seller-name")
	order.Status = firstText(block, ".order-status", ".status")

	if dateText := firstText(block, ".order-date", ".date"); dateText != "" {
		if ts, ok := parseOrderDate(dateText); ok {
			order.OrderDate = &ts
		}
	}

	if totalText := firstText(block, ".order-total", ".order-amount", ".total"); totalText != "" {
		if amount, ok := util.ParseMoney(totalText); ok {
			order.Total = &amount
		}
	}

	order.Items = p.parseItems(block)
	return order, true
}

func (p *Parser) parseItems(block *goquery.Selection) []internal.Item {
	items := make([]internal.Item, 0)

	rows := block.Find(".order-item-content, .item-row, .product-item, li.item")
	rows.Each(func(_ int, row *goquery.Selection) {
		if item, ok := p.parseItemRow(row); ok {
			items = append(items, item)
		}
	})
	if len(items) > 0 {
		return items
	}

	// Table-shaped blocks: probe column headers for title/qty/price.
	block.Find("table").Each(func(_ int, table *goquery.Selection) {
		items = append(items, p.parseItemTable(table)...)
	})
	return items
}

func (p *Parser) parseItemRow(row *goquery.Selection) (internal.Item, bool) {
	item := internal.Item{Quantity: 1}

	item.Title = firstText(row, ".item-title a", ".item-title", ".product-title", "a.title")
	if item.Title == "" {
		item.Title = strings.TrimSpace(row.Find("a").First().Text())
	}
	// A row without a title is malformed; dropping it must not drop the
	// rest of the order.
	if item.Title == "" {
		return internal.Item{}, false
	}

	rowText := normalizeSpaces(row.Text())
	if qtyText := firstText(row, ".item-qty", ".quantity", ".qty"); qtyText != "" {
		if qty := util.ParseQuantity("x" + strings.TrimPrefix(qtyText, "x")); qty > 0 {
			item.Quantity = qty
		}
	} else if qty := util.ParseQuantity(rowText); qty > 0 {
		item.Quantity = qty
	}

	if priceText := firstText(row, ".item-price", ".price", ".unit-price"); priceText != "" {
		if amount, ok := util.ParseMoney(priceText); ok {
			item.UnitPrice = amount
		}
	}
	if totalText := firstText(row, ".item-total", ".line-total"); totalText != "" {
		if amount, ok := util.ParseMoney(totalText); ok {
			item.TotalPrice = amount
		}
	}
	if item.TotalPrice.IsZero() && !item.UnitPrice.IsZero() {
		item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	}

	if src, ok := row.Find("img").First().Attr("src"); ok {
		item.ImageURL = strings.TrimSpace(src)
	}
	if href, ok := row.Find("a[href]").First().Attr("href"); ok {
		item.ProductURL = strings.TrimSpace(href)
	}

	item.Specifications = parseSpecTable(row)
	return item, true
}

// parseItemTable extracts item rows from a table whose first row names its
// columns. Unknown columns default to empty values.
func (p *Parser) parseItemTable(table *goquery.Selection) []internal.Item {
	rows := table.Find("tr")
	if rows.Length() < 2 {
		return nil
	}

	headers := []string{}
	rows.First().Find("th,td").Each(func(_ int, cell *goquery.Selection) {
		headers = append(headers, strings.ToLower(strings.TrimSpace(cell.Text())))
	})

	titleIdx := findHeaderIndex(headers, []string{"title", "product", "item", "description", "name"})
	qtyIdx := findHeaderIndex(headers, []string{"qty", "quantity", "amount"})
	priceIdx := findHeaderIndex(headers, []string{"price", "unit"})
	totalIdx := findHeaderIndex(headers, []string{"total", "subtotal"})
	if titleIdx < 0 {
		return nil
	}

	out := []internal.Item{}
	rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
		cells := []string{}
		row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, normalizeSpaces(cell.Text()))
		})
		if titleIdx >= len(cells) || strings.TrimSpace(cells[titleIdx]) == "" {
			return
		}

		item := internal.Item{Title: cells[titleIdx], Quantity: 1}
		if qtyIdx >= 0 && qtyIdx < len(cells) {
			if qty := util.ParseQuantity("x" + cells[qtyIdx]); qty > 0 {
				item.Quantity = qty
			}
		}
		if priceIdx >= 0 && priceIdx < len(cells) {
			if amount, ok := util.ParseMoney(cells[priceIdx]); ok {
				item.UnitPrice = amount
			}
		}
		if totalIdx >= 0 && totalIdx < len(cells) {
			if amount, ok := util.ParseMoney(cells[totalIdx]); ok {
				item.TotalPrice = amount
			}
		}
		if item.TotalPrice.IsZero() && !item.UnitPrice.IsZero() {
			item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		}
		if src, ok := row.Find("img").First().Attr("src"); ok {
			item.ImageURL = strings.TrimSpace(src)
		}
		if href, ok := row.Find("a[href]").First().Attr("href"); ok {
			item.ProductURL = strings.TrimSpace(href)
		}
		out = append(out, item)
	})
	return out
}

// parseSpecTable reads an optional key/value specifications table or
// definition list attached to an item row.
func parseSpecTable(row *goquery.Selection) map[string]string {
	specs := map[string]string{}

	row.Find("table.specifications tr, table.specs tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th,td")
		if cells.Length() < 2 {
			return
		}
		key := normalizeSpaces(cells.Eq(0).Text())
		value := normalizeSpaces(cells.Eq(1).Text())
		if key != "" && value != "" {
			specs[key] = value
		}
	})

	row.Find("dl dt").Each(func(_ int, dt *goquery.Selection) {
		key := normalizeSpaces(dt.Text())
		value := normalizeSpaces(dt.Next().Filter("dd").Text())
		if key != "" && value != "" {
			specs[key] = value
		}
	})

	if len(specs) == 0 {
		return nil
	}
	return specs
}

func blockHeaderText(block *goquery.Selection) string {
	header := block.Find(".order-item-header, .order-header, header").First()
	if header.Length() > 0 {
		return normalizeSpaces(header.Text())
	}
	text := normalizeSpaces(block.Text())
	if len(text) > 300 {
		text = text[:300]
	}
	return text
}

func firstText(sel *goquery.Selection, selectors ...string) string {
	for _, s := range selectors {
		if text := normalizeSpaces(sel.Find(s).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func parseOrderDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "Order date:"))
	text = strings.TrimSpace(strings.TrimPrefix(text, "Date:"))
	for _, layout := range datePatterns {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func normalizeSpaces(input string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(input, " "))
}

var reWhitespace = regexp.MustCompile(`\s+`)

func findHeaderIndex(headers []string, probes []string) int {
	for i, h := range headers {
		for _, probe := range probes {
			if strings.Contains(h, probe) {
				return i
			}
		}
	}
	return -1
}
