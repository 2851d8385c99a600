package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"partsbin/internal"
	"partsbin/internal/util"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS components (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  name_norm TEXT NOT NULL,
  category TEXT NOT NULL,
  subcategory TEXT,
  part_number TEXT,
  part_number_norm TEXT,
  manufacturer TEXT,
  description TEXT NOT NULL DEFAULT '',
  package_type TEXT,
  pin_count INTEGER,
  tags_json TEXT NOT NULL DEFAULT '[]',
  specs_json TEXT NOT NULL DEFAULT '[]',
  protocols_json TEXT NOT NULL DEFAULT '[]',
  quantity INTEGER NOT NULL DEFAULT 0,
  min_threshold INTEGER NOT NULL DEFAULT 0,
  image_path TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_components_part_number
  ON components(part_number_norm) WHERE part_number_norm IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_components_name ON components(name_norm);

CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL,
  supplier TEXT NOT NULL,
  order_date TEXT,
  total TEXT,
  status TEXT NOT NULL DEFAULT '',
  raw_ref TEXT NOT NULL DEFAULT '',
  revision INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(order_number, supplier, revision)
);

CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  component_id TEXT,
  title TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price TEXT NOT NULL,
  total_price TEXT NOT NULL,
  image_url TEXT NOT NULL DEFAULT '',
  local_image_path TEXT NOT NULL DEFAULT '',
  product_url TEXT NOT NULL DEFAULT '',
  specs_json TEXT NOT NULL DEFAULT '{}',
  confidence REAL NOT NULL,
  manual_review INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(order_id) REFERENCES orders(id),
  FOREIGN KEY(component_id) REFERENCES components(id)
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_order_items_review ON order_items(manual_review);

CREATE TABLE IF NOT EXISTS import_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  trace_id TEXT NOT NULL,
  counts_json TEXT NOT NULL,
  timings_json TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

// IsUniqueViolation reports whether err is a sqlite UNIQUE constraint
// failure. Racing writers surface through here as soft skips rather than
// hard failures.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (d *DB) OrderExists(orderNumber, supplier string) (bool, error) {
	var one int
	err := d.conn.QueryRow(
		`SELECT 1 FROM orders WHERE order_number = ? AND supplier = ?`,
		orderNumber, supplier,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NamedComponent is the minimal projection used for closest-name hints.
type NamedComponent struct {
	ID   string
	Name string
}

func (d *DB) ListComponentNames() ([]NamedComponent, error) {
	rows, err := d.conn.Query(`SELECT id, name FROM components`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NamedComponent
	for rows.Next() {
		var nc NamedComponent
		if err := rows.Scan(&nc.ID, &nc.Name); err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

func (d *DB) GetComponentByID(id string) (*internal.Component, error) {
	return scanComponent(d.conn.QueryRow(componentSelect+` WHERE id = ?`, id))
}

// InsertComponent writes a catalog row outside any import transaction.
// Used by seeding and the CRUD collaborators; imports go through OrderTx.
func (d *DB) InsertComponent(c internal.Component) error {
	return insertComponent(d.conn, c)
}

func (d *DB) InsertImportRun(traceID string, counts map[string]int, timings map[string]float64) error {
	countsJSON, _ := json.Marshal(counts)
	timingsJSON, _ := json.Marshal(timings)
	_, err := d.conn.Exec(
		`INSERT INTO import_runs (trace_id, counts_json, timings_json) VALUES (?, ?, ?)`,
		traceID, string(countsJSON), string(timingsJSON),
	)
	return err
}

// OrderTx is one order's atomic unit of work: the order header, its items
// and any component creation or update they trigger commit together.
type OrderTx struct {
	tx *sql.Tx
}

func (d *DB) BeginOrder() (*OrderTx, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return nil, err
	}
	return &OrderTx{tx: tx}, nil
}

func (t *OrderTx) Commit() error   { return t.tx.Commit() }
func (t *OrderTx) Rollback() error { return t.tx.Rollback() }

// NextOrderRevision returns the revision the next copy of an order should
// carry: 0 for a first import, MAX+1 for a deliberate re-import. The unique
// index on (order_number, supplier, revision) turns racing importers of the
// same revision into exactly one winner.
func (t *OrderTx) NextOrderRevision(orderNumber, supplier string) (int, error) {
	var rev sql.NullInt64
	err := t.tx.QueryRow(
		`SELECT MAX(revision) FROM orders WHERE order_number = ? AND supplier = ?`,
		orderNumber, supplier,
	).Scan(&rev)
	if err != nil {
		return 0, err
	}
	if !rev.Valid {
		return 0, nil
	}
	return int(rev.Int64) + 1, nil
}

func (t *OrderTx) InsertOrder(o internal.Order, revision int) (string, error) {
	id := newID()
	var date *string
	if o.OrderDate != nil {
		s := o.OrderDate.UTC().Format(time.RFC3339)
		date = &s
	}
	var total *string
	if o.Total != nil {
		s := o.Total.String()
		total = &s
	}
	_, err := t.tx.Exec(
		`INSERT INTO orders (id, order_number, supplier, order_date, total, status, raw_ref, revision)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, o.OrderNumber, o.Supplier, date, total, o.Status, o.RawRef, revision,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *OrderTx) InsertItem(orderID string, item internal.Item, componentID *string, confidence float64, manualReview bool) (string, error) {
	id := newID()
	specsJSON, _ := json.Marshal(item.Specifications)
	review := 0
	if manualReview {
		review = 1
	}
	_, err := t.tx.Exec(
		`INSERT INTO order_items (id, order_id, component_id, title, quantity, unit_price, total_price,
image_url, local_image_path, product_url, specs_json, confidence, manual_review)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, orderID, componentID, item.Title, item.Quantity,
		item.UnitPrice.String(), item.TotalPrice.String(),
		item.ImageURL, item.LocalImagePath, item.ProductURL,
		string(specsJSON), confidence, review,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *OrderTx) FindComponentByPartNumber(partNumber string) (*internal.Component, error) {
	norm := util.NormalizePartNumber(partNumber)
	if norm == "" {
		return nil, nil
	}
	return scanComponent(t.tx.QueryRow(componentSelect+` WHERE part_number_norm = ?`, norm))
}

func (t *OrderTx) FindComponentByName(name string) (*internal.Component, error) {
	norm := util.NormalizeTitle(name)
	if norm == "" {
		return nil, nil
	}
	return scanComponent(t.tx.QueryRow(componentSelect+` WHERE name_norm = ? LIMIT 1`, norm))
}

func (t *OrderTx) InsertComponent(c internal.Component) error {
	return insertComponent(t.tx, c)
}

func (t *OrderTx) AddComponentQuantity(id string, delta int) error {
	_, err := t.tx.Exec(
		`UPDATE components SET quantity = quantity + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		delta, id,
	)
	return err
}

// BackfillComponent fills empty descriptive fields from a candidate without
// overwriting populated ones.
func (t *OrderTx) BackfillComponent(id, description, imagePath string) error {
	_, err := t.tx.Exec(
		`UPDATE components SET
  description = CASE WHEN description = '' THEN ? ELSE description END,
  image_path = CASE WHEN image_path = '' THEN ? ELSE image_path END,
  updated_at = CURRENT_TIMESTAMP
WHERE id = ?`,
		description, imagePath, id,
	)
	return err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertComponent(db execer, c internal.Component) error {
	tagsJSON, _ := json.Marshal(orEmpty(c.Tags))
	specsJSON, _ := json.Marshal(orEmptySpecs(c.Specs))
	protocolsJSON, _ := json.Marshal(orEmpty(c.Protocols))

	var pnNorm *string
	if c.PartNumber != nil {
		if norm := util.NormalizePartNumber(*c.PartNumber); norm != "" {
			pnNorm = &norm
		}
	}

	_, err := db.Exec(
		`INSERT INTO components (id, name, name_norm, category, subcategory, part_number, part_number_norm,
manufacturer, description, package_type, pin_count, tags_json, specs_json, protocols_json,
quantity, min_threshold, image_path)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, util.NormalizeTitle(c.Name), c.Category, nilIfEmpty(c.Subcategory),
		c.PartNumber, pnNorm, c.Manufacturer, c.Description, c.PackageType, c.PinCount,
		string(tagsJSON), string(specsJSON), string(protocolsJSON),
		c.Quantity, c.MinThreshold, c.ImagePath,
	)
	return err
}

const componentSelect = `SELECT id, name, category, subcategory, part_number, manufacturer, description,
package_type, pin_count, tags_json, specs_json, protocols_json, quantity, min_threshold, image_path
FROM components`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComponent(row rowScanner) (*internal.Component, error) {
	var c internal.Component
	var subcategory sql.NullString
	var tagsJSON, specsJSON, protocolsJSON string
	err := row.Scan(
		&c.ID, &c.Name, &c.Category, &subcategory, &c.PartNumber, &c.Manufacturer, &c.Description,
		&c.PackageType, &c.PinCount, &tagsJSON, &specsJSON, &protocolsJSON,
		&c.Quantity, &c.MinThreshold, &c.ImagePath,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Subcategory = subcategory.String
	_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)
	_ = json.Unmarshal([]byte(specsJSON), &c.Specs)
	_ = json.Unmarshal([]byte(protocolsJSON), &c.Protocols)
	return &c, nil
}

// ReviewRow is one manual-review line for the export sheet.
type ReviewRow struct {
	OrderNumber   string
	Supplier      string
	Title         string
	Quantity      int
	UnitPrice     decimal.Decimal
	Confidence    float64
	ComponentID   *string
	ComponentName *string
	Category      *string
	PartNumber    *string
}

func (d *DB) GetReviewRows(limit int) ([]ReviewRow, error) {
	rows, err := d.conn.Query(`
SELECT o.order_number, o.supplier, i.title, i.quantity, i.unit_price, i.confidence,
       c.id, c.name, c.category, c.part_number
FROM order_items i
JOIN orders o ON o.id = i.order_id
LEFT JOIN components c ON c.id = i.component_id
WHERE i.manual_review = 1
ORDER BY i.confidence ASC, o.order_number ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReviewRow
	for rows.Next() {
		var row ReviewRow
		var unitPrice string
		if err := rows.Scan(
			&row.OrderNumber, &row.Supplier, &row.Title, &row.Quantity, &unitPrice, &row.Confidence,
			&row.ComponentID, &row.ComponentName, &row.Category, &row.PartNumber,
		); err != nil {
			return nil, err
		}
		row.UnitPrice, _ = decimal.NewFromString(unitPrice)
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetOrderItemQuantitySum returns the persisted quantity sum for all items
// linked to a component. Used by conservation checks and stock reports.
func (d *DB) GetOrderItemQuantitySum(componentID string) (int, error) {
	var sum sql.NullInt64
	err := d.conn.QueryRow(
		`SELECT SUM(quantity) FROM order_items WHERE component_id = ?`, componentID,
	).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return int(sum.Int64), nil
}

func newID() string {
	return uuid.NewString()
}

func nilIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func orEmptySpecs(v []internal.ElectricalSpec) []internal.ElectricalSpec {
	if v == nil {
		return []internal.ElectricalSpec{}
	}
	return v
}
