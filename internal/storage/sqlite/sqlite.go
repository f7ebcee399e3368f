// Package sqlite is the embedded storage backend. It is selected when
// DATABASE_URI is a file path instead of a postgres:// URL.
//
// All writes go through a single connection, so the AUTOINCREMENT id and the
// status compare-and-set are serialised by SQLite itself.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asaigon/storefront/internal/storage"
	"github.com/asaigon/storefront/internal/types/order"
	"github.com/asaigon/storefront/internal/types/payment"
	"github.com/asaigon/storefront/internal/types/product"
	"github.com/asaigon/storefront/internal/types/user"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout has a fixed-width fraction so stored timestamps compare
// correctly as TEXT.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    login         TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'customer',
    created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    slug        TEXT UNIQUE NOT NULL,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    price       TEXT NOT NULL,
    category    TEXT NOT NULL DEFAULT '',
    image       TEXT NOT NULL DEFAULT '',
    in_stock    INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id      TEXT NOT NULL,
    items        TEXT NOT NULL,
    total_amount TEXT NOT NULL,
    status       TEXT NOT NULL,
    payment_id   TEXT,
    created_at   TEXT NOT NULL,
    updated_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);
CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);

CREATE TABLE IF NOT EXISTS payment_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    order_ref       TEXT NOT NULL DEFAULT '',
    provider_txn_id TEXT NOT NULL DEFAULT '',
    response_code   TEXT NOT NULL DEFAULT '',
    outcome         TEXT NOT NULL,
    params          TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL
);
`

type Storage struct {
	db *sql.DB
}

var _ storage.Storage = (*Storage)(nil)

// Open opens (or creates) the database file at path and applies the schema.
func Open(path string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Create(ctx context.Context, u *user.User) error {
	const q = `INSERT INTO users (id, login, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, u.ID, u.Login, u.PasswordHash, string(u.Role), formatTime(u.CreatedAt))
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

func (s *Storage) FindByLogin(ctx context.Context, login string) (*user.User, error) {
	const q = `SELECT id, login, password_hash, role, created_at FROM users WHERE login = ?`
	var (
		u         user.User
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, q, login).Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

const orderColumns = `id, user_id, items, total_amount, status, payment_id, created_at, updated_at`

func (s *Storage) CreateOrder(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("sqlite: encode items: %w", err)
	}
	const q = `
		INSERT INTO orders (user_id, items, total_amount, status, payment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		o.UserID, string(items), o.TotalAmount.String(), string(o.Status), nullableString(o.PaymentID), formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create order: %w", err)
	}
	o.ID, err = res.LastInsertId()
	return err
}

func (s *Storage) FindOrderByID(ctx context.Context, id int64) (*order.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return o, err
}

func (s *Storage) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY id`, userID)
}

func (s *Storage) ListOrders(ctx context.Context) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id`)
}

func (s *Storage) ListStalePendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE status = ? AND created_at < ? ORDER BY id LIMIT ?`
	return s.queryOrders(ctx, q, string(order.StatusPending), formatTime(olderThan), limit)
}

func (s *Storage) UpdateOrderStatus(
	ctx context.Context,
	id int64,
	from, to order.OrderStatus,
	paymentID *string,
) (*order.Order, error) {
	const q = `
		UPDATE orders
		SET status = ?, payment_id = COALESCE(?, payment_id), updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING ` + orderColumns
	o, err := scanOrder(s.db.QueryRowContext(ctx, q,
		string(to), nullableString(paymentID), formatTime(time.Now()), id, string(from),
	))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: update order %d: %w", id, err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE id = ?`, id).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}
	return nil, storage.ErrStatusConflict
}

func (s *Storage) queryOrders(ctx context.Context, q string, args ...any) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o         order.Order
		items     string
		paymentID sql.NullString
		createdAt string
		updatedAt sql.NullString
	)
	if err := row.Scan(&o.ID, &o.UserID, &items, &o.TotalAmount, &o.Status, &paymentID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("sqlite: decode items of order %d: %w", o.ID, err)
	}
	if paymentID.Valid {
		o.PaymentID = &paymentID.String
	}
	var err error
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		t, err := parseTime(updatedAt.String)
		if err != nil {
			return nil, err
		}
		o.UpdatedAt = &t
	}
	return &o, nil
}

const productColumns = `id, slug, name, description, price, category, image, in_stock, created_at`

func (s *Storage) CreateProduct(ctx context.Context, p *product.Product) error {
	const q = `
		INSERT INTO products (slug, name, description, price, category, image, in_stock, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		p.Slug, p.Name, p.Description, p.Price.String(), p.Category, p.Image, p.InStock, formatTime(p.CreatedAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *Storage) FindProductByID(ctx context.Context, id int64) (*product.Product, error) {
	return s.findProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
}

func (s *Storage) FindProductBySlug(ctx context.Context, slug string) (*product.Product, error) {
	return s.findProduct(ctx, `SELECT `+productColumns+` FROM products WHERE slug = ?`, slug)
}

func (s *Storage) findProduct(ctx context.Context, q string, arg any) (*product.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return p, err
}

func (s *Storage) ListProducts(ctx context.Context, f product.Filter) ([]product.Product, error) {
	const q = `
		SELECT ` + productColumns + `
		FROM products
		WHERE (?1 = '' OR category = ?1)
		  AND (?2 = '' OR name LIKE '%' || ?2 || '%' OR description LIKE '%' || ?2 || '%')
		ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, f.Category, f.Search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProduct(row rowScanner) (*product.Product, error) {
	var (
		p         product.Product
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Price, &p.Category, &p.Image, &p.InStock, &createdAt); err != nil {
		return nil, err
	}
	var err error
	p.CreatedAt, err = parseTime(createdAt)
	return &p, err
}

func (s *Storage) SavePaymentEvent(ctx context.Context, e *payment.Event) error {
	if e.Params == "" {
		e.Params = "{}"
	}
	const q = `
		INSERT INTO payment_events (order_ref, provider_txn_id, response_code, outcome, params, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		e.OrderRef, e.ProviderTxnID, e.ResponseCode, string(e.Outcome), e.Params, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save payment event for %q: %w", e.OrderRef, err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
