package storage

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
	"github.com/jackc/pgx/v5/pgconn"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

type PostgresStorage struct {
	db *sql.DB
}

var _ storage.Storage = (*PostgresStorage)(nil)

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &PostgresStorage{db: db}

	// проверяем, что БД жива
	if err := s.db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	// создаём таблицы
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            login TEXT UNIQUE NOT NULL,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'customer',
            created_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS products (
            id BIGSERIAL PRIMARY KEY,
            slug TEXT UNIQUE NOT NULL,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            price NUMERIC(14,2) NOT NULL,
            category TEXT NOT NULL DEFAULT '',
            image TEXT NOT NULL DEFAULT '',
            in_stock BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS orders (
            id BIGSERIAL PRIMARY KEY,
            user_id TEXT NOT NULL,
            items JSONB NOT NULL,
            total_amount NUMERIC(14,2) NOT NULL,
            status TEXT NOT NULL,
            payment_id TEXT,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ
        )`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS payment_events (
            id BIGSERIAL PRIMARY KEY,
            order_ref TEXT NOT NULL DEFAULT '',
            provider_txn_id TEXT NOT NULL DEFAULT '',
            response_code TEXT NOT NULL DEFAULT '',
            outcome TEXT NOT NULL,
            params JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        )`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) Create(ctx context.Context, u *user.User) error {
	q := `INSERT INTO users (id,login,password_hash,role,created_at) VALUES($1,$2,$3,$4,$5)`
	_, err := s.db.ExecContext(ctx, q, u.ID, u.Login, u.PasswordHash, u.Role, u.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

func (s *PostgresStorage) FindByLogin(ctx context.Context, login string) (*user.User, error) {
	u := &user.User{}
	q := `SELECT id,login,password_hash,role,created_at FROM users WHERE login=$1`
	if err := s.db.QueryRowContext(ctx, q, login).
		Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

const orderColumns = `id, user_id, items, total_amount, status, payment_id, created_at, updated_at`

func (s *PostgresStorage) CreateOrder(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	q := `
        INSERT INTO orders (user_id,items,total_amount,status,payment_id,created_at)
        VALUES ($1,$2::jsonb,$3,$4,$5,$6) RETURNING id`
	return s.db.QueryRowContext(ctx, q,
		o.UserID, string(items), o.TotalAmount, o.Status, o.PaymentID, o.CreatedAt,
	).Scan(&o.ID)
}

func (s *PostgresStorage) FindOrderByID(ctx context.Context, id int64) (*order.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return o, err
}

func (s *PostgresStorage) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY id`
	return s.queryOrders(ctx, q, userID)
}

func (s *PostgresStorage) ListOrders(ctx context.Context) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id`)
}

func (s *PostgresStorage) ListStalePendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error) {
	q := `
        SELECT ` + orderColumns + `
        FROM orders
        WHERE status = $1 AND created_at < $2
        ORDER BY id
        LIMIT $3`
	return s.queryOrders(ctx, q, order.StatusPending, olderThan, limit)
}

func (s *PostgresStorage) UpdateOrderStatus(
	ctx context.Context,
	id int64,
	from, to order.OrderStatus,
	paymentID *string,
) (*order.Order, error) {
	q := `
        UPDATE orders
        SET status = $3,
            payment_id = COALESCE($4::text, payment_id),
            updated_at = $5
        WHERE id = $1 AND status = $2
        RETURNING ` + orderColumns
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, id, from, to, paymentID, time.Now().UTC()))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	return nil, storage.ErrStatusConflict
}

func (s *PostgresStorage) queryOrders(ctx context.Context, q string, args ...any) ([]order.Order, error) {
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
		items     []byte
		paymentID sql.NullString
		updatedAt sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.UserID, &items, &o.TotalAmount, &o.Status, &paymentID, &o.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %d: %w", o.ID, err)
	}
	if paymentID.Valid {
		o.PaymentID = &paymentID.String
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		o.UpdatedAt = &t
	}
	return &o, nil
}

const productColumns = `id, slug, name, description, price, category, image, in_stock, created_at`

func (s *PostgresStorage) CreateProduct(ctx context.Context, p *product.Product) error {
	q := `
        INSERT INTO products (slug,name,description,price,category,image,in_stock,created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`
	err := s.db.QueryRowContext(ctx, q,
		p.Slug, p.Name, p.Description, p.Price, p.Category, p.Image, p.InStock, p.CreatedAt,
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

func (s *PostgresStorage) FindProductByID(ctx context.Context, id int64) (*product.Product, error) {
	return s.findProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (s *PostgresStorage) FindProductBySlug(ctx context.Context, slug string) (*product.Product, error) {
	return s.findProduct(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug)
}

func (s *PostgresStorage) findProduct(ctx context.Context, q string, arg any) (*product.Product, error) {
	var p product.Product
	err := s.db.QueryRowContext(ctx, q, arg).
		Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Price, &p.Category, &p.Image, &p.InStock, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStorage) ListProducts(ctx context.Context, f product.Filter) ([]product.Product, error) {
	q := `
        SELECT ` + productColumns + `
        FROM products
        WHERE ($1 = '' OR category = $1)
          AND ($2 = '' OR name ILIKE '%'||$2||'%' OR description ILIKE '%'||$2||'%')
        ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, f.Category, f.Search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []product.Product
	for rows.Next() {
		var p product.Product
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Price, &p.Category, &p.Image, &p.InStock, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) SavePaymentEvent(ctx context.Context, e *payment.Event) error {
	if e.Params == "" {
		e.Params = "{}"
	}
	q := `
        INSERT INTO payment_events (order_ref, provider_txn_id, response_code, outcome, params, created_at)
        VALUES ($1,$2,$3,$4,$5::jsonb,$6) RETURNING id`
	return s.db.QueryRowContext(ctx, q,
		e.OrderRef, e.ProviderTxnID, e.ResponseCode, e.Outcome, e.Params, e.CreatedAt,
	).Scan(&e.ID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
