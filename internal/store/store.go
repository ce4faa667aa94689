package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore connects to Postgres
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSKUByID retrieves a launched sku by ID
func (s *Store) GetSKUByID(ctx context.Context, id int64) (*models.SKU, error) {
	var sku models.SKU
	err := s.db.GetContext(ctx, &sku, "SELECT * FROM skus WHERE id = $1 AND is_launched", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sku %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sku, nil
}

// GetSKUsByIDs retrieves multiple skus in one batch read
func (s *Store) GetSKUsByIDs(ctx context.Context, ids []int64) ([]models.SKU, error) {
	if len(ids) == 0 {
		return []models.SKU{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM skus WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var skus []models.SKU
	err = s.db.SelectContext(ctx, &skus, query, args...)
	return skus, err
}

// GetHotSKUs retrieves the best sellers of a category
func (s *Store) GetHotSKUs(ctx context.Context, categoryID int64, limit int) ([]models.SKU, error) {
	var skus []models.SKU
	err := s.db.SelectContext(ctx, &skus,
		"SELECT * FROM skus WHERE category_id = $1 AND is_launched ORDER BY sales DESC LIMIT $2",
		categoryID, limit)
	return skus, err
}

// Tx exposes the writes available inside a settlement transaction
type Tx interface {
	SKUsByIDs(ctx context.Context, ids []int64) ([]models.SKU, error)
	DeductStock(ctx context.Context, skuID int64, quantity int) (bool, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderLines(ctx context.Context, lines []models.OrderLine) error
}

// Transact runs fn inside one transaction. Any error from fn rolls the
// whole transaction back.
func (s *Store) Transact(ctx context.Context, fn func(tx Tx) error) error {
	txx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer txx.Rollback()

	if err := fn(&sqlTx{tx: txx}); err != nil {
		return err
	}
	return txx.Commit()
}

type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) SKUsByIDs(ctx context.Context, ids []int64) ([]models.SKU, error) {
	if len(ids) == 0 {
		return []models.SKU{}, nil
	}
	query, args, err := sqlx.In("SELECT * FROM skus WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = t.tx.Rebind(query)

	var skus []models.SKU
	err = t.tx.SelectContext(ctx, &skus, query, args...)
	return skus, err
}

// DeductStock decrements stock and bumps sales in a single conditional
// update. Zero rows affected means the stock check lost, so the caller
// aborts the transaction. No read-then-write window exists for concurrent
// settlements on the same sku.
func (t *sqlTx) DeductStock(ctx context.Context, skuID int64, quantity int) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE skus SET stock = stock - $1, sales = sales + $1 WHERE id = $2 AND stock >= $1",
		quantity, skuID)
	if err != nil {
		return false, fmt.Errorf("deduct stock for sku %d: %w", skuID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *sqlTx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, user_id, address_id, total_count, total_amount, freight, pay_method, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	return t.tx.GetContext(ctx, &order.CreatedAt, query,
		order.ID, order.UserID, order.AddressID, order.TotalCount,
		order.TotalAmount, order.Freight, order.PayMethod, order.Status)
}

func (t *sqlTx) InsertOrderLines(ctx context.Context, lines []models.OrderLine) error {
	for i := range lines {
		err := t.tx.GetContext(ctx, &lines[i].ID,
			`INSERT INTO order_lines (order_id, sku_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			lines[i].OrderID, lines[i].SKUID, lines[i].Quantity, lines[i].UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order line for sku %d: %w", lines[i].SKUID, err)
		}
	}
	return nil
}
