package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"PShop/module/order/model"
	"PShop/tools/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	vendor_id   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	amount      NUMERIC(12,2) NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS orders_user_idx ON orders (user_id);
CREATE INDEX IF NOT EXISTS orders_vendor_idx ON orders (vendor_id);`

const orderCols = `id, user_id, vendor_id, status, amount::float8, created_at, updated_at`

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type OrderStore struct {
	db  DB
	now func() time.Time
}

func NewOrderStore(db DB) *OrderStore {
	return &OrderStore{db: db, now: time.Now}
}

// NewPool opens a pgx pool and pings it.
func NewPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse postgres url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping postgres")
	}
	return pool, nil
}

func (s *OrderStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return errs.WrapMsg(err, "migrate orders")
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	if err := row.Scan(&o.ID, &o.UserID, &o.VendorID, &o.Status, &o.Amount, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts o with status pending when unset and fills the timestamps.
func (s *OrderStore) Create(ctx context.Context, o *model.Order) (*model.Order, error) {
	if o.ID == "" || o.UserID == "" {
		return nil, errs.ErrInvalidPayload.WrapMsg("order id and user id are required")
	}
	if o.Status == "" {
		o.Status = model.StatusPending
	}
	if !model.ValidStatus(o.Status) {
		return nil, errs.ErrInvalidPayload.WrapMsg("unknown status", "status", o.Status)
	}
	if o.Amount < 0 {
		return nil, errs.ErrInvalidPayload.WrapMsg("negative amount", "amount", o.Amount)
	}
	now := s.now().UTC()
	row := s.db.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, vendor_id, status, amount, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING `+orderCols,
		o.ID, o.UserID, o.VendorID, o.Status, o.Amount, now)
	out, err := scanOrder(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, errs.ErrInvalidPayload.WrapMsg("order exists", "id", o.ID)
		}
		return nil, errs.WrapMsg(err, "insert order", "id", o.ID)
	}
	return out, nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*model.Order, error) {
	out, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrRecordNotFound.WrapMsg("order", "id", id)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get order", "id", id)
	}
	return out, nil
}

// UpdateStatus sets the status and returns the updated row.
func (s *OrderStore) UpdateStatus(ctx context.Context, id, status string) (*model.Order, error) {
	if !model.ValidStatus(status) {
		return nil, errs.ErrInvalidPayload.WrapMsg("unknown status", "status", status)
	}
	row := s.db.QueryRow(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+orderCols,
		id, status, s.now().UTC())
	out, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrRecordNotFound.WrapMsg("order", "id", id)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "update order", "id", id)
	}
	return out, nil
}
