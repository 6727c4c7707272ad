package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ordersSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id         bigserial PRIMARY KEY,
	item       text NOT NULL,
	qty        integer NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
)`

// pgOrders stores orders in Postgres. The pool carries the activity query
// tracer, so raw mutations are logged as record events.
type pgOrders struct {
	pool *pgxpool.Pool
}

func (p *pgOrders) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, ordersSchema); err != nil {
		return fmt.Errorf("migrate orders: %w", err)
	}
	return nil
}

func (p *pgOrders) Create(ctx context.Context, item string, qty int) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO orders (item, qty) VALUES ($1, $2) RETURNING id`, item, qty,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

func (p *pgOrders) Purge(ctx context.Context, id int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
