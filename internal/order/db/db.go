package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tiketku/internal/models"

	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("order not found")

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

// InsertOrder inserts an order together with its item snapshots. Runs on
// whatever bun.IDB the caller passes, so it composes into the creation
// transaction.
func (d *DB) InsertOrder(ctx context.Context, idb bun.IDB, order *models.Order) error {
	if _, err := idb.NewInsert().Model(order).Exec(ctx); err != nil {
		return err
	}
	if len(order.Items) > 0 {
		if _, err := idb.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// GetOrderByID fetches one order with its items.
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Relation("Items").
		Where("o.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUser lists a user's orders, newest first.
func (d *DB) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("o.user_id = ?", userID).
		Order("o.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// FindExpiredPending returns every PENDING order whose payment window has
// closed. The sweeper feeds these to the settlement resolver one by one.
func (d *DB) FindExpiredPending(ctx context.Context, now time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("o.status = ?", models.OrderPending).
		Where("o.expires_at < ?", now).
		Order("o.expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateSnapToken stores the gateway payment session on the order.
func (d *DB) UpdateSnapToken(ctx context.Context, orderID, token, paymentURL string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("snap_token = ?", token).
		Set("payment_url = ?", paymentURL).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", orderID).
		Exec(ctx)
	return err
}

// UpdatePaymentMeta records transient gateway metadata (transaction id,
// payment method) for a notification that did not settle the order.
func (d *DB) UpdatePaymentMeta(ctx context.Context, orderID, externalRef, paymentMethod string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("external_ref = ?", externalRef).
		Set("payment_method = ?", paymentMethod).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", orderID).
		Exec(ctx)
	return err
}

// GetTicketsByOrder fetches all tickets minted for an order.
func (d *DB) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("t.order_id = ?", orderID).
		Order("t.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}
