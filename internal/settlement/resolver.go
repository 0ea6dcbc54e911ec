package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tiketku/internal/database"
	"tiketku/internal/logger"
	"tiketku/internal/models"
	"tiketku/internal/utils"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ErrOrderNotFound = errors.New("order not found")

// AlreadySettledError is returned when settlement is attempted on an
// order that already reached a terminal state. It carries that state so
// callers (webhook retries, the sweeper, user confirmation) can report
// it without re-reading the order.
type AlreadySettledError struct {
	Status models.OrderStatus
}

func (e *AlreadySettledError) Error() string {
	return fmt.Sprintf("order already settled: %s", e.Status)
}

// Receipt describes what a settlement call actually did.
type Receipt struct {
	OrderID       string             `json:"order_id"`
	Status        models.OrderStatus `json:"status"`
	TicketsMinted int                `json:"tickets_minted"`
	StockReleased int                `json:"stock_released"`
	ExternalRef   string             `json:"external_ref,omitempty"`
	SettledAt     time.Time          `json:"settled_at"`
}

// StockLedger releases reserved stock on cancellation, inside the
// settlement transaction.
type StockLedger interface {
	Release(ctx context.Context, idb bun.IDB, ticketTypeID string, qty int) error
}

// Notifier sends the post-settlement email. Best effort: a failure is
// logged, never propagated.
type Notifier interface {
	OrderConfirmed(order *models.Order, ticketCount int) error
	OrderCancelled(order *models.Order) error
}

// Publisher streams settlement events. Best effort, like Notifier.
type Publisher interface {
	PublishOrderPaid(order models.Order) error
	PublishOrderCancelled(order models.Order) error
}

// Resolver owns the PENDING -> {PAID, CANCELLED} transition. Three
// independent callers race through Settle: the payment webhook, user
// confirmation and the expiry sweeper. The row lock on the order is the
// sole serialization point; exactly one caller wins, the rest get
// AlreadySettledError.
type Resolver struct {
	DB       *bun.DB
	Ledger   StockLedger
	Notifier Notifier
	Producer Publisher
	Logger   *logger.Logger
}

func NewResolver(db *bun.DB, ledger StockLedger, notifier Notifier, producer Publisher, log *logger.Logger) *Resolver {
	return &Resolver{DB: db, Ledger: ledger, Notifier: notifier, Producer: producer, Logger: log}
}

// Settle transitions the order to the given terminal outcome, exactly
// once. PAID mints the order's tickets (stock stays reserved, now sold);
// CANCELLED releases the stock. All mutations commit atomically; email
// and event publishing happen after commit and cannot roll it back.
func (r *Resolver) Settle(ctx context.Context, orderID string, outcome models.PaymentOutcome, externalRef string) (*Receipt, error) {
	if outcome != models.OutcomePaid && outcome != models.OutcomeCancelled {
		return nil, fmt.Errorf("non-terminal settlement outcome %q", outcome)
	}

	var receipt *Receipt
	var settled models.Order

	err := r.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var order models.Order
		err := database.ForUpdate(
			tx.NewSelect().Model(&order).Where("o.id = ?", orderID), tx,
		).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to load order %s: %w", orderID, err)
		}

		if order.Status != models.OrderPending {
			return &AlreadySettledError{Status: order.Status}
		}

		// Items are loaded separately so the row lock above stays a
		// plain single-row select.
		if err := tx.NewSelect().
			Model(&order.Items).
			Where("oi.order_id = ?", orderID).
			Scan(ctx); err != nil {
			return fmt.Errorf("failed to load order items for %s: %w", orderID, err)
		}

		now := time.Now()
		order.UpdatedAt = now

		switch outcome {
		case models.OutcomePaid:
			order.Status = models.OrderPaid
			order.PaidAt = now
			if externalRef != "" {
				order.ExternalRef = externalRef
			}

			if _, err := tx.NewUpdate().
				Model(&order).
				Column("status", "paid_at", "external_ref", "updated_at").
				WherePK().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to mark order %s paid: %w", orderID, err)
			}

			minted, err := r.mintTickets(ctx, tx, &order)
			if err != nil {
				return err
			}

			receipt = &Receipt{
				OrderID:       orderID,
				Status:        models.OrderPaid,
				TicketsMinted: minted,
				ExternalRef:   order.ExternalRef,
				SettledAt:     now,
			}

		case models.OutcomeCancelled:
			order.Status = models.OrderCancelled
			if externalRef != "" {
				order.ExternalRef = externalRef
			}

			if _, err := tx.NewUpdate().
				Model(&order).
				Column("status", "external_ref", "updated_at").
				WherePK().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to mark order %s cancelled: %w", orderID, err)
			}

			released := 0
			for _, item := range order.Items {
				if err := r.Ledger.Release(ctx, tx, item.TicketTypeID, item.Quantity); err != nil {
					return fmt.Errorf("failed to release stock for order %s: %w", orderID, err)
				}
				released += item.Quantity
			}

			receipt = &Receipt{
				OrderID:       orderID,
				Status:        models.OrderCancelled,
				StockReleased: released,
				ExternalRef:   order.ExternalRef,
				SettledAt:     now,
			}
		}

		settled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.Logger != nil {
		r.Logger.LogSettlement(orderID, string(settled.Status),
			fmt.Sprintf("minted=%d released=%d ref=%s", receipt.TicketsMinted, receipt.StockReleased, receipt.ExternalRef))
	}

	r.dispatchSideEffects(&settled, receipt)
	return receipt, nil
}

// mintTickets creates one ACTIVE ticket per unit of every order item.
// Idempotent: a retry that lands after a prior partial execution already
// wrote tickets finds them and mints nothing, backed by the unique
// constraint on qr_code.
func (r *Resolver) mintTickets(ctx context.Context, tx bun.Tx, order *models.Order) (int, error) {
	existing, err := tx.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("t.order_id = ?", order.ID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets for order %s: %w", order.ID, err)
	}
	if existing > 0 {
		if r.Logger != nil {
			r.Logger.Warn("SETTLEMENT",
				fmt.Sprintf("order %s already has %d tickets, skipping mint", order.ID, existing))
		}
		return 0, nil
	}

	now := time.Now()
	var tickets []models.Ticket
	for _, item := range order.Items {
		for i := 0; i < item.Quantity; i++ {
			tickets = append(tickets, models.Ticket{
				ID:           uuid.NewString(),
				OrderID:      order.ID,
				UserID:       order.UserID,
				TicketTypeID: item.TicketTypeID,
				EventID:      order.EventID,
				QRCode:       utils.GenerateQRCode(order.ID, item.TicketTypeID, i+1),
				Status:       models.TicketActive,
				CreatedAt:    now,
			})
		}
	}
	if len(tickets) == 0 {
		return 0, nil
	}

	if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to mint tickets for order %s: %w", order.ID, err)
	}
	return len(tickets), nil
}

// dispatchSideEffects runs the post-commit notifications. The settlement
// is already durable at this point; failures here are logged and dropped.
func (r *Resolver) dispatchSideEffects(order *models.Order, receipt *Receipt) {
	switch order.Status {
	case models.OrderPaid:
		if r.Producer != nil {
			if err := r.Producer.PublishOrderPaid(*order); err != nil && r.Logger != nil {
				r.Logger.Error("KAFKA", fmt.Sprintf("failed to publish order.paid for %s: %v", order.ID, err))
			}
		}
		if r.Notifier != nil && order.BuyerEmail != "" {
			if err := r.Notifier.OrderConfirmed(order, receipt.TicketsMinted); err != nil && r.Logger != nil {
				r.Logger.Error("EMAIL", fmt.Sprintf("failed to send confirmation for %s: %v", order.ID, err))
			}
		}
	case models.OrderCancelled:
		if r.Producer != nil {
			if err := r.Producer.PublishOrderCancelled(*order); err != nil && r.Logger != nil {
				r.Logger.Error("KAFKA", fmt.Sprintf("failed to publish order.cancelled for %s: %v", order.ID, err))
			}
		}
		if r.Notifier != nil && order.BuyerEmail != "" {
			if err := r.Notifier.OrderCancelled(order); err != nil && r.Logger != nil {
				r.Logger.Error("EMAIL", fmt.Sprintf("failed to send cancellation for %s: %v", order.ID, err))
			}
		}
	}
}
