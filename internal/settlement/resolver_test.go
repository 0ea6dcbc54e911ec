package settlement

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"tiketku/internal/inventory"
	"tiketku/internal/models"
)

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []string
	cancelled []string
}

func (n *recordingNotifier) OrderConfirmed(order *models.Order, ticketCount int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, order.ID)
	return nil
}

func (n *recordingNotifier) OrderCancelled(order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, order.ID)
	return nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	paid      []string
	cancelled []string
}

func (p *recordingPublisher) PublishOrderPaid(order models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, order.ID)
	return nil
}

func (p *recordingPublisher) PublishOrderCancelled(order models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, order.ID)
	return nil
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	err = bunDB.ResetModel(context.Background(),
		(*models.Event)(nil),
		(*models.TicketType)(nil),
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.Ticket)(nil),
	)
	require.NoError(t, err)

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

// seedPendingOrder creates an event with reserved stock and a PENDING
// order of 2 tickets, mirroring the state right after order creation.
func seedPendingOrder(t *testing.T, db *bun.DB) *models.Order {
	t.Helper()
	ctx := context.Background()

	event := &models.Event{
		ID:              "evt-1",
		Title:           "Festival Musik",
		Venue:           "Lapangan Kota",
		StartDate:       time.Now().Add(24 * time.Hour),
		EndDate:         time.Now().Add(30 * time.Hour),
		MaxCapacity:     100,
		CurrentCapacity: 2,
		IsActive:        true,
		CreatedAt:       time.Now(),
	}
	_, err := db.NewInsert().Model(event).Exec(ctx)
	require.NoError(t, err)

	tt := &models.TicketType{
		ID:           "tt-1",
		EventID:      event.ID,
		Name:         "VIP",
		Price:        500000,
		MaxQuantity:  50,
		SoldQuantity: 2,
	}
	_, err = db.NewInsert().Model(tt).Exec(ctx)
	require.NoError(t, err)

	order := &models.Order{
		ID:          "ord-1",
		UserID:      "user-1",
		EventID:     event.ID,
		Status:      models.OrderPending,
		TotalAmount: 1000000,
		BuyerName:   "Budi Santoso",
		BuyerEmail:  "budi@example.com",
		ExpiresAt:   time.Now().Add(30 * time.Minute),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	_, err = db.NewInsert().Model(order).Exec(ctx)
	require.NoError(t, err)

	item := &models.OrderItem{
		ID:           "oi-1",
		OrderID:      order.ID,
		TicketTypeID: tt.ID,
		Quantity:     2,
		UnitPrice:    500000,
		TotalPrice:   1000000,
	}
	_, err = db.NewInsert().Model(item).Exec(ctx)
	require.NoError(t, err)

	return order
}

func ticketCount(t *testing.T, db *bun.DB, orderID string) int {
	t.Helper()
	count, err := db.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("t.order_id = ?", orderID).
		Count(context.Background())
	require.NoError(t, err)
	return count
}

func orderStatus(t *testing.T, db *bun.DB, orderID string) models.OrderStatus {
	t.Helper()
	var order models.Order
	err := db.NewSelect().Model(&order).Where("o.id = ?", orderID).Scan(context.Background())
	require.NoError(t, err)
	return order.Status
}

func TestSettlePaidMintsTickets(t *testing.T) {
	db := setupTestDB(t)
	order := seedPendingOrder(t, db)
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	resolver := NewResolver(db, inventory.NewLedger(nil), notifier, publisher, nil)

	receipt, err := resolver.Settle(context.Background(), order.ID, models.OutcomePaid, "mt-123")
	require.NoError(t, err)

	assert.Equal(t, models.OrderPaid, receipt.Status)
	assert.Equal(t, 2, receipt.TicketsMinted)
	assert.Equal(t, "mt-123", receipt.ExternalRef)
	assert.Equal(t, models.OrderPaid, orderStatus(t, db, order.ID))
	assert.Equal(t, 2, ticketCount(t, db, order.ID))

	var tickets []models.Ticket
	require.NoError(t, db.NewSelect().Model(&tickets).Where("t.order_id = ?", order.ID).Scan(context.Background()))
	codes := map[string]bool{}
	for _, ticket := range tickets {
		assert.Equal(t, models.TicketActive, ticket.Status)
		assert.Equal(t, order.UserID, ticket.UserID)
		assert.NotEmpty(t, ticket.QRCode)
		codes[ticket.QRCode] = true
	}
	assert.Len(t, codes, 2, "QR codes must be unique")

	assert.Equal(t, []string{order.ID}, notifier.confirmed)
	assert.Equal(t, []string{order.ID}, publisher.paid)
}

func TestSettleCancelledReleasesStock(t *testing.T) {
	db := setupTestDB(t)
	order := seedPendingOrder(t, db)
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	resolver := NewResolver(db, inventory.NewLedger(nil), notifier, publisher, nil)

	receipt, err := resolver.Settle(context.Background(), order.ID, models.OutcomeCancelled, "")
	require.NoError(t, err)

	assert.Equal(t, models.OrderCancelled, receipt.Status)
	assert.Equal(t, 2, receipt.StockReleased)
	assert.Equal(t, models.OrderCancelled, orderStatus(t, db, order.ID))
	assert.Equal(t, 0, ticketCount(t, db, order.ID), "cancellation never mints")

	var tt models.TicketType
	require.NoError(t, db.NewSelect().Model(&tt).Where("id = ?", "tt-1").Scan(context.Background()))
	assert.Equal(t, 0, tt.SoldQuantity)

	assert.Equal(t, []string{order.ID}, notifier.cancelled)
	assert.Equal(t, []string{order.ID}, publisher.cancelled)
}

func TestSettleIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	order := seedPendingOrder(t, db)
	resolver := NewResolver(db, inventory.NewLedger(nil), nil, nil, nil)
	ctx := context.Background()

	_, err := resolver.Settle(ctx, order.ID, models.OutcomePaid, "mt-123")
	require.NoError(t, err)

	// Duplicate webhook delivery.
	_, err = resolver.Settle(ctx, order.ID, models.OutcomePaid, "mt-123")
	var settled *AlreadySettledError
	require.ErrorAs(t, err, &settled)
	assert.Equal(t, models.OrderPaid, settled.Status)
	assert.Equal(t, 2, ticketCount(t, db, order.ID), "retry must not mint again")
}

func TestSettleOutcomesAreExclusive(t *testing.T) {
	db := setupTestDB(t)
	order := seedPendingOrder(t, db)
	resolver := NewResolver(db, inventory.NewLedger(nil), nil, nil, nil)
	ctx := context.Background()

	// Webhook says PAID while the sweeper says CANCELLED, concurrently.
	var wg sync.WaitGroup
	outcomes := []models.PaymentOutcome{models.OutcomePaid, models.OutcomeCancelled}
	errs := make([]error, len(outcomes))
	for i, outcome := range outcomes {
		wg.Add(1)
		go func(i int, outcome models.PaymentOutcome) {
			defer wg.Done()
			_, errs[i] = resolver.Settle(ctx, order.ID, outcome, "")
		}(i, outcome)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		var settled *AlreadySettledError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &settled):
			losses++
		default:
			t.Fatalf("unexpected settlement error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one caller settles")
	assert.Equal(t, 1, losses)

	// Whoever won, the end state is consistent: PAID has tickets and
	// keeps the stock, CANCELLED has no tickets and returns it.
	status := orderStatus(t, db, order.ID)
	var tt models.TicketType
	require.NoError(t, db.NewSelect().Model(&tt).Where("id = ?", "tt-1").Scan(ctx))
	switch status {
	case models.OrderPaid:
		assert.Equal(t, 2, ticketCount(t, db, order.ID))
		assert.Equal(t, 2, tt.SoldQuantity)
	case models.OrderCancelled:
		assert.Equal(t, 0, ticketCount(t, db, order.ID))
		assert.Equal(t, 0, tt.SoldQuantity)
	default:
		t.Fatalf("order left in non-terminal status %s", status)
	}
}

func TestSettleRejectsNonTerminalOutcome(t *testing.T) {
	db := setupTestDB(t)
	order := seedPendingOrder(t, db)
	resolver := NewResolver(db, inventory.NewLedger(nil), nil, nil, nil)

	_, err := resolver.Settle(context.Background(), order.ID, models.OutcomePending, "")
	require.Error(t, err)
	assert.Equal(t, models.OrderPending, orderStatus(t, db, order.ID))
}

func TestSettleUnknownOrder(t *testing.T) {
	db := setupTestDB(t)
	resolver := NewResolver(db, inventory.NewLedger(nil), nil, nil, nil)

	_, err := resolver.Settle(context.Background(), "no-such-order", models.OutcomePaid, "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
