package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tiketku/internal/database"
	"tiketku/internal/logger"
	"tiketku/internal/models"
	"tiketku/internal/order/db"
	"tiketku/internal/settlement"
	"tiketku/internal/utils"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var (
	ErrEmptyOrder    = errors.New("order has no items")
	ErrEventNotFound = errors.New("event not found")
	ErrEventInactive = errors.New("event is not open for sale")
	ErrNotPending    = errors.New("order is not pending")
	ErrOrderExpired  = errors.New("order has expired")
	ErrNotOwner      = errors.New("order belongs to another user")
)

// StockLedger reserves stock inside the creation transaction.
type StockLedger interface {
	Reserve(ctx context.Context, idb bun.IDB, ticketTypeID string, qty int) error
}

// Gateway creates a hosted payment session for a pending order.
type Gateway interface {
	CreateTransaction(ctx context.Context, order *models.Order) (*models.SnapResponse, error)
}

// Settler is the settlement resolver seam; the service uses it for the
// compensating cancel and for the manual payment flows.
type Settler interface {
	Settle(ctx context.Context, orderID string, outcome models.PaymentOutcome, externalRef string) (*settlement.Receipt, error)
}

// Publisher streams order lifecycle events.
type Publisher interface {
	PublishOrderCreated(order models.Order) error
}

type OrderService struct {
	DB       *db.DB
	Ledger   StockLedger
	Gateway  Gateway
	Settler  Settler
	Producer Publisher
	Logger   *logger.Logger
	TTL      time.Duration
}

func NewOrderService(database *db.DB, ledger StockLedger, gateway Gateway, settler Settler, producer Publisher, log *logger.Logger, ttl time.Duration) *OrderService {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &OrderService{
		DB:       database,
		Ledger:   ledger,
		Gateway:  gateway,
		Settler:  settler,
		Producer: producer,
		Logger:   log,
		TTL:      ttl,
	}
}

// CreateOrder reserves stock for every item and persists the PENDING
// order in one transaction: if any single reservation fails, the whole
// order fails and nothing is reserved. Tickets are NOT minted here;
// minting waits for settlement because payment may still fall through.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req models.OrderRequest) (*models.OrderResponse, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for ticket type %s", item.Quantity, item.TicketTypeID)
		}
	}

	order := &models.Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		EventID:    req.EventID,
		Status:     models.OrderPending,
		BuyerName:  req.Buyer.Name,
		BuyerEmail: req.Buyer.Email,
		BuyerPhone: req.Buyer.Phone,
		ExpiresAt:  time.Now().Add(s.TTL),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	err := s.DB.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var event models.Event
		err := database.ForUpdate(
			tx.NewSelect().Model(&event).Where("e.id = ?", req.EventID), tx,
		).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrEventNotFound
			}
			return fmt.Errorf("failed to load event %s: %w", req.EventID, err)
		}
		if !event.IsActive {
			return ErrEventInactive
		}

		total := 0.0
		for _, item := range req.Items {
			if err := s.Ledger.Reserve(ctx, tx, item.TicketTypeID, item.Quantity); err != nil {
				return err
			}

			var tt models.TicketType
			if err := tx.NewSelect().Model(&tt).Where("tt.id = ?", item.TicketTypeID).Scan(ctx); err != nil {
				return fmt.Errorf("failed to load ticket type %s: %w", item.TicketTypeID, err)
			}

			line := tt.Price * float64(item.Quantity)
			order.Items = append(order.Items, &models.OrderItem{
				ID:           uuid.NewString(),
				OrderID:      order.ID,
				TicketTypeID: item.TicketTypeID,
				Quantity:     item.Quantity,
				UnitPrice:    tt.Price,
				TotalPrice:   line,
			})
			total += line
		}
		order.TotalAmount = total

		return s.DB.InsertOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.LogOrder("CREATE", order.ID,
			fmt.Sprintf("%d items, total %.2f, expires %s", len(order.Items), order.TotalAmount, order.ExpiresAt.Format(time.RFC3339)))
	}

	if s.Producer != nil {
		if err := s.Producer.PublishOrderCreated(*order); err != nil && s.Logger != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish order.created for %s: %v", order.ID, err))
		}
	}

	resp := &models.OrderResponse{
		OrderID:     order.ID,
		ExpiresAt:   order.ExpiresAt,
		TotalAmount: order.TotalAmount,
	}

	if s.Gateway == nil {
		return resp, nil
	}

	// The reservation is committed; a payment session that cannot be
	// created would strand the order PENDING with no way to pay, so the
	// failure path cancels it and releases the stock.
	snap, err := s.Gateway.CreateTransaction(ctx, order)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("PAYMENT", fmt.Sprintf("snap token creation failed for %s: %v", order.ID, err))
		}
		if _, cerr := s.Settler.Settle(ctx, order.ID, models.OutcomeCancelled, ""); cerr != nil && s.Logger != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("compensating cancel failed for %s: %v", order.ID, cerr))
		}
		return nil, fmt.Errorf("failed to create payment token: %w", err)
	}

	if err := s.DB.UpdateSnapToken(ctx, order.ID, snap.Token, snap.RedirectURL); err != nil && s.Logger != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("failed to store snap token for %s: %v", order.ID, err))
	}

	resp.SnapToken = snap.Token
	resp.PaymentURL = snap.RedirectURL
	return resp, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.DB.GetOrderByID(ctx, id)
}

func (s *OrderService) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.DB.GetOrdersByUser(ctx, userID)
}

// ConfirmPayment settles an order PAID on behalf of a manual or offline
// payment flow. Idempotency comes from the resolver.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID string) (*settlement.Receipt, error) {
	return s.Settler.Settle(ctx, orderID, models.OutcomePaid, utils.GeneratePaymentRef())
}

// CancelOrder is the user-triggered cancellation: the owner gives up on
// a pending order without waiting for the sweeper.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID string) (*settlement.Receipt, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOwner
	}
	return s.Settler.Settle(ctx, orderID, models.OutcomeCancelled, "")
}

// SnapToken re-issues (or returns the cached) payment session for a
// pending, unexpired order.
func (s *OrderService) SnapToken(ctx context.Context, orderID, userID string) (*models.SnapResponse, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOwner
	}
	if order.Status != models.OrderPending {
		return nil, ErrNotPending
	}
	if time.Now().After(order.ExpiresAt) {
		return nil, ErrOrderExpired
	}
	if order.SnapToken != "" {
		return &models.SnapResponse{Token: order.SnapToken, RedirectURL: order.PaymentURL}, nil
	}
	if s.Gateway == nil {
		return nil, errors.New("no payment gateway configured")
	}

	snap, err := s.Gateway.CreateTransaction(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment token: %w", err)
	}
	if err := s.DB.UpdateSnapToken(ctx, orderID, snap.Token, snap.RedirectURL); err != nil && s.Logger != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("failed to store snap token for %s: %v", orderID, err))
	}
	return snap, nil
}
