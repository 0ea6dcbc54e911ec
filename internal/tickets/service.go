package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"tiketku/internal/inventory"
	"tiketku/internal/models"
)

var ErrTicketNotFound = errors.New("ticket not found")

// Service reads tickets and availability. All writes to tickets happen
// in settlement and gate validation; this package never mutates.
type Service struct {
	DB     *bun.DB
	Ledger *inventory.Ledger
}

func NewService(db *bun.DB, ledger *inventory.Ledger) *Service {
	return &Service{DB: db, Ledger: ledger}
}

// GetByOrder lists the tickets minted for an order.
func (s *Service) GetByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.DB.NewSelect().Model(&tickets).
		Relation("Event").
		Relation("TicketType").
		Where("t.order_id = ?", orderID).
		Order("t.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

// GetByUser lists all tickets a user holds, newest first.
func (s *Service) GetByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.DB.NewSelect().Model(&tickets).
		Relation("Event").
		Relation("TicketType").
		Where("t.user_id = ?", userID).
		Order("t.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets for user %s: %w", userID, err)
	}
	return tickets, nil
}

// GetByQRCode loads a single ticket by its QR payload.
func (s *Service) GetByQRCode(ctx context.Context, qrCode string) (*models.Ticket, error) {
	ticket := new(models.Ticket)
	err := s.DB.NewSelect().Model(ticket).
		Relation("Event").
		Where("t.qr_code = ?", qrCode).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	return ticket, nil
}

// Availability reports remaining stock for a ticket type. The count is
// advisory: it can go stale the moment it is read, and checkout relies
// on the reservation path, never on this number.
func (s *Service) Availability(ctx context.Context, ticketTypeID string) (*models.Availability, error) {
	return s.Ledger.Availability(ctx, s.DB, ticketTypeID)
}

// EventAvailability reports remaining stock for every tier of an event.
func (s *Service) EventAvailability(ctx context.Context, eventID string) ([]models.Availability, error) {
	var types []models.TicketType
	err := s.DB.NewSelect().Model(&types).
		Relation("Event").
		Where("tt.event_id = ?", eventID).
		Order("tt.price ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket types for event %s: %w", eventID, err)
	}

	out := make([]models.Availability, 0, len(types))
	for _, tt := range types {
		a := models.Availability{
			TicketTypeID: tt.ID,
			Available:    tt.MaxQuantity - tt.SoldQuantity,
			Total:        tt.MaxQuantity,
			Sold:         tt.SoldQuantity,
			EventID:      tt.EventID,
		}
		if tt.Event != nil {
			a.EventTitle = tt.Event.Title
		}
		out = append(out, a)
	}
	return out, nil
}
