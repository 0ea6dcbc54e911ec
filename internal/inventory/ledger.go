package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tiketku/internal/database"
	"tiketku/internal/logger"
	"tiketku/internal/models"

	"github.com/uptrace/bun"
)

// ErrInsufficientStock is a normal business outcome, not a failure: the
// caller surfaces it as a rejected order, never retries it.
var ErrInsufficientStock = errors.New("insufficient ticket stock")

var ErrTicketTypeNotFound = errors.New("ticket type not found")

// Ledger owns the sold/capacity counters. All mutations go through
// Reserve and Release inside the caller's transaction; nothing else may
// write sold_quantity or current_capacity.
type Ledger struct {
	Logger *logger.Logger
}

func NewLedger(log *logger.Logger) *Ledger {
	return &Ledger{Logger: log}
}

// Reserve increments the ticket type's sold count and the parent event's
// current capacity by qty, after re-reading both under a row lock. Two
// concurrent reservations for the last unit cannot both succeed: the
// second re-read sees the first one's increment.
func (l *Ledger) Reserve(ctx context.Context, idb bun.IDB, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid reserve quantity %d", qty)
	}

	var tt models.TicketType
	err := database.ForUpdate(
		idb.NewSelect().Model(&tt).Where("id = ?", ticketTypeID), idb,
	).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTicketTypeNotFound
		}
		return fmt.Errorf("failed to load ticket type %s: %w", ticketTypeID, err)
	}

	available := tt.MaxQuantity - tt.SoldQuantity
	if qty > available {
		return ErrInsufficientStock
	}

	var ev models.Event
	err = database.ForUpdate(
		idb.NewSelect().Model(&ev).Where("id = ?", tt.EventID), idb,
	).Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", tt.EventID, err)
	}

	if ev.CurrentCapacity+qty > ev.MaxCapacity {
		return ErrInsufficientStock
	}

	_, err = idb.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("sold_quantity = sold_quantity + ?", qty).
		Where("id = ?", ticketTypeID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve stock for %s: %w", ticketTypeID, err)
	}

	_, err = idb.NewUpdate().
		Model((*models.Event)(nil)).
		Set("current_capacity = current_capacity + ?", qty).
		Where("id = ?", tt.EventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update event capacity for %s: %w", tt.EventID, err)
	}

	if l.Logger != nil {
		l.Logger.LogDatabase("RESERVE", "ticket_types",
			fmt.Sprintf("%s +%d (sold %d/%d)", ticketTypeID, qty, tt.SoldQuantity+qty, tt.MaxQuantity))
	}
	return nil
}

// Release is the exact inverse of Reserve, used on cancellation and
// expiry. It floors at zero: release is only ever called with a quantity
// previously reserved by the same order, so hitting the floor means a
// bookkeeping bug upstream, not data loss.
func (l *Ledger) Release(ctx context.Context, idb bun.IDB, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid release quantity %d", qty)
	}

	var tt models.TicketType
	err := database.ForUpdate(
		idb.NewSelect().Model(&tt).Where("id = ?", ticketTypeID), idb,
	).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTicketTypeNotFound
		}
		return fmt.Errorf("failed to load ticket type %s: %w", ticketTypeID, err)
	}

	release := qty
	if release > tt.SoldQuantity {
		if l.Logger != nil {
			l.Logger.LogSecurity("STOCK_FLOOR",
				fmt.Sprintf("release of %d for %s exceeds sold count %d, clamping", qty, ticketTypeID, tt.SoldQuantity))
		}
		release = tt.SoldQuantity
	}
	if release == 0 {
		return nil
	}

	_, err = idb.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("sold_quantity = sold_quantity - ?", release).
		Where("id = ?", ticketTypeID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to release stock for %s: %w", ticketTypeID, err)
	}

	var ev models.Event
	err = database.ForUpdate(
		idb.NewSelect().Model(&ev).Where("id = ?", tt.EventID), idb,
	).Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", tt.EventID, err)
	}

	capRelease := release
	if capRelease > ev.CurrentCapacity {
		capRelease = ev.CurrentCapacity
	}
	if capRelease > 0 {
		_, err = idb.NewUpdate().
			Model((*models.Event)(nil)).
			Set("current_capacity = current_capacity - ?", capRelease).
			Where("id = ?", tt.EventID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update event capacity for %s: %w", tt.EventID, err)
		}
	}

	if l.Logger != nil {
		l.Logger.LogDatabase("RELEASE", "ticket_types",
			fmt.Sprintf("%s -%d (sold %d/%d)", ticketTypeID, release, tt.SoldQuantity-release, tt.MaxQuantity))
	}
	return nil
}

// Availability reads the remaining stock for a ticket type. Read-only,
// no lock; the number may be stale by the time the caller acts on it,
// which is fine because Reserve re-checks.
func (l *Ledger) Availability(ctx context.Context, idb bun.IDB, ticketTypeID string) (*models.Availability, error) {
	var tt models.TicketType
	err := idb.NewSelect().
		Model(&tt).
		Relation("Event").
		Where("tt.id = ?", ticketTypeID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketTypeNotFound
		}
		return nil, fmt.Errorf("failed to load ticket type %s: %w", ticketTypeID, err)
	}

	av := &models.Availability{
		TicketTypeID: tt.ID,
		Available:    tt.MaxQuantity - tt.SoldQuantity,
		Total:        tt.MaxQuantity,
		Sold:         tt.SoldQuantity,
		EventID:      tt.EventID,
	}
	if tt.Event != nil {
		av.EventTitle = tt.Event.Title
	}
	return av, nil
}
