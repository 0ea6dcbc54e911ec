package gate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"tiketku/internal/database"
	"tiketku/internal/kafka"
	"tiketku/internal/logger"
	"tiketku/internal/models"
)

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrGateNotFound    = errors.New("gate not found")
	ErrWrongGate       = errors.New("gate belongs to a different event")
	ErrEventNotStarted = errors.New("event has not started")
	ErrEventEnded      = errors.New("event has ended")
)

// NotActiveError rejects a ticket that is not in ACTIVE state. Status
// tells the operator why: USED means a duplicate scan, CANCELLED and
// EXPIRED mean the ticket was voided.
type NotActiveError struct {
	Status models.TicketStatus
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("ticket is %s, not ACTIVE", e.Status)
}

// Publisher streams successful admissions. Best effort.
type Publisher interface {
	PublishTicketScanned(event kafka.TicketScannedEvent) error
}

// ScanResult is what the gate operator sees after a successful scan.
type ScanResult struct {
	TicketID   string    `json:"ticket_id"`
	EventID    string    `json:"event_id"`
	EventTitle string    `json:"event_title"`
	TicketType string    `json:"ticket_type"`
	GateName   string    `json:"gate_name"`
	ScanTime   time.Time `json:"scan_time"`
}

// Service validates tickets at the venue. The scan record and the
// ACTIVE -> USED flip commit in one transaction, so two operators
// scanning the same QR code at the same moment admit exactly one person.
type Service struct {
	DB       *bun.DB
	Producer Publisher
	Logger   *logger.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewService(db *bun.DB, producer Publisher, log *logger.Logger) *Service {
	return &Service{DB: db, Producer: producer, Logger: log, now: time.Now}
}

// Validate admits the ticket with the given QR code at the given gate.
// The ticket row is locked for the duration of the check, so concurrent
// scans of the same code serialize and only the first succeeds.
func (s *Service) Validate(ctx context.Context, qrCode, gateEntryID string) (*ScanResult, error) {
	qrCode = strings.TrimSpace(qrCode)
	if qrCode == "" {
		return nil, ErrTicketNotFound
	}

	var result *ScanResult
	var rejectedTicketID string
	err := s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		rejectedTicketID = ""
		ticket := new(models.Ticket)
		q := tx.NewSelect().Model(ticket).Where("t.qr_code = ?", qrCode)
		if err := database.ForUpdate(q, s.DB).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTicketNotFound
			}
			return fmt.Errorf("failed to load ticket: %w", err)
		}

		if ticket.Status != models.TicketActive {
			rejectedTicketID = ticket.ID
			return &NotActiveError{Status: ticket.Status}
		}

		gate := new(models.GateEntry)
		err := tx.NewSelect().Model(gate).
			Where("ge.id = ?", gateEntryID).
			Where("ge.is_active = ?", true).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrGateNotFound
			}
			return fmt.Errorf("failed to load gate: %w", err)
		}
		if gate.EventID != ticket.EventID {
			rejectedTicketID = ticket.ID
			return ErrWrongGate
		}

		event := new(models.Event)
		if err := tx.NewSelect().Model(event).Where("e.id = ?", ticket.EventID).Scan(ctx); err != nil {
			return fmt.Errorf("failed to load event: %w", err)
		}
		now := s.now()
		if now.Before(event.StartDate) {
			rejectedTicketID = ticket.ID
			return ErrEventNotStarted
		}
		if now.After(event.EndDate) {
			rejectedTicketID = ticket.ID
			return ErrEventEnded
		}

		scan := &models.GateScan{
			ID:          uuid.New().String(),
			TicketID:    ticket.ID,
			GateEntryID: gateEntryID,
			ScanTime:    now,
			IsValid:     true,
		}
		if _, err := tx.NewInsert().Model(scan).Exec(ctx); err != nil {
			return fmt.Errorf("failed to record scan: %w", err)
		}

		res, err := tx.NewUpdate().Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketUsed).
			Set("scanned_at = ?", now).
			Where("id = ?", ticket.ID).
			Where("status = ?", models.TicketActive).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark ticket used: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			// Lost a race despite the row lock. Should not happen, but
			// never admit twice.
			return &NotActiveError{Status: models.TicketUsed}
		}

		ticketType := new(models.TicketType)
		_ = tx.NewSelect().Model(ticketType).Where("tt.id = ?", ticket.TicketTypeID).Scan(ctx)

		result = &ScanResult{
			TicketID:   ticket.ID,
			EventID:    ticket.EventID,
			EventTitle: event.Title,
			TicketType: ticketType.Name,
			GateName:   gate.Name,
			ScanTime:   now,
		}
		return nil
	})
	if err != nil {
		if rejectedTicketID != "" {
			s.recordRejection(ctx, rejectedTicketID, gateEntryID)
		}
		return nil, err
	}

	s.Logger.LogGate(gateEntryID, fmt.Sprintf("admitted ticket %s", result.TicketID))
	if s.Producer != nil {
		publishErr := s.Producer.PublishTicketScanned(kafka.TicketScannedEvent{
			TicketID:    result.TicketID,
			QRCode:      qrCode,
			GateEntryID: gateEntryID,
			EventID:     result.EventID,
			ScanTime:    result.ScanTime,
		})
		if publishErr != nil {
			s.Logger.Error("GATE", fmt.Sprintf("failed to publish scan event: %v", publishErr))
		}
	}
	return result, nil
}

// recordRejection appends a failed attempt after the validation
// transaction rolled back. Best effort: the audit trail never blocks a
// rejection response.
func (s *Service) recordRejection(ctx context.Context, ticketID, gateEntryID string) {
	scan := &models.GateScan{
		ID:          uuid.New().String(),
		TicketID:    ticketID,
		GateEntryID: gateEntryID,
		ScanTime:    s.now(),
		IsValid:     false,
	}
	if _, err := s.DB.NewInsert().Model(scan).Exec(ctx); err != nil {
		s.Logger.Warn("GATE", fmt.Sprintf("failed to record rejected scan: %v", err))
	}
}

// RecentScans lists the latest scans at a gate, newest first.
func (s *Service) RecentScans(ctx context.Context, gateEntryID string, limit int) ([]models.GateScan, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var scans []models.GateScan
	err := s.DB.NewSelect().Model(&scans).
		Relation("Ticket").
		Where("gs.gate_entry_id = ?", gateEntryID).
		Order("gs.scan_time DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return scans, nil
}

// ListGates lists the active gates of an event.
func (s *Service) ListGates(ctx context.Context, eventID string) ([]models.GateEntry, error) {
	var gates []models.GateEntry
	err := s.DB.NewSelect().Model(&gates).
		Where("ge.event_id = ?", eventID).
		Where("ge.is_active = ?", true).
		Order("ge.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list gates: %w", err)
	}
	return gates, nil
}

// CreateGate registers a new gate for an event.
func (s *Service) CreateGate(ctx context.Context, eventID, name, location string) (*models.GateEntry, error) {
	gate := &models.GateEntry{
		ID:        uuid.New().String(),
		EventID:   eventID,
		Name:      name,
		Location:  location,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if _, err := s.DB.NewInsert().Model(gate).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create gate: %w", err)
	}
	s.Logger.LogGate(gate.ID, fmt.Sprintf("gate %q created for event %s", name, eventID))
	return gate, nil
}
