package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketActive    TicketStatus = "ACTIVE"
	TicketUsed      TicketStatus = "USED"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketExpired   TicketStatus = "EXPIRED"
)

// Ticket is minted only when its order reaches PAID. QRCode is unique and
// unguessable; it is the sole lookup key at the gate.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	ID           string       `bun:"id,pk" json:"id"`
	OrderID      string       `bun:"order_id,notnull" json:"order_id"`
	UserID       string       `bun:"user_id,notnull" json:"user_id"`
	TicketTypeID string       `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	EventID      string       `bun:"event_id,notnull" json:"event_id"`
	QRCode       string       `bun:"qr_code,unique,notnull" json:"qr_code"`
	Status       TicketStatus `bun:"status,notnull" json:"status"`
	ScannedAt    time.Time    `bun:"scanned_at,nullzero" json:"scanned_at,omitempty"`
	CreatedAt    time.Time    `bun:"created_at,notnull" json:"created_at"`

	Event      *Event      `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
	TicketType *TicketType `bun:"rel:belongs-to,join:ticket_type_id=id" json:"ticket_type,omitempty"`
}
