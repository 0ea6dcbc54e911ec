package models

import (
	"time"

	"github.com/uptrace/bun"
)

type GateEntry struct {
	bun.BaseModel `bun:"table:gate_entries,alias:ge"`

	ID        string    `bun:"id,pk" json:"id"`
	EventID   string    `bun:"event_id,notnull" json:"event_id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Location  string    `bun:"location,nullzero" json:"location,omitempty"`
	IsActive  bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// GateScan is an append-only record of a validation attempt. At most one
// scan per (ticket, gate) pair ever succeeds.
type GateScan struct {
	bun.BaseModel `bun:"table:gate_scans,alias:gs"`

	ID          string    `bun:"id,pk" json:"id"`
	TicketID    string    `bun:"ticket_id,notnull" json:"ticket_id"`
	GateEntryID string    `bun:"gate_entry_id,notnull" json:"gate_entry_id"`
	ScanTime    time.Time `bun:"scan_time,notnull" json:"scan_time"`
	IsValid     bool      `bun:"is_valid,notnull" json:"is_valid"`

	Ticket    *Ticket    `bun:"rel:belongs-to,join:ticket_id=id" json:"ticket,omitempty"`
	GateEntry *GateEntry `bun:"rel:belongs-to,join:gate_entry_id=id" json:"gate_entry,omitempty"`
}

type ValidateRequest struct {
	QRCode      string `json:"qr_code"`
	GateEntryID string `json:"gate_entry_id"`
}
