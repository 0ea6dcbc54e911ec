package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID              string    `bun:"id,pk" json:"id"`
	Title           string    `bun:"title,notnull" json:"title"`
	Description     string    `bun:"description,nullzero" json:"description,omitempty"`
	Venue           string    `bun:"venue,notnull" json:"venue"`
	StartDate       time.Time `bun:"start_date,notnull" json:"start_date"`
	EndDate         time.Time `bun:"end_date,notnull" json:"end_date"`
	MaxCapacity     int       `bun:"max_capacity,notnull" json:"max_capacity"`
	CurrentCapacity int       `bun:"current_capacity,notnull" json:"current_capacity"`
	IsActive        bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt       time.Time `bun:"created_at,notnull" json:"created_at"`
}

// TicketType is a priced ticket tier of an event. SoldQuantity counts both
// paid and pending reservations; it is only ever mutated through the
// inventory ledger, never written directly.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types,alias:tt"`

	ID           string  `bun:"id,pk" json:"id"`
	EventID      string  `bun:"event_id,notnull" json:"event_id"`
	Name         string  `bun:"name,notnull" json:"name"`
	Price        float64 `bun:"price,notnull" json:"price"`
	MaxQuantity  int     `bun:"max_quantity,notnull" json:"max_quantity"`
	SoldQuantity int     `bun:"sold_quantity,notnull" json:"sold_quantity"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
}

type Availability struct {
	TicketTypeID string `json:"ticket_type_id"`
	Available    int    `json:"available"`
	Total        int    `json:"total"`
	Sold         int    `json:"sold"`
	EventID      string `json:"event_id"`
	EventTitle   string `json:"event_title"`
}
