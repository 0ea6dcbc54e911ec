package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status is final. A terminal order never
// transitions again.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID            string      `bun:"id,pk" json:"id"`
	UserID        string      `bun:"user_id,notnull" json:"user_id"`
	EventID       string      `bun:"event_id,notnull" json:"event_id"`
	Status        OrderStatus `bun:"status,notnull" json:"status"`
	TotalAmount   float64     `bun:"total_amount,notnull" json:"total_amount"`
	BuyerName     string      `bun:"buyer_name,nullzero" json:"buyer_name,omitempty"`
	BuyerEmail    string      `bun:"buyer_email,nullzero" json:"buyer_email,omitempty"`
	BuyerPhone    string      `bun:"buyer_phone,nullzero" json:"buyer_phone,omitempty"`
	PaymentMethod string      `bun:"payment_method,nullzero" json:"payment_method,omitempty"`
	ExternalRef   string      `bun:"external_ref,nullzero" json:"external_ref,omitempty"`
	SnapToken     string      `bun:"snap_token,nullzero" json:"snap_token,omitempty"`
	PaymentURL    string      `bun:"payment_url,nullzero" json:"payment_url,omitempty"`
	ExpiresAt     time.Time   `bun:"expires_at,notnull" json:"expires_at"`
	PaidAt        time.Time   `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	CreatedAt     time.Time   `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time   `bun:"updated_at,notnull" json:"updated_at"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

// OrderItem is an immutable snapshot of what was bought: the unit price is
// the ticket type's price at order time, not a live reference.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID           string  `bun:"id,pk" json:"id"`
	OrderID      string  `bun:"order_id,notnull" json:"order_id"`
	TicketTypeID string  `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	Quantity     int     `bun:"quantity,notnull" json:"quantity"`
	UnitPrice    float64 `bun:"unit_price,notnull" json:"unit_price"`
	TotalPrice   float64 `bun:"total_price,notnull" json:"total_price"`
}

type BuyerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type OrderItemRequest struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

type OrderRequest struct {
	EventID string             `json:"event_id"`
	Items   []OrderItemRequest `json:"items"`
	Buyer   BuyerInfo          `json:"buyer"`
}

type OrderResponse struct {
	OrderID     string    `json:"order_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	TotalAmount float64   `json:"total_amount"`
	SnapToken   string    `json:"snap_token,omitempty"`
	PaymentURL  string    `json:"payment_url,omitempty"`
}
