package models

// PaymentOutcome is the closed outcome space every gateway notification is
// mapped into at the adapter boundary. Raw gateway vocabulary never leaks
// past the adapter.
type PaymentOutcome string

const (
	OutcomePaid      PaymentOutcome = "PAID"
	OutcomePending   PaymentOutcome = "PENDING"
	OutcomeCancelled PaymentOutcome = "CANCELLED"
)

// MidtransNotification is the payload Midtrans posts to the webhook.
// https://docs.midtrans.com/en/after-payment/http-notification
type MidtransNotification struct {
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
	StatusMessage     string `json:"status_message"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
	OrderID           string `json:"order_id"`
	MerchantID        string `json:"merchant_id"`
	GrossAmount       string `json:"gross_amount"`
	FraudStatus       string `json:"fraud_status"`
	Currency          string `json:"currency"`
}

type MidtransTransactionDetails struct {
	OrderID     string  `json:"order_id"`
	GrossAmount float64 `json:"gross_amount"`
}

type MidtransItemDetail struct {
	ID       string  `json:"id"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Name     string  `json:"name"`
}

type MidtransCustomerDetails struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type MidtransCallbacks struct {
	Finish string `json:"finish,omitempty"`
}

type MidtransSnapParams struct {
	TransactionDetails MidtransTransactionDetails `json:"transaction_details"`
	ItemDetails        []MidtransItemDetail       `json:"item_details"`
	CustomerDetails    MidtransCustomerDetails    `json:"customer_details"`
	Callbacks          *MidtransCallbacks         `json:"callbacks,omitempty"`
}

// SnapResponse is what both gateway adapters hand back after creating a
// payment session: an opaque token plus a hosted payment page URL.
type SnapResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}
