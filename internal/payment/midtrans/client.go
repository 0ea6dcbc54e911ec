package midtrans

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tiketku/internal/config"
	"tiketku/internal/logger"
	"tiketku/internal/models"
)

const (
	sandboxSnapURL = "https://app.sandbox.midtrans.com/snap/v1"
	prodSnapURL    = "https://app.midtrans.com/snap/v1"
	sandboxAPIURL  = "https://api.sandbox.midtrans.com/v2"
	prodAPIURL     = "https://api.midtrans.com/v2"
)

// Client talks to the Midtrans Snap and core APIs.
// https://docs.midtrans.com/en/snap/overview
type Client struct {
	serverKey   string
	clientKey   string
	snapURL     string
	apiURL      string
	callbackURL string
	httpClient  *http.Client
	log         *logger.Logger
}

func NewClient(cfg config.MidtransConfig, callbackURL string, httpClient *http.Client, log *logger.Logger) *Client {
	snapURL, apiURL := sandboxSnapURL, sandboxAPIURL
	if cfg.IsProduction {
		snapURL, apiURL = prodSnapURL, prodAPIURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		serverKey:   cfg.ServerKey,
		clientKey:   cfg.ClientKey,
		snapURL:     snapURL,
		apiURL:      apiURL,
		callbackURL: callbackURL,
		httpClient:  httpClient,
		log:         log,
	}
}

func (c *Client) authHeader() string {
	credentials := base64.StdEncoding.EncodeToString([]byte(c.serverKey + ":"))
	return "Basic " + credentials
}

// CreateTransaction creates a Snap payment session for a pending order.
func (c *Client) CreateTransaction(ctx context.Context, order *models.Order) (*models.SnapResponse, error) {
	params := c.snapParams(order)

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snap params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.snapURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build snap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snap request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			ErrorMessages []string `json:"error_messages"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("midtrans API error (%d): %s", resp.StatusCode, strings.Join(apiErr.ErrorMessages, ", "))
	}

	var snap models.SnapResponse
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snap response: %w", err)
	}

	if c.log != nil {
		c.log.LogPayment("midtrans", order.ID, "snap token created")
	}
	return &snap, nil
}

func (c *Client) snapParams(order *models.Order) models.MidtransSnapParams {
	items := make([]models.MidtransItemDetail, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.MidtransItemDetail{
			ID:       item.TicketTypeID,
			Price:    item.UnitPrice,
			Quantity: item.Quantity,
			Name:     item.TicketTypeID,
		})
	}

	first, last := splitName(order.BuyerName)
	params := models.MidtransSnapParams{
		TransactionDetails: models.MidtransTransactionDetails{
			OrderID:     order.ID,
			GrossAmount: order.TotalAmount,
		},
		ItemDetails: items,
		CustomerDetails: models.MidtransCustomerDetails{
			FirstName: first,
			LastName:  last,
			Email:     order.BuyerEmail,
			Phone:     order.BuyerPhone,
		},
	}
	if c.callbackURL != "" {
		params.Callbacks = &models.MidtransCallbacks{Finish: fmt.Sprintf("%s/success/%s", c.callbackURL, order.ID)}
	}
	return params
}

func splitName(name string) (string, string) {
	if name == "" {
		return "User", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// GetTransactionStatus queries the core API for the current transaction
// state of an order. The sweeper uses this to avoid expiring an order
// that was paid but whose notification has not arrived yet.
func (c *Client) GetTransactionStatus(ctx context.Context, orderID string) (*models.MidtransNotification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/status", c.apiURL, orderID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			StatusMessage string `json:"status_message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("midtrans API error (%d): %s", resp.StatusCode, apiErr.StatusMessage)
	}

	var notification models.MidtransNotification
	if err := json.NewDecoder(resp.Body).Decode(&notification); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &notification, nil
}

// VerifySignature checks the notification signature before any field of
// the payload is trusted: sha512(order_id + status_code + gross_amount +
// server key) must match signature_key.
func (c *Client) VerifySignature(n *models.MidtransNotification) bool {
	payload := n.OrderID + n.StatusCode + n.GrossAmount + c.serverKey
	sum := sha512.Sum512([]byte(payload))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) == 1
}

// MapTransactionStatus folds the Midtrans transaction/fraud vocabulary
// into the closed outcome space. A fraud challenge is PENDING, not PAID:
// it waits for manual review.
func (c *Client) MapTransactionStatus(transactionStatus, fraudStatus string) models.PaymentOutcome {
	switch transactionStatus {
	case "capture", "settlement":
		if fraudStatus == "challenge" {
			return models.OutcomePending
		}
		return models.OutcomePaid
	case "pending":
		return models.OutcomePending
	case "deny", "cancel", "expire":
		return models.OutcomeCancelled
	default:
		return models.OutcomePending
	}
}
