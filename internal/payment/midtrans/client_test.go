package midtrans

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiketku/internal/config"
	"tiketku/internal/models"
)

const testServerKey = "SB-Mid-server-testkey"

func testClient(snapURL, apiURL string) *Client {
	c := NewClient(config.MidtransConfig{
		ServerKey: testServerKey,
		ClientKey: "SB-Mid-client-testkey",
	}, "http://localhost:3000", nil, nil)
	if snapURL != "" {
		c.snapURL = snapURL
	}
	if apiURL != "" {
		c.apiURL = apiURL
	}
	return c
}

func signature(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + testServerKey))
	return hex.EncodeToString(sum[:])
}

func TestVerifySignature(t *testing.T) {
	client := testClient("", "")

	notification := &models.MidtransNotification{
		OrderID:      "ord-1",
		StatusCode:   "200",
		GrossAmount:  "450000.00",
		SignatureKey: signature("ord-1", "200", "450000.00"),
	}
	assert.True(t, client.VerifySignature(notification))

	notification.GrossAmount = "1.00"
	assert.False(t, client.VerifySignature(notification), "tampered amount must fail")

	notification.GrossAmount = "450000.00"
	notification.SignatureKey = "deadbeef"
	assert.False(t, client.VerifySignature(notification))
}

func TestMapTransactionStatus(t *testing.T) {
	client := testClient("", "")

	cases := []struct {
		transactionStatus string
		fraudStatus       string
		want              models.PaymentOutcome
	}{
		{"settlement", "", models.OutcomePaid},
		{"capture", "accept", models.OutcomePaid},
		{"capture", "challenge", models.OutcomePending},
		{"settlement", "challenge", models.OutcomePending},
		{"pending", "", models.OutcomePending},
		{"deny", "", models.OutcomeCancelled},
		{"cancel", "", models.OutcomeCancelled},
		{"expire", "", models.OutcomeCancelled},
		{"refund", "", models.OutcomePending},
	}
	for _, tc := range cases {
		got := client.MapTransactionStatus(tc.transactionStatus, tc.fraudStatus)
		assert.Equalf(t, tc.want, got, "status=%s fraud=%s", tc.transactionStatus, tc.fraudStatus)
	}
}

func TestCreateTransaction(t *testing.T) {
	var captured models.MidtransSnapParams
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions", r.URL.Path)

		expectedAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte(testServerKey+":"))
		assert.Equal(t, expectedAuth, r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.SnapResponse{
			Token:       "snap-token-1",
			RedirectURL: "https://app.sandbox.midtrans.com/snap/v2/vtweb/snap-token-1",
		})
	}))
	defer server.Close()

	client := testClient(server.URL, "")
	order := &models.Order{
		ID:          "ord-1",
		TotalAmount: 450000,
		BuyerName:   "Siti Rahma",
		BuyerEmail:  "siti@example.com",
		BuyerPhone:  "+628123456789",
		ExpiresAt:   time.Now().Add(30 * time.Minute),
		Items: []*models.OrderItem{
			{TicketTypeID: "tt-1", Quantity: 2, UnitPrice: 150000},
			{TicketTypeID: "tt-2", Quantity: 1, UnitPrice: 150000},
		},
	}

	snap, err := client.CreateTransaction(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "snap-token-1", snap.Token)
	assert.NotEmpty(t, snap.RedirectURL)

	assert.Equal(t, "ord-1", captured.TransactionDetails.OrderID)
	assert.Equal(t, 450000.0, captured.TransactionDetails.GrossAmount)
	assert.Len(t, captured.ItemDetails, 2)
	assert.Equal(t, "Siti", captured.CustomerDetails.FirstName)
	assert.Equal(t, "Rahma", captured.CustomerDetails.LastName)
}

func TestCreateTransactionAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error_messages": []string{"Access denied, please check client or server key"},
		})
	}))
	defer server.Close()

	client := testClient(server.URL, "")
	_, err := client.CreateTransaction(context.Background(), &models.Order{ID: "ord-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Access denied")
}

func TestGetTransactionStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ord-1/status", r.URL.Path)
		json.NewEncoder(w).Encode(models.MidtransNotification{
			OrderID:           "ord-1",
			TransactionStatus: "settlement",
			TransactionID:     "mt-abc",
			GrossAmount:       "450000.00",
		})
	}))
	defer server.Close()

	client := testClient("", server.URL)
	status, err := client.GetTransactionStatus(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "settlement", status.TransactionStatus)
	assert.Equal(t, "mt-abc", status.TransactionID)
}
