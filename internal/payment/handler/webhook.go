package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"tiketku/internal/logger"
	"tiketku/internal/models"
	"tiketku/internal/settlement"
	"tiketku/internal/utils"
)

// Settler resolves a pending order to a terminal status.
type Settler interface {
	Settle(ctx context.Context, orderID string, outcome models.PaymentOutcome, externalRef string) (*settlement.Receipt, error)
}

// MidtransVerifier covers the pieces of the Midtrans client the webhook
// needs: signature verification and status mapping.
type MidtransVerifier interface {
	VerifySignature(n *models.MidtransNotification) bool
	MapTransactionStatus(transactionStatus, fraudStatus string) models.PaymentOutcome
}

// StripeParser maps a raw Stripe webhook payload to an order outcome.
type StripeParser interface {
	ParseWebhook(payload []byte, signature string) (string, models.PaymentOutcome, error)
}

// OrderStore is the subset of the order storage layer the webhook uses
// to record payment metadata on notifications that are not yet terminal.
type OrderStore interface {
	UpdatePaymentMeta(ctx context.Context, orderID, externalRef, paymentMethod string) error
}

type WebhookHandler struct {
	settler  Settler
	midtrans MidtransVerifier
	stripe   StripeParser
	orders   OrderStore
	logger   *logger.Logger
}

func NewWebhookHandler(settler Settler, midtrans MidtransVerifier, stripe StripeParser, orders OrderStore, logger *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		settler:  settler,
		midtrans: midtrans,
		stripe:   stripe,
		orders:   orders,
		logger:   logger,
	}
}

// MidtransWebhook receives HTTP notifications from Midtrans. The
// signature is checked before any payload field is trusted. Midtrans
// retries on non-2xx, so a notification for an already settled order
// returns 200 to stop the retry loop.
func (h *WebhookHandler) MidtransWebhook(c *gin.Context) {
	var notification models.MidtransNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	if !h.midtrans.VerifySignature(&notification) {
		h.logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("invalid midtrans signature for order %s", notification.OrderID))
		c.JSON(http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "Invalid signature"))
		return
	}

	outcome := h.midtrans.MapTransactionStatus(notification.TransactionStatus, notification.FraudStatus)
	h.logger.LogPayment("midtrans", notification.OrderID,
		fmt.Sprintf("notification: status=%s fraud=%s -> %s", notification.TransactionStatus, notification.FraudStatus, outcome))

	if outcome == models.OutcomePending {
		// Not terminal yet. Record the gateway reference so a later
		// status query can find the transaction, but settle nothing.
		if err := h.orders.UpdatePaymentMeta(c.Request.Context(), notification.OrderID, notification.TransactionID, notification.PaymentType); err != nil {
			h.logger.Error("WEBHOOK", fmt.Sprintf("failed to record payment meta for order %s: %v", notification.OrderID, err))
		}
		c.JSON(http.StatusOK, utils.SuccessResponse("Notification accepted", nil))
		return
	}

	h.settle(c, notification.OrderID, outcome, notification.TransactionID)
}

// StripeWebhook receives Checkout session events from Stripe.
func (h *WebhookHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	orderID, outcome, err := h.stripe.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("stripe webhook rejected: %v", err))
		c.JSON(http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "Invalid signature"))
		return
	}
	if orderID == "" || outcome == models.OutcomePending {
		// Event type we do not act on.
		c.JSON(http.StatusOK, utils.SuccessResponse("Event ignored", nil))
		return
	}

	h.settle(c, orderID, outcome, "")
}

func (h *WebhookHandler) settle(c *gin.Context, orderID string, outcome models.PaymentOutcome, externalRef string) {
	receipt, err := h.settler.Settle(c.Request.Context(), orderID, outcome, externalRef)

	var settled *settlement.AlreadySettledError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, utils.SuccessResponse("Order settled", receipt))
	case errors.As(err, &settled):
		// Duplicate delivery. The first notification won; acknowledge so
		// the gateway stops retrying.
		h.logger.LogSettlement(orderID, string(outcome), fmt.Sprintf("duplicate notification, order already %s", settled.Status))
		c.JSON(http.StatusOK, utils.SuccessResponse("Order already settled", gin.H{"status": settled.Status}))
	case errors.Is(err, settlement.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, utils.ErrorResponse("Order not found", orderID))
	default:
		h.logger.Error("WEBHOOK", fmt.Sprintf("settlement failed for order %s: %v", orderID, err))
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Settlement failed", err.Error()))
	}
}

// Router wires the webhook endpoints onto a gin engine. Payment
// callbacks listen on a dedicated port, separate from the public API.
func (h *WebhookHandler) Router(middleware ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware...)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.POST("/webhook/midtrans", h.MidtransWebhook)
	if h.stripe != nil {
		r.POST("/webhook/stripe", h.StripeWebhook)
	}
	return r
}
