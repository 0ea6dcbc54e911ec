package stripegw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"tiketku/internal/config"
	"tiketku/internal/logger"
	"tiketku/internal/models"
)

// Gateway creates Stripe Checkout sessions as an alternative to Midtrans
// Snap. The order ID rides in ClientReferenceID so the webhook can map a
// completed session back to an order.
type Gateway struct {
	webhookSecret string
	successURL    string
	cancelURL     string
	log           *logger.Logger
}

func NewGateway(cfg config.StripeConfig, successURL, cancelURL string, log *logger.Logger) *Gateway {
	stripe.Key = cfg.SecretKey
	return &Gateway{
		webhookSecret: cfg.WebhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		log:           log,
	}
}

// CreateTransaction opens a Checkout session for the order. The returned
// token is the session ID and the redirect URL is Stripe's hosted page.
func (g *Gateway) CreateTransaction(ctx context.Context, order *models.Order) (*models.SnapResponse, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(order.Items))
	for _, item := range order.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(string(stripe.CurrencyIDR)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.TicketTypeID),
				},
				// IDR is a zero-decimal currency on Stripe.
				UnitAmount: stripe.Int64(int64(item.UnitPrice)),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		ClientReferenceID: stripe.String(order.ID),
		CustomerEmail:     stripe.String(order.BuyerEmail),
		SuccessURL:        stripe.String(fmt.Sprintf("%s/success/%s", g.successURL, order.ID)),
		CancelURL:         stripe.String(fmt.Sprintf("%s/cancel/%s", g.cancelURL, order.ID)),
		ExpiresAt:         stripe.Int64(order.ExpiresAt.Unix()),
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	if g.log != nil {
		g.log.LogPayment("stripe", order.ID, "checkout session created")
	}
	return &models.SnapResponse{Token: sess.ID, RedirectURL: sess.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps the event to
// an (orderID, outcome) pair. Events that carry no settlement meaning
// return an empty order ID.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (string, models.PaymentOutcome, error) {
	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, opts)
	if err != nil {
		return "", "", fmt.Errorf("webhook signature verification failed: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		sess, err := parseSession(&event)
		if err != nil {
			return "", "", err
		}
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return sess.ClientReferenceID, models.OutcomePending, nil
		}
		return sess.ClientReferenceID, models.OutcomePaid, nil
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		sess, err := parseSession(&event)
		if err != nil {
			return "", "", err
		}
		return sess.ClientReferenceID, models.OutcomeCancelled, nil
	default:
		return "", models.OutcomePending, nil
	}
}

func parseSession(event *stripe.Event) (*stripe.CheckoutSession, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session: %w", err)
	}
	return &sess, nil
}
