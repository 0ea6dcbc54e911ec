package order_api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tiketku/internal/auth"
	"tiketku/internal/inventory"
	"tiketku/internal/models"
	"tiketku/internal/order"
	"tiketku/internal/order/db"
	"tiketku/internal/settlement"
	"tiketku/internal/utils"
)

type Handler struct {
	Service *order.OrderService
}

func NewHandler(service *order.OrderService) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders", h.MyOrders)
	r.Get("/orders/{orderID}", h.GetOrder)
	r.Post("/orders/{orderID}/cancel", h.CancelOrder)
	r.Get("/orders/{orderID}/snap", h.SnapToken)
	r.Post("/orders/{orderID}/confirm-payment", h.ConfirmPayment)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing user identity"))
		return
	}

	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	resp, err := h.Service.CreateOrder(r.Context(), userID, req)
	if err != nil {
		status, message := mapOrderError(err)
		writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("Order created", resp))
}

func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing user identity"))
		return
	}

	orders, err := h.Service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load orders", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Orders", orders))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	o, err := h.Service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", orderID))
			return
		}
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load order", err.Error()))
		return
	}
	if o.UserID != auth.UserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "order belongs to another user"))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Order", o))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	userID := auth.UserID(r.Context())

	receipt, err := h.Service.CancelOrder(r.Context(), orderID, userID)
	if err != nil {
		status, message := mapOrderError(err)
		writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Order cancelled", receipt))
}

func (h *Handler) SnapToken(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	userID := auth.UserID(r.Context())

	snap, err := h.Service.SnapToken(r.Context(), orderID, userID)
	if err != nil {
		status, message := mapOrderError(err)
		writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment session", snap))
}

// ConfirmPayment settles an order PAID out of band, for counter sales
// and bank-transfer flows the staff verifies manually.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	receipt, err := h.Service.ConfirmPayment(r.Context(), orderID)
	if err != nil {
		status, message := mapOrderError(err)
		writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment confirmed", receipt))
}

func mapOrderError(err error) (int, string) {
	var settled *settlement.AlreadySettledError
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, settlement.ErrOrderNotFound):
		return http.StatusNotFound, "Order not found"
	case errors.Is(err, order.ErrNotOwner):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, order.ErrEmptyOrder):
		return http.StatusBadRequest, "Order has no items"
	case errors.Is(err, order.ErrEventNotFound):
		return http.StatusNotFound, "Event not found"
	case errors.Is(err, order.ErrEventInactive):
		return http.StatusConflict, "Event is not open for sale"
	case errors.Is(err, inventory.ErrTicketTypeNotFound):
		return http.StatusNotFound, "Ticket type not found"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict, "Not enough tickets left"
	case errors.Is(err, order.ErrNotPending):
		return http.StatusConflict, "Order is not pending"
	case errors.Is(err, order.ErrOrderExpired):
		return http.StatusGone, "Order has expired"
	case errors.As(err, &settled):
		return http.StatusConflict, "Order already settled"
	default:
		return http.StatusInternalServerError, "Request failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
