package ticket_api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tiketku/internal/auth"
	"tiketku/internal/tickets"
	"tiketku/internal/tickets/qr"
	"tiketku/internal/utils"
)

type Handler struct {
	Service *tickets.Service
}

func NewHandler(service *tickets.Service) *Handler {
	return &Handler{Service: service}
}

// Routes mounts authenticated ticket endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tickets", h.MyTickets)
	r.Get("/tickets/{qrCode}/qr.png", h.QRImage)
	r.Get("/orders/{orderID}/tickets", h.TicketsByOrder)
}

// PublicRoutes mounts endpoints that need no authentication.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/events/{eventID}/availability", h.EventAvailability)
	r.Get("/ticket-types/{ticketTypeID}/availability", h.Availability)
}

func (h *Handler) MyTickets(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing user identity"))
		return
	}

	list, err := h.Service.GetByUser(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load tickets", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Tickets", list))
}

func (h *Handler) TicketsByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	list, err := h.Service.GetByOrder(r.Context(), orderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load tickets", err.Error()))
		return
	}

	// Only the buyer sees their tickets.
	userID := auth.UserID(r.Context())
	for _, t := range list {
		if t.UserID != userID {
			writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "order belongs to another user"))
			return
		}
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Tickets", list))
}

// QRImage serves the ticket's QR code as a PNG for wallet apps and
// e-mail clients that cannot render codes themselves.
func (h *Handler) QRImage(w http.ResponseWriter, r *http.Request) {
	qrCode := chi.URLParam(r, "qrCode")

	ticket, err := h.Service.GetByQRCode(r.Context(), qrCode)
	if err != nil {
		if errors.Is(err, tickets.ErrTicketNotFound) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", qrCode))
			return
		}
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load ticket", err.Error()))
		return
	}
	if ticket.UserID != auth.UserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "ticket belongs to another user"))
		return
	}

	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	png, err := qr.RenderPNG(ticket.QRCode, size)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to render QR code", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(png)
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	ticketTypeID := chi.URLParam(r, "ticketTypeID")

	availability, err := h.Service.Availability(r.Context(), ticketTypeID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket type not found", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Availability", availability))
}

func (h *Handler) EventAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	availability, err := h.Service.EventAvailability(r.Context(), eventID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load availability", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Availability", availability))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
