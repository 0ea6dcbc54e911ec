package gate_api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tiketku/internal/gate"
	"tiketku/internal/models"
	"tiketku/internal/utils"
)

type Handler struct {
	Service *gate.Service
}

func NewHandler(service *gate.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/gates/validate", h.Validate)
	r.Get("/gates/{gateID}/scans", h.RecentScans)
	r.Get("/events/{eventID}/gates", h.ListGates)
	r.Post("/events/{eventID}/gates", h.CreateGate)
}

// Validate scans a ticket at a gate. Rejections carry operator-facing
// messages in Indonesian; each maps to a distinct HTTP status so scanner
// apps can branch without parsing text.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Permintaan tidak valid", err.Error()))
		return
	}
	if req.QRCode == "" || req.GateEntryID == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Permintaan tidak valid", "qr_code dan gate_entry_id wajib diisi"))
		return
	}

	result, err := h.Service.Validate(r.Context(), req.QRCode, req.GateEntryID)
	if err != nil {
		status, message := mapValidationError(err)
		writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Tiket valid, silakan masuk", result))
}

func mapValidationError(err error) (int, string) {
	var notActive *gate.NotActiveError
	switch {
	case errors.Is(err, gate.ErrTicketNotFound):
		return http.StatusNotFound, "Tiket tidak ditemukan"
	case errors.As(err, &notActive):
		switch notActive.Status {
		case models.TicketUsed:
			return http.StatusConflict, "Tiket sudah digunakan"
		case models.TicketCancelled:
			return http.StatusGone, "Tiket sudah dibatalkan"
		case models.TicketExpired:
			return http.StatusGone, "Tiket sudah kedaluwarsa"
		default:
			return http.StatusConflict, "Tiket tidak aktif"
		}
	case errors.Is(err, gate.ErrGateNotFound):
		return http.StatusNotFound, "Gerbang tidak ditemukan"
	case errors.Is(err, gate.ErrWrongGate):
		return http.StatusForbidden, "Tiket tidak berlaku di gerbang ini"
	case errors.Is(err, gate.ErrEventNotStarted):
		return http.StatusForbidden, "Acara belum dimulai"
	case errors.Is(err, gate.ErrEventEnded):
		return http.StatusForbidden, "Acara sudah berakhir"
	default:
		return http.StatusInternalServerError, "Validasi tiket gagal"
	}
}

func (h *Handler) RecentScans(w http.ResponseWriter, r *http.Request) {
	gateID := chi.URLParam(r, "gateID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	scans, err := h.Service.RecentScans(r.Context(), gateID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Gagal memuat riwayat scan", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Riwayat scan", scans))
}

func (h *Handler) ListGates(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	gates, err := h.Service.ListGates(r.Context(), eventID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Gagal memuat daftar gerbang", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Daftar gerbang", gates))
}

func (h *Handler) CreateGate(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req struct {
		Name     string `json:"name"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Permintaan tidak valid", err.Error()))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Permintaan tidak valid", "name wajib diisi"))
		return
	}

	created, err := h.Service.CreateGate(r.Context(), eventID, req.Name, req.Location)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Gagal membuat gerbang", err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("Gerbang dibuat", created))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
