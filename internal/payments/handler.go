package payments

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

const maxWebhookBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the patient payment endpoints; they need a caller.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/appointments/{appointmentID}/order", h.CreateOrder)
	r.Post("/appointments/{appointmentID}/verify", h.Verify)
	r.Post("/appointments/{appointmentID}/fail", h.Fail)
}

// CreateOrder handles POST /payments/appointments/{appointmentID}/order
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	result, err := h.service.CreateOrder(r.Context(), caller, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.fail(w, r, "create order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "keyId": result.KeyID, "order": result.Order})
}

// Verify handles POST /payments/appointments/{appointmentID}/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apperr.Write(w, apperr.Invalid("invalid request body"))
		return
	}
	appt, err := h.service.Verify(r.Context(), caller, chi.URLParam(r, "appointmentID"), req)
	if err != nil {
		h.fail(w, r, "verify payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointment": appt})
}

// Fail handles POST /payments/appointments/{appointmentID}/fail
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	if err := h.service.Fail(r.Context(), caller, chi.URLParam(r, "appointmentID")); err != nil {
		h.fail(w, r, "fail payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Webhook handles POST /payments/webhook. It is unauthenticated; the body
// signature is the credential.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		apperr.Write(w, apperr.Invalid("invalid body"))
		return
	}
	err = h.service.HandleWebhook(r.Context(), body, r.Header.Get("X-Razorpay-Signature"), r.Header.Get("X-Razorpay-Event-Id"))
	if err != nil {
		h.fail(w, r, "razorpay webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Error(op+" failed", "error", err, "path", r.URL.Path)
	}
	apperr.Write(w, err)
}

func callerOrFail(w http.ResponseWriter, r *http.Request) (identity.Caller, bool) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("unauthorized"))
		return identity.Caller{}, false
	}
	return caller, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
