package profiles

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/internal/scheduling"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// Handler serves doctor directory and doctor self-service endpoints.
type Handler struct {
	store *Store
	step  int
	log   *logging.Logger
}

// NewHandler creates a profiles handler. step is the slot granularity used
// to report whether a doctor is bookable.
func NewHandler(store *Store, step int, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if step <= 0 {
		step = scheduling.DefaultStepMinutes
	}
	return &Handler{store: store, step: step, log: logger}
}

type doctorView struct {
	*Doctor
	IsAvailable bool `json:"isAvailable"`
}

func (h *Handler) view(d *Doctor) doctorView {
	return doctorView{Doctor: d, IsAvailable: d.Timing.Bookable(h.step)}
}

// ListDoctors handles GET /doctors
func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	doctors, err := h.store.ListApprovedDoctors(r.Context(), limit, offset)
	if err != nil {
		h.log.Error("list doctors failed", "error", err)
		apperr.Write(w, err)
		return
	}
	out := make([]doctorView, 0, len(doctors))
	for i := range doctors {
		out = append(out, h.view(&doctors[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "doctors": out})
}

// GetDoctor handles GET /doctors/{doctorID}
func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		apperr.Write(w, apperr.Invalid("valid doctorId is required"))
		return
	}
	doctor, err := h.store.GetDoctor(r.Context(), id)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if !doctor.Approved() {
		apperr.Write(w, apperr.NotFound("doctor not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "doctor": h.view(doctor)})
}

// UpdateOnlineStatus handles PUT /doctors/me/online-status
func (h *Handler) UpdateOnlineStatus(w http.ResponseWriter, r *http.Request) {
	doctorID, err := doctorFromRequest(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var body struct {
		IsOnline *bool `json:"isOnline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IsOnline == nil {
		apperr.Write(w, apperr.Invalid("isOnline must be a boolean"))
		return
	}
	doctor, err := h.store.SetDoctorOnline(r.Context(), doctorID, *body.IsOnline)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	h.log.Info("doctor online status changed", "doctor_id", doctorID, "online", doctor.IsOnline)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "isOnline": doctor.IsOnline})
}

// UpdateTiming handles PUT /doctors/me/timing
func (h *Handler) UpdateTiming(w http.ResponseWriter, r *http.Request) {
	doctorID, err := doctorFromRequest(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var timing scheduling.Timing
	if err := json.NewDecoder(r.Body).Decode(&timing); err != nil {
		apperr.Write(w, apperr.Invalid("invalid request body"))
		return
	}
	doctor, err := h.store.UpdateDoctorTiming(r.Context(), doctorID, timing)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"timing":  doctor.Timing,
		"slots":   scheduling.GenerateSlots(doctor.Timing, h.step),
	})
}

// SetApproval handles PUT /admin/doctors/{doctorID}/approval
func (h *Handler) SetApproval(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		apperr.Write(w, apperr.Invalid("valid doctorId is required"))
		return
	}
	var body struct {
		Status ApprovalStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.Write(w, apperr.Invalid("invalid request body"))
		return
	}
	doctor, err := h.store.SetDoctorApproval(r.Context(), id, body.Status)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	h.log.Info("doctor approval updated", "doctor_id", id, "status", doctor.ApprovalStatus)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "doctor": h.view(doctor)})
}

func doctorFromRequest(r *http.Request) (uuid.UUID, error) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok {
		return uuid.Nil, apperr.Unauthorized("unauthorized")
	}
	if !caller.IsDoctor() {
		return uuid.Nil, apperr.Forbidden("only doctors can update their schedule")
	}
	id, err := uuid.Parse(caller.ProfileID)
	if err != nil {
		return uuid.Nil, apperr.Forbidden("doctor profile is invalid")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
