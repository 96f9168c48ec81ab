package appointments

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// Handler exposes the appointment lifecycle over HTTP.
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

// Routes mounts the authenticated appointment endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/me", h.ListMine)
	r.Get("/doctor", h.ListForDoctor)
	r.Get("/doctor/patients", h.ListDoctorPatients)
	r.Get("/doctor/patients/{patientID}", h.DoctorPatientHistory)
	r.Get("/{appointmentID}", h.Get)
	r.Post("/{appointmentID}/cancel", h.Cancel)
	r.Post("/{appointmentID}/reschedule", h.Reschedule)
}

// Slots handles GET /doctors/{doctorID}/slots?date=YYYY-MM-DD
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	availability, err := h.service.AvailableSlots(r.Context(), chi.URLParam(r, "doctorID"), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, "available slots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "availability": availability})
}

// Create handles POST /appointments
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := decodeBody(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	appt, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		h.fail(w, r, "create appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "appointment": appt})
}

// Get handles GET /appointments/{appointmentID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	id, err := appointmentID(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	appt, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, "get appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointment": appt})
}

// Cancel handles POST /appointments/{appointmentID}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	id, err := appointmentID(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req CancelRequest
	if err := decodeBody(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	appt, err := h.service.Cancel(r.Context(), caller, id, req.Reason)
	if err != nil {
		h.fail(w, r, "cancel appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointment": appt})
}

// Reschedule handles POST /appointments/{appointmentID}/reschedule
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	id, err := appointmentID(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req RescheduleRequest
	if err := decodeBody(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	appt, err := h.service.Reschedule(r.Context(), caller, id, req)
	if err != nil {
		h.fail(w, r, "reschedule appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointment": appt})
}

// ListMine handles GET /appointments/me
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := h.service.ListForPatient(r.Context(), caller, limit, offset)
	if err != nil {
		h.fail(w, r, "list patient appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointments": nonNil(list)})
}

// ListForDoctor handles GET /appointments/doctor?date=YYYY-MM-DD
func (h *Handler) ListForDoctor(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListForDoctor(r.Context(), caller, r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, "list doctor appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointments": nonNil(list)})
}

// ListDoctorPatients handles GET /appointments/doctor/patients
func (h *Handler) ListDoctorPatients(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	patients, err := h.service.ListDoctorPatients(r.Context(), caller)
	if err != nil {
		h.fail(w, r, "list doctor patients", err)
		return
	}
	if patients == nil {
		patients = []DoctorPatient{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "patients": patients})
}

// DoctorPatientHistory handles GET /appointments/doctor/patients/{patientID}
func (h *Handler) DoctorPatientHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	history, err := h.service.DoctorPatientHistory(r.Context(), caller, chi.URLParam(r, "patientID"))
	if err != nil {
		h.fail(w, r, "doctor patient history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"patient":          history.Patient,
		"appointmentCount": history.AppointmentCount,
		"appointments":     history.Appointments,
	})
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

func appointmentID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("valid appointment id is required")
	}
	return id, nil
}

// decodeBody decodes a JSON body; an empty body leaves v at its zero value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Invalid("invalid request body")
	}
	return nil
}

func nonNil(list []Appointment) []Appointment {
	if list == nil {
		return []Appointment{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
