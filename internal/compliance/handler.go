package compliance

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// Handler serves the audit trail to admins.
type Handler struct {
	audit  *AuditService
	logger *logging.Logger
}

func NewHandler(audit *AuditService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{audit: audit, logger: logger}
}

// ListEvents handles GET /admin/audit?appointmentId=&doctorId=&eventType=&from=&to=&limit=&offset=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	h.respond(w, r, filter)
}

// AppointmentEvents handles GET /admin/appointments/{appointmentID}/audit
func (h *Handler) AppointmentEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		apperr.Write(w, apperr.Invalid("valid appointment id is required"))
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	filter.AppointmentID = id.String()
	h.respond(w, r, filter)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, filter AuditFilter) {
	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("query audit events failed", "error", err, "path", r.URL.Path)
		apperr.Write(w, err)
		return
	}
	if events == nil {
		events = []AuditEvent{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "events": events})
}

func filterFromQuery(r *http.Request) (AuditFilter, error) {
	q := r.URL.Query()
	filter := AuditFilter{
		AppointmentID: strings.TrimSpace(q.Get("appointmentId")),
		DoctorID:      strings.TrimSpace(q.Get("doctorId")),
		EventType:     AuditEventType(strings.TrimSpace(q.Get("eventType"))),
		Limit:         defaultAuditLimit,
	}
	if filter.AppointmentID != "" {
		if _, err := uuid.Parse(filter.AppointmentID); err != nil {
			return filter, apperr.Invalid("appointmentId must be a UUID")
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, apperr.Invalid("limit must be a positive integer")
		}
		filter.Limit = min(n, maxAuditLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, apperr.Invalid("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	var err error
	if filter.StartTime, err = parseTime(q.Get("from"), "from"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTime(q.Get("to"), "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTime(raw, field string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperr.Invalid("%s must be RFC3339", field)
	}
	return t, nil
}
