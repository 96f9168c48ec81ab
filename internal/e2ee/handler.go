package e2ee

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

const maxBundleBytes = 256 << 10

// Handler publishes and serves key bundles.
type Handler struct {
	store  *Store
	logger *logging.Logger
}

func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Routes mounts the authenticated key directory.
func (h *Handler) Routes(r chi.Router) {
	r.Put("/me/bundle", h.PutMine)
	r.Get("/bundles/{role}/{profileID}", h.GetPeer)
}

// PutMine handles PUT /e2ee/me/bundle
func (h *Handler) PutMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.CallerFromContext(r.Context())
	if !ok || caller.UserID == "" {
		apperr.Write(w, apperr.Unauthorized("unauthorized"))
		return
	}
	var req BundleRequest
	if r.Body != nil {
		body := http.MaxBytesReader(w, r.Body, maxBundleBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			apperr.Write(w, apperr.Invalid("invalid request body"))
			return
		}
	}
	bundle, problem := req.Normalize(caller.UserID)
	if problem != "" {
		apperr.Write(w, apperr.Invalid("%s", problem))
		return
	}
	saved, err := h.store.Upsert(r.Context(), bundle)
	if err != nil {
		h.fail(w, r, "upsert key bundle", err)
		return
	}
	h.logger.Info("key bundle published", "user_id", caller.UserID, "prekeys", len(saved.PreKeys))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bundle": saved})
}

// GetPeer handles GET /e2ee/bundles/{role}/{profileID}
func (h *Handler) GetPeer(w http.ResponseWriter, r *http.Request) {
	profileID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "profileID")))
	if err != nil {
		apperr.Write(w, apperr.Invalid("valid profileId is required"))
		return
	}
	role := identity.Role(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "role"))))
	if role != identity.RoleDoctor && role != identity.RolePatient {
		apperr.Write(w, apperr.Invalid("valid role is required"))
		return
	}
	userID, err := h.store.PeerUserID(r.Context(), role, profileID)
	if err != nil {
		h.fail(w, r, "resolve peer", err)
		return
	}
	bundle, err := h.store.Get(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "get key bundle", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bundle": bundle})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Error(op+" failed", "error", err, "path", r.URL.Path)
	}
	apperr.Write(w, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
