package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// Handler exposes chat over HTTP for clients without a live socket.
type Handler struct {
	service *Service
	maxFile int64
	logger  *logging.Logger
}

func NewHandler(service *Service, maxFile int64, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if maxFile <= 0 {
		maxFile = DefaultMaxFile
	}
	return &Handler{service: service, maxFile: maxFile, logger: logger}
}

// Routes mounts the authenticated chat endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/me", h.ListMine)
	r.Post("/conversation", h.Open)
	r.Get("/undelivered", h.Undelivered)
	r.Get("/{conversationID}/messages", h.ListMessages)
	r.Post("/{conversationID}/messages", h.Send)
	r.Get("/{conversationID}/messages/{messageID}/photo", h.Media)
	r.Get("/{conversationID}/messages/{messageID}/file", h.Media)
	r.Post("/{conversationID}/messages/{messageID}/ack", h.Ack)
}

// ListMine handles GET /chats/me
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), caller)
	if err != nil {
		h.fail(w, r, "list conversations", err)
		return
	}
	if list == nil {
		list = []Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversations": list})
}

// Open handles POST /chats/conversation
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	var req struct {
		DoctorID  string `json:"doctorId"`
		PatientID string `json:"patientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apperr.Write(w, apperr.Invalid("invalid request body"))
		return
	}
	counterpart := req.DoctorID
	if caller.IsDoctor() {
		counterpart = req.PatientID
	}
	conv, err := h.service.Open(r.Context(), caller, counterpart)
	if err != nil {
		h.fail(w, r, "open conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversation": conv})
}

// ListMessages handles GET /chats/{conversationID}/messages?limit=&before=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	msgs, err := h.service.ListMessages(r.Context(), caller, chi.URLParam(r, "conversationID"), q.Get("before"), limit)
	if err != nil {
		h.fail(w, r, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": msgs})
}

// Send handles POST /chats/{conversationID}/messages as JSON or as
// multipart with one "photo" or "file" part.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	req, upload, err := h.decodeSend(w, r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	req.ConversationID = chi.URLParam(r, "conversationID")
	msg, err := h.service.Send(r.Context(), caller, req, upload)
	if err != nil {
		h.fail(w, r, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": msg, "clientMessageId": nullable(msg.ClientMessageID)})
}

func (h *Handler) decodeSend(w http.ResponseWriter, r *http.Request) (SendRequest, *Upload, error) {
	var req SendRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, nil, apperr.Invalid("invalid request body")
		}
		return req, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFile+(1<<20))
	if err := r.ParseMultipartForm(h.maxFile); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, nil, apperr.Invalid("file exceeds %d bytes", h.maxFile)
		}
		return req, nil, apperr.Invalid("invalid multipart body")
	}
	req.Ciphertext = r.FormValue("ciphertext")
	req.SenderCiphertext = r.FormValue("senderCiphertext")
	req.ClientMessageID = r.FormValue("clientMessageId")

	for _, field := range []string{"photo", "file"} {
		file, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return req, nil, apperr.Invalid("invalid %s upload", field)
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, h.maxFile+1))
		if err != nil {
			return req, nil, apperr.Invalid("invalid %s upload", field)
		}
		return req, &Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}
	return req, nil, nil
}

// Media handles GET /chats/{conversationID}/messages/{messageID}/photo|file
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	obj, err := h.service.OpenMedia(r.Context(), caller, chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"))
	if err != nil {
		h.fail(w, r, "download media", err)
		return
	}
	defer obj.Body.Close()

	disposition := "attachment"
	if strings.HasSuffix(r.URL.Path, "/photo") {
		disposition = "inline"
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, url.PathEscape(obj.Filename)))
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("chat: media stream interrupted", "error", err)
	}
}

// Ack handles POST /chats/{conversationID}/messages/{messageID}/ack
func (h *Handler) Ack(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	if err := h.service.Ack(r.Context(), caller, chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID")); err != nil {
		h.fail(w, r, "ack message", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Undelivered handles GET /chats/undelivered?limit=
func (h *Handler) Undelivered(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrFail(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.Undelivered(r.Context(), caller, limit)
	if err != nil {
		h.fail(w, r, "fetch undelivered", err)
		return
	}
	if entries == nil {
		entries = []QueuedEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": entries})
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
