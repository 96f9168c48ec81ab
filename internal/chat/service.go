// Package chat relays end-to-end encrypted messages between a doctor and a
// patient who share an online consultation. Entitlement is checked against
// the appointment table on every join, send and ack so a cancellation
// revokes access at once.
package chat

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/blobstore"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.chat")

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	DefaultMaxFile  = 10 << 20
)

const notEntitledMessage = "chat is only available for online consultation appointments"

type Store interface {
	UpsertConversation(ctx context.Context, doctorID, patientID uuid.UUID) (*Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListForProfile(ctx context.Context, role identity.Role, profileID uuid.UUID) ([]Conversation, error)
	HasOnlineAppointment(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
	InsertMessage(ctx context.Context, m *Message) error
	TouchLastMessage(ctx context.Context, conversationID uuid.UUID, at time.Time, msgType MessageType) error
	GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error)
}

type Queue interface {
	Enqueue(ctx context.Context, role identity.Role, profileID, id string, payload any) error
	Fetch(ctx context.Context, role identity.Role, profileID string, limit int) ([]QueuedEntry, error)
	Ack(ctx context.Context, role identity.Role, profileID, id string) (bool, error)
}

// Rooms is the live fan-out surface.
type Rooms interface {
	EmitToRoom(room, event string, data any)
	RoomSize(room string) int
}

type BlobStore interface {
	Put(ctx context.Context, filename, contentType string, data []byte) (blobstore.Blob, error)
	Open(ctx context.Context, key string) (*blobstore.Object, error)
	Delete(ctx context.Context, key string) error
}

type Metrics interface {
	ObserveChatSend(outcome string)
	ObserveOfflineQueue(op string)
}

// Service implements the chat operations shared by HTTP and sockets.
type Service struct {
	store   Store
	queue   Queue
	rooms   Rooms
	blobs   BlobStore
	metrics Metrics
	logger  *logging.Logger
	maxFile int64
}

func NewService(store Store, queue Queue, rooms Rooms, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, queue: queue, rooms: rooms, logger: logger, maxFile: DefaultMaxFile}
}

func (s *Service) WithBlobs(b BlobStore) *Service {
	s.blobs = b
	return s
}

func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// WithMaxFileBytes caps attachment size; non-positive keeps the default.
func (s *Service) WithMaxFileBytes(n int64) *Service {
	if n > 0 {
		s.maxFile = n
	}
	return s
}

// EnsureConversation creates the pair's conversation if needed and tells
// both parties. Booking an online consultation calls it.
func (s *Service) EnsureConversation(ctx context.Context, doctorID, patientID uuid.UUID) error {
	conv, err := s.store.UpsertConversation(ctx, doctorID, patientID)
	if err != nil {
		return err
	}
	s.announce(conv)
	return nil
}

// Open returns the caller's conversation with counterpartID, creating it
// when the pair is entitled.
func (s *Service) Open(ctx context.Context, caller identity.Caller, counterpartID string) (*Conversation, error) {
	ctx, span := tracer.Start(ctx, "chat.open")
	defer span.End()

	self, err := memberProfile(caller)
	if err != nil {
		return nil, err
	}
	other, err := uuid.Parse(strings.TrimSpace(counterpartID))
	if err != nil {
		if caller.IsDoctor() {
			return nil, apperr.Invalid("valid patientId is required")
		}
		return nil, apperr.Invalid("valid doctorId is required")
	}
	doctorID, patientID := self, other
	if caller.IsPatient() {
		doctorID, patientID = other, self
	}
	if err := s.requireEntitlement(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	conv, err := s.store.UpsertConversation(ctx, doctorID, patientID)
	if err != nil {
		return nil, err
	}
	s.announce(conv)
	return conv, nil
}

// List returns the caller's conversations, each with its peer filled in.
func (s *Service) List(ctx context.Context, caller identity.Caller) ([]Conversation, error) {
	self, err := memberProfile(caller)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListForProfile(ctx, caller.Role, self)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if caller.IsDoctor() {
			list[i].Peer = list[i].Patient
		} else {
			list[i].Peer = list[i].Doctor
		}
	}
	return list, nil
}

// Join authorises the caller to enter the conversation's live room.
func (s *Service) Join(ctx context.Context, caller identity.Caller, conversationID string) (*Conversation, error) {
	return s.authorize(ctx, caller, conversationID, true)
}

// ListMessages pages backwards through history. The page is returned oldest
// first; before is the id of the oldest message already held.
func (s *Service) ListMessages(ctx context.Context, caller identity.Caller, conversationID, before string, limit int) ([]Message, error) {
	conv, err := s.authorize(ctx, caller, conversationID, false)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	var cursor *uuid.UUID
	if before = strings.TrimSpace(before); before != "" {
		id, err := uuid.Parse(before)
		if err != nil {
			return nil, apperr.Invalid("before must be a message id")
		}
		cursor = &id
	}
	return s.store.ListMessages(ctx, conv.ID, cursor, limit)
}

// Send persists a message and fans it out. A recipient without a live
// connection also gets the message in the offline queue.
func (s *Service) Send(ctx context.Context, caller identity.Caller, req SendRequest, upload *Upload) (*Message, error) {
	ctx, span := tracer.Start(ctx, "chat.send")
	defer span.End()

	msg, err := s.send(ctx, caller, req, upload)
	if err != nil {
		span.RecordError(err)
		s.observeSend("rejected")
		return nil, err
	}
	span.SetAttributes(attribute.String("clinic.conversation_id", msg.ConversationID.String()))
	return msg, nil
}

func (s *Service) send(ctx context.Context, caller identity.Caller, req SendRequest, upload *Upload) (*Message, error) {
	ciphertext := strings.TrimSpace(req.Ciphertext)
	conv, err := s.authorize(ctx, caller, req.ConversationID, true)
	if err != nil {
		return nil, err
	}
	if ciphertext == "" {
		return nil, apperr.Invalid("ciphertext is required")
	}
	sender, _ := uuid.Parse(caller.ProfileID)

	msg := &Message{
		ID:               uuid.New(),
		ConversationID:   conv.ID,
		SenderRole:       caller.Role,
		SenderProfileID:  sender,
		Type:             MessageText,
		Ciphertext:       ciphertext,
		SenderCiphertext: strings.TrimSpace(req.SenderCiphertext),
		ClientMessageID:  strings.TrimSpace(req.ClientMessageID),
	}
	if upload != nil {
		msgType, err := s.checkUpload(upload)
		if err != nil {
			return nil, err
		}
		if s.blobs == nil {
			return nil, apperr.Unavailable("file uploads are not configured")
		}
		blob, err := s.blobs.Put(ctx, upload.Filename, upload.ContentType, upload.Data)
		if err != nil {
			return nil, fmt.Errorf("chat: store attachment: %w", err)
		}
		msg.Type = msgType
		msg.Media = &blob
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		if msg.Media != nil {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), msg.Media.Key); delErr != nil {
				s.logger.Warn("chat: orphaned attachment", "key", msg.Media.Key, "error", delErr)
			}
		}
		return nil, err
	}
	if err := s.store.TouchLastMessage(ctx, conv.ID, msg.CreatedAt, msg.Type); err != nil {
		s.logger.Warn("chat: last message cache not updated", "conversation_id", conv.ID, "error", err)
	}
	conv.LastMessageAt = &msg.CreatedAt
	conv.LastMessageType = msg.Type

	frame := map[string]any{"success": true, "message": msg, "clientMessageId": nullable(msg.ClientMessageID)}
	s.rooms.EmitToRoom(conv.Room(), EventMessageNew, frame)
	s.announce(conv)

	outcome := "delivered"
	recipientRole, recipientID := conv.Counterpart(caller)
	if s.rooms.RoomSize(identity.UserRoom(recipientRole, recipientID)) == 0 {
		outcome = "queued"
		if err := s.queue.Enqueue(ctx, recipientRole, recipientID, msg.ID.String(), frame); err != nil {
			outcome = "queue_failed"
			s.logger.Warn("chat: offline enqueue failed", "message_id", msg.ID, "error", err)
		} else {
			s.observeQueue("enqueue")
		}
	}
	s.observeSend(outcome)
	return msg, nil
}

// Ack confirms receipt of messageID by the recipient and clears its
// offline entry. Repeated acks succeed.
func (s *Service) Ack(ctx context.Context, caller identity.Caller, conversationID, messageID string) error {
	conv, err := s.authorize(ctx, caller, conversationID, true)
	if err != nil {
		return err
	}
	msgID, err := uuid.Parse(strings.TrimSpace(messageID))
	if err != nil {
		return apperr.Invalid("valid messageId is required")
	}
	msg, err := s.store.GetMessage(ctx, conv.ID, msgID)
	if err != nil {
		return err
	}
	if msg.SenderRole == caller.Role && msg.SenderProfileID.String() == caller.ProfileID {
		return apperr.Forbidden("sender cannot ack")
	}
	if _, err := s.queue.Ack(ctx, caller.Role, caller.ProfileID, msgID.String()); err != nil {
		return err
	}
	s.observeQueue("ack")
	return nil
}

// Undelivered returns the caller's queued entries.
func (s *Service) Undelivered(ctx context.Context, caller identity.Caller, limit int) ([]QueuedEntry, error) {
	if _, err := memberProfile(caller); err != nil {
		return nil, err
	}
	entries, err := s.queue.Fetch(ctx, caller.Role, caller.ProfileID, limit)
	if err != nil {
		return nil, err
	}
	s.observeQueue("fetch")
	return entries, nil
}

// OpenMedia opens the attachment of a message for download.
func (s *Service) OpenMedia(ctx context.Context, caller identity.Caller, conversationID, messageID string) (*blobstore.Object, error) {
	conv, err := s.authorize(ctx, caller, conversationID, true)
	if err != nil {
		return nil, err
	}
	msgID, err := uuid.Parse(strings.TrimSpace(messageID))
	if err != nil {
		return nil, apperr.Invalid("valid messageId is required")
	}
	msg, err := s.store.GetMessage(ctx, conv.ID, msgID)
	if err != nil {
		return nil, err
	}
	if msg.Media == nil || s.blobs == nil {
		return nil, apperr.NotFound("file not found")
	}
	obj, err := s.blobs.Open(ctx, msg.Media.Key)
	if err != nil {
		return nil, err
	}
	if obj.Filename == "" {
		obj.Filename = msg.Media.Filename
	}
	if obj.ContentType == "" {
		obj.ContentType = msg.Media.ContentType
	}
	return obj, nil
}

func (s *Service) authorize(ctx context.Context, caller identity.Caller, conversationID string, entitled bool) (*Conversation, error) {
	if _, err := memberProfile(caller); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(strings.TrimSpace(conversationID))
	if err != nil {
		return nil, apperr.Invalid("valid conversationId is required")
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(caller) {
		return nil, apperr.Forbidden("forbidden")
	}
	if entitled {
		if err := s.requireEntitlement(ctx, conv.DoctorID, conv.PatientID); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

func (s *Service) requireEntitlement(ctx context.Context, doctorID, patientID uuid.UUID) error {
	ok, err := s.store.HasOnlineAppointment(ctx, doctorID, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden(notEntitledMessage)
	}
	return nil
}

func (s *Service) announce(conv *Conversation) {
	notice := map[string]any{"success": true, "conversation": Summary{
		ID:              conv.ID,
		LastMessageAt:   conv.LastMessageAt,
		LastMessageType: conv.LastMessageType,
	}}
	s.rooms.EmitToRoom(identity.UserRoom(identity.RoleDoctor, conv.DoctorID.String()), EventConversationUpdated, notice)
	s.rooms.EmitToRoom(identity.UserRoom(identity.RolePatient, conv.PatientID.String()), EventConversationUpdated, notice)
}

func (s *Service) checkUpload(u *Upload) (MessageType, error) {
	if len(u.Data) == 0 {
		return "", apperr.Invalid("file is empty")
	}
	if int64(len(u.Data)) > s.maxFile {
		return "", apperr.Invalid("file exceeds %d bytes", s.maxFile)
	}
	if strings.TrimSpace(u.Filename) == "" {
		u.Filename = "photo"
	}
	ct := strings.ToLower(strings.TrimSpace(u.ContentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MessageImage, nil
	case ct == "application/pdf" || ct == "application/x-pdf":
		return MessageFile, nil
	case ct == "application/octet-stream":
		switch strings.ToLower(path.Ext(u.Filename)) {
		case ".jpg", ".jpeg", ".png", ".webp", ".pdf":
			return MessageFile, nil
		}
	}
	return "", apperr.Invalid("unsupported file type")
}

func (s *Service) observeSend(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveChatSend(outcome)
	}
}

func (s *Service) observeQueue(op string) {
	if s.metrics != nil {
		s.metrics.ObserveOfflineQueue(op)
	}
}

// memberProfile returns the caller's profile id when they act as a doctor
// or patient.
func memberProfile(caller identity.Caller) (uuid.UUID, error) {
	if !caller.IsDoctor() && !caller.IsPatient() {
		return uuid.Nil, apperr.Forbidden("forbidden")
	}
	id, err := uuid.Parse(caller.ProfileID)
	if err != nil {
		return uuid.Nil, apperr.Forbidden("forbidden")
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
