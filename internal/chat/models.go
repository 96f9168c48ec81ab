package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/blobstore"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
)

// MessageType classifies a message by its attachment.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Socket and room event names.
const (
	EventMessageNew          = "message:new"
	EventMessageQueued       = "message:queued"
	EventConversationUpdated = "conversation:updated"
)

// Party is one side of a conversation as shown to the other side.
type Party struct {
	Role     identity.Role `json:"role"`
	ID       uuid.UUID     `json:"id"`
	FullName string        `json:"fullName"`
	Email    string        `json:"email,omitempty"`
	Phone    string        `json:"phone,omitempty"`
}

// Conversation is the single thread between a doctor and a patient.
type Conversation struct {
	ID              uuid.UUID   `json:"id"`
	DoctorID        uuid.UUID   `json:"doctorId"`
	PatientID       uuid.UUID   `json:"patientId"`
	LastMessageAt   *time.Time  `json:"lastMessageAt"`
	LastMessageType MessageType `json:"lastMessageType,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`

	Doctor  *Party `json:"doctor,omitempty"`
	Patient *Party `json:"patient,omitempty"`
	Peer    *Party `json:"peer,omitempty"`
}

// HasMember reports whether caller is the conversation's doctor or patient.
func (c *Conversation) HasMember(caller identity.Caller) bool {
	switch caller.Role {
	case identity.RoleDoctor:
		return caller.ProfileID == c.DoctorID.String()
	case identity.RolePatient:
		return caller.ProfileID == c.PatientID.String()
	}
	return false
}

// Counterpart returns the role and profile of the other member.
func (c *Conversation) Counterpart(caller identity.Caller) (identity.Role, string) {
	if caller.Role == identity.RoleDoctor {
		return identity.RolePatient, c.PatientID.String()
	}
	return identity.RoleDoctor, c.DoctorID.String()
}

// Room is the live fan-out room for this conversation.
func (c *Conversation) Room() string {
	return ConversationRoom(c.ID.String())
}

func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// Summary is the lightweight notice sent to personal rooms.
type Summary struct {
	ID              uuid.UUID   `json:"id"`
	LastMessageAt   *time.Time  `json:"lastMessageAt"`
	LastMessageType MessageType `json:"lastMessageType,omitempty"`
}

// Message is one end-to-end encrypted message. The server stores ciphertext
// only.
type Message struct {
	ID               uuid.UUID       `json:"id"`
	Seq              int64           `json:"-"`
	ConversationID   uuid.UUID       `json:"conversationId"`
	SenderRole       identity.Role   `json:"senderRole"`
	SenderProfileID  uuid.UUID       `json:"senderProfileId"`
	Type             MessageType     `json:"type"`
	Ciphertext       string          `json:"ciphertext"`
	SenderCiphertext string          `json:"senderCiphertext"`
	ClientMessageID  string          `json:"clientMessageId"`
	Media            *blobstore.Blob `json:"media"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// SendRequest is the send command shared by HTTP and socket transports.
type SendRequest struct {
	ConversationID   string `json:"conversationId"`
	Ciphertext       string `json:"ciphertext"`
	SenderCiphertext string `json:"senderCiphertext"`
	ClientMessageID  string `json:"clientMessageId"`
}

// Upload is an attachment received with a send.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// QueuedEntry is an offline delivery waiting for its recipient.
type QueuedEntry struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
}
