package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/blobstore"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists conversations and messages.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("chat: db required")
	}
	return &PostgresStore{db: db}
}

const conversationColumns = `id, doctor_id, patient_id, last_message_at, last_message_type, created_at, updated_at`

const messageColumns = `seq, id, conversation_id, sender_role, sender_profile_id, type, ciphertext,
	sender_ciphertext, client_message_id, media_key, media_filename, media_content_type, media_size, created_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		c        Conversation
		lastType string
	)
	if err := row.Scan(&c.ID, &c.DoctorID, &c.PatientID, &c.LastMessageAt, &lastType, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.LastMessageType = MessageType(lastType)
	return &c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m                              Message
		role, msgType                  string
		mediaKey, mediaName, mediaType string
		mediaSize                      int64
	)
	err := row.Scan(&m.Seq, &m.ID, &m.ConversationID, &role, &m.SenderProfileID, &msgType, &m.Ciphertext,
		&m.SenderCiphertext, &m.ClientMessageID, &mediaKey, &mediaName, &mediaType, &mediaSize, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.SenderRole = identity.Role(role)
	m.Type = MessageType(msgType)
	if mediaKey != "" {
		m.Media = &blobstore.Blob{Key: mediaKey, Filename: mediaName, ContentType: mediaType, Size: mediaSize}
	}
	return &m, nil
}

// UpsertConversation returns the pair's conversation, creating it on first
// contact. Concurrent callers converge on the same row.
func (s *PostgresStore) UpsertConversation(ctx context.Context, doctorID, patientID uuid.UUID) (*Conversation, error) {
	query := `
		INSERT INTO chat_conversations (id, doctor_id, patient_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id, patient_id) DO UPDATE SET updated_at = chat_conversations.updated_at
		RETURNING ` + conversationColumns
	c, err := scanConversation(s.db.QueryRow(ctx, query, uuid.New(), doctorID, patientID))
	if err != nil {
		return nil, fmt.Errorf("chat: upsert conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM chat_conversations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, fmt.Errorf("chat: get conversation: %w", err)
	}
	return c, nil
}

// ListForProfile lists a member's conversations, most recently active
// first, with both parties' names.
func (s *PostgresStore) ListForProfile(ctx context.Context, role identity.Role, profileID uuid.UUID) ([]Conversation, error) {
	filter := "c.patient_id = $1"
	if role == identity.RoleDoctor {
		filter = "c.doctor_id = $1"
	}
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.doctor_id, c.patient_id, c.last_message_at, c.last_message_type, c.created_at, c.updated_at,
			d.full_name, p.full_name, p.email, p.phone
		FROM chat_conversations c
		JOIN doctors d ON d.id = c.doctor_id
		JOIN patients p ON p.id = c.patient_id
		WHERE `+filter+`
		ORDER BY c.last_message_at DESC NULLS LAST, c.updated_at DESC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("chat: list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			c        Conversation
			lastType string
		)
		doctor := &Party{Role: identity.RoleDoctor}
		patient := &Party{Role: identity.RolePatient}
		if err := rows.Scan(&c.ID, &c.DoctorID, &c.PatientID, &c.LastMessageAt, &lastType, &c.CreatedAt, &c.UpdatedAt,
			&doctor.FullName, &patient.FullName, &patient.Email, &patient.Phone); err != nil {
			return nil, fmt.Errorf("chat: scan conversation: %w", err)
		}
		c.LastMessageType = MessageType(lastType)
		doctor.ID, patient.ID = c.DoctorID, c.PatientID
		c.Doctor, c.Patient = doctor, patient
		out = append(out, c)
	}
	return out, rows.Err()
}

// HasOnlineAppointment reports whether the pair shares a live online
// consultation. It is the chat entitlement.
func (s *PostgresStore) HasOnlineAppointment(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND patient_id = $2 AND status <> 'cancelled'
				AND consultation_type IN ('online_chat', 'online_video')
		)`, doctorID, patientID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("chat: entitlement: %w", err)
	}
	return ok, nil
}

// InsertMessage stores m and fills its sequence and timestamp.
func (s *PostgresStore) InsertMessage(ctx context.Context, m *Message) error {
	var key, name, ctype string
	var size int64
	if m.Media != nil {
		key, name, ctype, size = m.Media.Key, m.Media.Filename, m.Media.ContentType, m.Media.Size
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO chat_messages (id, conversation_id, sender_role, sender_profile_id, type, ciphertext,
			sender_ciphertext, client_message_id, media_key, media_filename, media_content_type, media_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq, created_at`,
		m.ID, m.ConversationID, string(m.SenderRole), m.SenderProfileID, string(m.Type), m.Ciphertext,
		m.SenderCiphertext, m.ClientMessageID, key, name, ctype, size,
	).Scan(&m.Seq, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("chat: insert message: %w", err)
	}
	return nil
}

// TouchLastMessage refreshes the conversation's list-sorting cache.
func (s *PostgresStore) TouchLastMessage(ctx context.Context, conversationID uuid.UUID, at time.Time, msgType MessageType) error {
	_, err := s.db.Exec(ctx, `
		UPDATE chat_conversations SET last_message_at = $2, last_message_type = $3, updated_at = now()
		WHERE id = $1`, conversationID, at, string(msgType))
	if err != nil {
		return fmt.Errorf("chat: touch conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error) {
	m, err := scanMessage(s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages
		WHERE id = $1 AND conversation_id = $2`, messageID, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, fmt.Errorf("chat: get message: %w", err)
	}
	return m, nil
}

// ListMessages returns up to limit messages older than the before message
// (or the newest when before is nil), oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if before != nil {
		rows, err = s.db.Query(ctx, `SELECT `+messageColumns+` FROM chat_messages
			WHERE conversation_id = $1
				AND seq < (SELECT seq FROM chat_messages WHERE id = $2 AND conversation_id = $1)
			ORDER BY seq DESC LIMIT $3`, conversationID, *before, limit)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+messageColumns+` FROM chat_messages
			WHERE conversation_id = $1
			ORDER BY seq DESC LIMIT $2`, conversationID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
