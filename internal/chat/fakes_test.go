package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
)

// memStore mirrors the unique (doctor_id, patient_id) pair and the
// appointment-based entitlement.
type memStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	messages      []Message
	seq           int64
	entitled      map[[2]uuid.UUID]bool
	insertErr     error
}

func newMemStore() *memStore {
	return &memStore{
		conversations: map[uuid.UUID]*Conversation{},
		entitled:      map[[2]uuid.UUID]bool{},
	}
}

func (m *memStore) setEntitled(doctorID, patientID uuid.UUID, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entitled[[2]uuid.UUID{doctorID, patientID}] = ok
}

func (m *memStore) UpsertConversation(ctx context.Context, doctorID, patientID uuid.UUID) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.DoctorID == doctorID && c.PatientID == patientID {
			cp := *c
			return &cp, nil
		}
	}
	now := time.Now().UTC()
	c := &Conversation{ID: uuid.New(), DoctorID: doctorID, PatientID: patientID, CreatedAt: now, UpdatedAt: now}
	m.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, apperr.NotFound("conversation not found")
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListForProfile(ctx context.Context, role identity.Role, profileID uuid.UUID) ([]Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Conversation
	for _, c := range m.conversations {
		if (role == identity.RoleDoctor && c.DoctorID == profileID) || (role == identity.RolePatient && c.PatientID == profileID) {
			cp := *c
			cp.Doctor = &Party{Role: identity.RoleDoctor, ID: c.DoctorID, FullName: "Dr. Asha Rao"}
			cp.Patient = &Party{Role: identity.RolePatient, ID: c.PatientID, FullName: "Jane Doe"}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *memStore) HasOnlineAppointment(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entitled[[2]uuid.UUID{doctorID, patientID}], nil
}

func (m *memStore) InsertMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.seq++
	msg.Seq = m.seq
	msg.CreatedAt = time.Now().UTC()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memStore) TouchLastMessage(ctx context.Context, conversationID uuid.UUID, at time.Time, msgType MessageType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return errors.New("missing conversation")
	}
	c.LastMessageAt = &at
	c.LastMessageType = msgType
	return nil
}

func (m *memStore) GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == messageID && msg.ConversationID == conversationID {
			cp := msg
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("message not found")
}

func (m *memStore) ListMessages(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cutoff int64 = 1 << 62
	if before != nil {
		for _, msg := range m.messages {
			if msg.ID == *before {
				cutoff = msg.Seq
			}
		}
	}
	var out []Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.Seq < cutoff {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
