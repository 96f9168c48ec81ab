package appointments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/internal/profiles"
	"github.com/wolfman30/clinic-booking-platform/internal/scheduling"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// memStore mirrors the Postgres guards: the unique slot index, the active
// status filter on cancel and the reschedule_count guard.
type memStore struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMemStore() *memStore {
	return &memStore{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *memStore) slotTaken(doctorID uuid.UUID, dateKey, slot string, exclude uuid.UUID) bool {
	for _, a := range m.appts {
		if a.ID != exclude && a.DoctorID == doctorID && a.DateKey == dateKey && a.TimeSlot == slot && a.Status != StatusCancelled {
			return true
		}
	}
	return false
}

func (m *memStore) Insert(ctx context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slotTaken(a.DoctorID, a.DateKey, a.TimeSlot, uuid.Nil) {
		return apperr.Conflict("this slot is already booked")
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) IsSlotHeld(ctx context.Context, doctorID uuid.UUID, dateKey, slot string, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slotTaken(doctorID, dateKey, slot, exclude), nil
}

func (m *memStore) BookedSlots(ctx context.Context, doctorID uuid.UUID, dateKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.DateKey == dateKey && a.Status != StatusCancelled {
			out = append(out, a.TimeSlot)
		}
	}
	return out, nil
}

func (m *memStore) CountDaily(ctx context.Context, patientID, doctorID uuid.UUID, dateKey string, self bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.PatientID == patientID && a.DoctorID == doctorID && a.DateKey == dateKey &&
			a.Status != StatusCancelled && (a.PatientRelation == RelationSelf) == self {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Cancel(ctx context.Context, id uuid.UUID, reason, cancelledBy string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || !a.Status.Active() {
		return nil, errStaleState
	}
	a.Status = StatusCancelled
	a.CancellationReason = reason
	a.CancelledBy = cancelledBy
	cp := *a
	return &cp, nil
}

func (m *memStore) Reschedule(ctx context.Context, id uuid.UUID, dateKey string, at time.Time, slot string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.RescheduleCount != 0 || !a.Status.Active() {
		return nil, apperr.Conflict("appointment was modified, please retry")
	}
	if m.slotTaken(a.DoctorID, dateKey, slot, a.ID) {
		return nil, apperr.Conflict("this slot is already booked")
	}
	now := time.Now()
	a.DateKey, a.DateTime, a.TimeSlot = dateKey, at, slot
	a.Status = StatusConfirmed
	a.RescheduleCount++
	a.RescheduledAt = &now
	a.ReminderEmailSentAt = nil
	cp := *a
	return &cp, nil
}

func (m *memStore) list(match func(*Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range m.appts {
		if match(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out
}

func (m *memStore) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(a *Appointment) bool { return a.PatientID == patientID }), nil
}

func (m *memStore) ListForDoctor(ctx context.Context, doctorID uuid.UUID, dateKey string) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(a *Appointment) bool {
		return a.DoctorID == doctorID && (dateKey == "" || a.DateKey == dateKey)
	}), nil
}

func (m *memStore) ListForDoctorPatient(ctx context.Context, doctorID, patientID uuid.UUID) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.list(func(a *Appointment) bool { return a.DoctorID == doctorID && a.PatientID == patientID })
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.After(out[j].DateTime) })
	return out, nil
}

func (m *memStore) ListDoctorPatients(ctx context.Context, doctorID uuid.UUID) ([]DoctorPatient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[uuid.UUID]*DoctorPatient{}
	for _, a := range m.appts {
		if a.DoctorID != doctorID || a.Status == StatusCancelled {
			continue
		}
		p, ok := seen[a.PatientID]
		if !ok {
			p = &DoctorPatient{PatientID: a.PatientID, FullName: a.PatientName}
			seen[a.PatientID] = p
		}
		p.AppointmentCount++
		if a.DateTime.After(p.LastAppointmentAt) {
			p.LastAppointmentAt = a.DateTime
		}
	}
	var out []DoctorPatient
	for _, p := range seen {
		out = append(out, *p)
	}
	return out, nil
}

type fakeDirectory struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]*profiles.Doctor
	patients map[uuid.UUID]*profiles.Patient
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{doctors: map[uuid.UUID]*profiles.Doctor{}, patients: map[uuid.UUID]*profiles.Patient{}}
}

func (d *fakeDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*profiles.Doctor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, apperr.NotFound("doctor not found")
	}
	cp := *doc
	return &cp, nil
}

func (d *fakeDirectory) GetPatient(ctx context.Context, id uuid.UUID) (*profiles.Patient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient not found")
	}
	cp := *p
	return &cp, nil
}

func (d *fakeDirectory) addDoctor(mutate func(*profiles.Doctor)) *profiles.Doctor {
	doc := &profiles.Doctor{
		ID:                   uuid.New(),
		UserID:               uuid.NewString(),
		FullName:             "Dr. Asha Rao",
		Email:                "asha@clinic.test",
		ConsultationFeeMinor: 50000,
		ApprovalStatus:       profiles.ApprovalApproved,
		IsOnline:             true,
		Timing: scheduling.Timing{
			SessionOne: scheduling.Session{Enabled: true, From: "09:00", To: "13:00"},
			SessionTwo: scheduling.Session{Enabled: true, From: "14:00", To: "17:00"},
		},
	}
	if mutate != nil {
		mutate(doc)
	}
	d.mu.Lock()
	d.doctors[doc.ID] = doc
	d.mu.Unlock()
	return doc
}

func (d *fakeDirectory) addPatient() (*profiles.Patient, identity.Caller) {
	p := &profiles.Patient{ID: uuid.New(), UserID: uuid.NewString(), FullName: "Jane Doe", Email: "jane@example.com"}
	d.mu.Lock()
	d.patients[p.ID] = p
	d.mu.Unlock()
	return p, identity.Caller{UserID: p.UserID, Role: identity.RolePatient, ProfileID: p.ID.String()}
}

func doctorCaller(doc *profiles.Doctor) identity.Caller {
	return identity.Caller{UserID: doc.UserID, Role: identity.RoleDoctor, ProfileID: doc.ID.String()}
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (n *recordingNotifier) AppointmentChanged(ctx context.Context, change Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
}

func (n *recordingNotifier) actions() []ChangeAction {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ChangeAction, 0, len(n.changes))
	for _, c := range n.changes {
		out = append(out, c.Action)
	}
	return out
}
