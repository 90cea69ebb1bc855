package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository. WithinTx snapshots the store and
// restores it when fn fails, so tests can observe rollback.
type memRepo struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]Appointment
	events []memEvent
	clock  time.Time

	// failCreate, when set, is returned by the next CreateAppointment.
	failCreate error
}

type memEvent struct {
	Type          string
	AppointmentID uuid.UUID
	Payload       any
}

func newMemRepo() *memRepo {
	return &memRepo{
		appts: make(map[uuid.UUID]Appointment),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *memRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Millisecond)
	return r.clock
}

// put stores a directly, bypassing the scheduler.
func (r *memRepo) put(a Appointment) Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.tick()
	a.CreatedAt, a.UpdatedAt = now, now
	r.appts[a.ID] = a
	return a
}

func (r *memRepo) get(id uuid.UUID) (Appointment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	return a, ok
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appts)
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Appointment
	for _, a := range r.appts {
		if f.PractitionerID != nil && a.PractitionerID != *f.PractitionerID {
			continue
		}
		if f.From != nil && a.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.StartTime.Before(*f.To) {
			continue
		}
		if len(f.States) > 0 && !containsState(f.States, a.State) {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartTime.Equal(matched[j].StartTime) {
			return matched[i].StartTime.Before(matched[j].StartTime)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	if f.Offset >= total {
		return []Appointment{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func containsState(states []State, s State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func (r *memRepo) AppendNotification(_ context.Context, id uuid.UUID, entry NotificationEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.Notifications = append(append([]NotificationEntry(nil), a.Notifications...), entry)
	r.appts[id] = a
	return nil
}

func (r *memRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[uuid.UUID]Appointment, len(r.appts))
	for k, v := range r.appts {
		snapshot[k] = v
	}
	eventCount := len(r.events)

	if err := fn(ctx, memTx{r: r}); err != nil {
		r.appts = snapshot
		r.events = r.events[:eventCount]
		return err
	}
	return nil
}

// memTx runs with memRepo.mu held.
type memTx struct {
	r *memRepo
}

func (t memTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t memTx) FindBlockingAppointments(_ context.Context, practitionerID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range t.r.appts {
		if a.PractitionerID == practitionerID && a.State.blocksSlot() && a.Overlaps(start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t memTx) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	if err := t.r.failCreate; err != nil {
		t.r.failCreate = nil
		return nil, err
	}
	c := *a
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := t.r.tick()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Notifications = nil
	t.r.appts[c.ID] = c
	return &c, nil
}

func (t memTx) UpdateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	existing, ok := t.r.appts[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	u := *a
	u.PatientID = existing.PatientID
	u.PractitionerID = existing.PractitionerID
	u.TreatmentID = existing.TreatmentID
	u.OriginalAppointmentID = existing.OriginalAppointmentID
	u.Notifications = existing.Notifications
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = t.r.tick()
	t.r.appts[u.ID] = u
	return &u, nil
}

func (t memTx) InsertEvent(_ context.Context, eventType string, appointmentID uuid.UUID, payload any) error {
	t.r.events = append(t.r.events, memEvent{Type: eventType, AppointmentID: appointmentID, Payload: payload})
	return nil
}

type fakePatients map[uuid.UUID]bool

func (f fakePatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	return f[id], nil
}

// fakePractitioners maps a known practitioner to whether they are active.
type fakePractitioners map[uuid.UUID]bool

func (f fakePractitioners) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := f[id]
	return ok, nil
}

func (f fakePractitioners) IsActive(_ context.Context, id uuid.UUID) (bool, error) {
	return f[id], nil
}

type fakeTreatments map[uuid.UUID]Treatment

func (f fakeTreatments) Get(_ context.Context, id uuid.UUID) (*Treatment, error) {
	t, ok := f[id]
	if !ok {
		return nil, ErrTreatmentNotFound
	}
	return &t, nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	booked      []Appointment
	rescheduled [][2]Appointment
}

func (n *recordingNotifier) NotifyBooked(_ context.Context, a Appointment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.booked = append(n.booked, a)
}

func (n *recordingNotifier) NotifyRescheduled(_ context.Context, original, successor Appointment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rescheduled = append(n.rescheduled, [2]Appointment{original, successor})
}

// busyLocker always reports the practitioner lock as held elsewhere.
type busyLocker struct {
	err error
}

func (l busyLocker) WithPractitionerLock(context.Context, uuid.UUID, func(context.Context) error) error {
	return l.err
}
