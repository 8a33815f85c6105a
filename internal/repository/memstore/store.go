// Package memstore is an in-memory implementation of the booking stores.
// Units of work are serialized by a single mutex and applied copy-on-write,
// so a unit that fails leaves the store untouched.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Freeeeeet/conference_booking/internal/model"
)

type state struct {
	conferences map[string]*model.Conference
	users       map[string]*model.User
	bookings    map[model.BookingID]*model.Booking
	waitlist    map[model.BookingID]*model.WaitlistEntry
	seq         int64
}

func newState() *state {
	return &state{
		conferences: make(map[string]*model.Conference),
		users:       make(map[string]*model.User),
		bookings:    make(map[model.BookingID]*model.Booking),
		waitlist:    make(map[model.BookingID]*model.WaitlistEntry),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.conferences {
		cp.conferences[k] = v.Clone()
	}
	for k, v := range s.users {
		cp.users[k] = v.Clone()
	}
	for k, v := range s.bookings {
		b := *v
		cp.bookings[k] = &b
	}
	for k, v := range s.waitlist {
		e := *v
		cp.waitlist[k] = &e
	}
	cp.seq = s.seq
	return cp
}

// Store implements model.UnitOfWork.
type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// Do runs fn against a private copy of the state and publishes the copy only
// if fn succeeds. fn must not call Do again.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx model.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type tx struct {
	st *state
}

func (t *tx) Conferences() model.ConferenceRegistry { return conferenceRegistry{t.st} }
func (t *tx) Users() model.UserDirectory            { return userDirectory{t.st} }
func (t *tx) Bookings() model.BookingLedger         { return bookingLedger{t.st} }
func (t *tx) Waitlist() model.WaitlistQueue         { return waitlistQueue{t.st} }

type conferenceRegistry struct{ st *state }

func (r conferenceRegistry) Create(_ context.Context, c *model.Conference) error {
	if _, ok := r.st.conferences[c.Name]; ok {
		return fmt.Errorf("conference %q: %w", c.Name, model.ErrAlreadyExists)
	}
	r.st.conferences[c.Name] = c.Clone()
	return nil
}

func (r conferenceRegistry) Get(_ context.Context, name string) (*model.Conference, error) {
	c, ok := r.st.conferences[name]
	if !ok {
		return nil, model.NotFoundf("conference", name)
	}
	return c.Clone(), nil
}

// GetForUpdate needs no extra locking: the whole unit of work already runs
// under the store mutex.
func (r conferenceRegistry) GetForUpdate(ctx context.Context, name string) (*model.Conference, error) {
	return r.Get(ctx, name)
}

func (r conferenceRegistry) DecrementSlot(_ context.Context, name string) error {
	c, ok := r.st.conferences[name]
	if !ok {
		return model.NotFoundf("conference", name)
	}
	if c.RemainingSlots <= 0 {
		return fmt.Errorf("conference %q: %w", name, model.ErrNoCapacity)
	}
	c.RemainingSlots--
	return nil
}

func (r conferenceRegistry) IncrementSlot(_ context.Context, name string) error {
	c, ok := r.st.conferences[name]
	if !ok {
		return model.NotFoundf("conference", name)
	}
	if c.RemainingSlots >= c.TotalSlots {
		return fmt.Errorf("conference %q: %w", name, model.ErrCapacityExceeded)
	}
	c.RemainingSlots++
	return nil
}

func (r conferenceRegistry) Search(_ context.Context, f model.ConferenceFilter) ([]*model.Conference, error) {
	out := make([]*model.Conference, 0)
	for _, c := range r.st.conferences {
		if f.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	sortByStart(out)
	return out, nil
}

func (r conferenceRegistry) ListUpcoming(_ context.Context, after time.Time) ([]*model.Conference, error) {
	out := make([]*model.Conference, 0)
	for _, c := range r.st.conferences {
		if c.StartTime.After(after) {
			out = append(out, c.Clone())
		}
	}
	sortByStart(out)
	return out, nil
}

func (r conferenceRegistry) ListDrainable(_ context.Context) ([]string, error) {
	pending := make(map[string]bool)
	for _, e := range r.st.waitlist {
		pending[e.ConferenceName] = true
	}
	names := make([]string, 0)
	for name, c := range r.st.conferences {
		if c.HasFreeSlot() && pending[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func sortByStart(cs []*model.Conference) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].StartTime.Equal(cs[j].StartTime) {
			return cs[i].StartTime.Before(cs[j].StartTime)
		}
		return cs[i].Name < cs[j].Name
	})
}

type userDirectory struct{ st *state }

func (d userDirectory) Create(_ context.Context, u *model.User) error {
	if _, ok := d.st.users[u.UserID]; ok {
		return fmt.Errorf("user %q: %w", u.UserID, model.ErrAlreadyExists)
	}
	d.st.users[u.UserID] = u.Clone()
	return nil
}

func (d userDirectory) Get(_ context.Context, userID string) (*model.User, error) {
	u, ok := d.st.users[userID]
	if !ok {
		return nil, model.NotFoundf("user", userID)
	}
	return u.Clone(), nil
}

func (d userDirectory) GetForUpdate(ctx context.Context, userID string) (*model.User, error) {
	return d.Get(ctx, userID)
}

type bookingLedger struct{ st *state }

func (l bookingLedger) Create(_ context.Context, b *model.Booking) error {
	if _, ok := l.st.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s: %w", b.ID, model.ErrAlreadyExists)
	}
	if _, ok := l.st.users[b.UserID]; !ok {
		return model.NotFoundf("user", b.UserID)
	}
	if _, ok := l.st.conferences[b.ConferenceName]; !ok {
		return model.NotFoundf("conference", b.ConferenceName)
	}
	if existing := l.findActive(b.UserID, b.ConferenceName); existing != nil {
		return &model.DuplicateBookingError{BookingID: existing.ID}
	}
	cp := *b
	l.st.bookings[b.ID] = &cp
	return nil
}

func (l bookingLedger) SetStatus(_ context.Context, id model.BookingID, status model.BookingStatus, at time.Time) error {
	b, ok := l.st.bookings[id]
	if !ok {
		return model.NotFoundf("booking", id.String())
	}
	if !b.Status.CanTransitionTo(status) {
		return fmt.Errorf("booking %s %s -> %s: %w", id, b.Status, status, model.ErrInvalidTransition)
	}
	b.Status = status
	b.UpdatedAt = at
	return nil
}

func (l bookingLedger) Get(_ context.Context, id model.BookingID) (*model.Booking, error) {
	b, ok := l.st.bookings[id]
	if !ok {
		return nil, model.NotFoundf("booking", id.String())
	}
	cp := *b
	return &cp, nil
}

func (l bookingLedger) ListByUser(_ context.Context, userID string) ([]*model.Booking, error) {
	out := make([]*model.Booking, 0)
	for _, b := range l.st.bookings {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (l bookingLedger) FindActive(_ context.Context, userID, conferenceName string) (*model.Booking, error) {
	b := l.findActive(userID, conferenceName)
	if b == nil {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (l bookingLedger) findActive(userID, conferenceName string) *model.Booking {
	for _, b := range l.st.bookings {
		if b.UserID == userID && b.ConferenceName == conferenceName && b.Status.Active() {
			return b
		}
	}
	return nil
}

func (l bookingLedger) CountByStatus(_ context.Context, conferenceName string, status model.BookingStatus) (int, error) {
	n := 0
	for _, b := range l.st.bookings {
		if b.ConferenceName == conferenceName && b.Status == status {
			n++
		}
	}
	return n, nil
}

type waitlistQueue struct{ st *state }

func (q waitlistQueue) Enqueue(_ context.Context, e *model.WaitlistEntry) error {
	if _, ok := q.st.waitlist[e.ID]; ok {
		return fmt.Errorf("waitlist entry %s: %w", e.ID, model.ErrAlreadyExists)
	}
	if _, ok := q.st.bookings[e.ID]; !ok {
		return model.NotFoundf("booking", e.ID.String())
	}
	q.st.seq++
	cp := *e
	cp.Seq = q.st.seq
	e.Seq = cp.Seq
	q.st.waitlist[e.ID] = &cp
	return nil
}

func (q waitlistQueue) PeekOldest(_ context.Context, conferenceName string) (*model.WaitlistEntry, error) {
	var oldest *model.WaitlistEntry
	for _, e := range q.st.waitlist {
		if e.ConferenceName != conferenceName {
			continue
		}
		if oldest == nil || e.Before(oldest) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (q waitlistQueue) Get(_ context.Context, id model.BookingID) (*model.WaitlistEntry, error) {
	e, ok := q.st.waitlist[id]
	if !ok {
		return nil, model.NotFoundf("waitlist entry", id.String())
	}
	cp := *e
	return &cp, nil
}

func (q waitlistQueue) Remove(_ context.Context, id model.BookingID) error {
	if _, ok := q.st.waitlist[id]; !ok {
		return model.NotFoundf("waitlist entry", id.String())
	}
	delete(q.st.waitlist, id)
	return nil
}

func (q waitlistQueue) ListByConference(_ context.Context, conferenceName string) ([]*model.WaitlistEntry, error) {
	out := make([]*model.WaitlistEntry, 0)
	for _, e := range q.st.waitlist {
		if e.ConferenceName == conferenceName {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
