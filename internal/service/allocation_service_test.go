package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/clock"
	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/repository/memstore"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.BookingEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e model.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []model.BookingEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.BookingEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type engineFixture struct {
	svc   *AllocationService
	store *memstore.Store
	clock *clock.Fake
	pub   *recordingPublisher
}

func newEngine(t *testing.T) *engineFixture {
	t.Helper()
	store := memstore.New()
	clk := clock.NewFake(epoch)
	pub := &recordingPublisher{}
	svc := NewAllocationService(store, clk, NewConfirmationWindow(time.Hour), pub, zap.NewNop())
	return &engineFixture{svc: svc, store: store, clock: clk, pub: pub}
}

func (f *engineFixture) addConference(t *testing.T, name string, start time.Time, length time.Duration, slots int) {
	t.Helper()
	err := f.store.Do(context.Background(), func(ctx context.Context, tx model.Tx) error {
		return tx.Conferences().Create(ctx, &model.Conference{
			Name:           name,
			Location:       "Berlin",
			Topics:         []string{"go"},
			StartTime:      start,
			EndTime:        start.Add(length),
			TotalSlots:     slots,
			RemainingSlots: slots,
		})
	})
	require.NoError(t, err)
}

func (f *engineFixture) addUsers(t *testing.T, ids ...string) {
	t.Helper()
	err := f.store.Do(context.Background(), func(ctx context.Context, tx model.Tx) error {
		for _, id := range ids {
			if err := tx.Users().Create(ctx, &model.User{UserID: id}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (f *engineFixture) conference(t *testing.T, name string) *model.Conference {
	t.Helper()
	var c *model.Conference
	err := f.store.Do(context.Background(), func(ctx context.Context, tx model.Tx) error {
		var err error
		c, err = tx.Conferences().Get(ctx, name)
		return err
	})
	require.NoError(t, err)
	return c
}

func (f *engineFixture) status(t *testing.T, id model.BookingID) model.BookingStatus {
	t.Helper()
	view, err := f.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	return view.Status
}

func (f *engineFixture) assertConserved(t *testing.T, name string) {
	t.Helper()
	err := f.store.Do(context.Background(), func(ctx context.Context, tx model.Tx) error {
		c, err := tx.Conferences().Get(ctx, name)
		if err != nil {
			return err
		}
		confirmed, err := tx.Bookings().CountByStatus(ctx, name, model.BookingStatusConfirmed)
		if err != nil {
			return err
		}
		assert.GreaterOrEqual(t, c.RemainingSlots, 0)
		assert.Equal(t, c.TotalSlots, c.RemainingSlots+confirmed, "remaining + confirmed for %s", name)
		return nil
	})
	require.NoError(t, err)
}

func TestRequestBooking_ConfirmsThenWaitlists(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "GoCon", epoch.Add(48*time.Hour), 4*time.Hour, 1)
	f.addUsers(t, "alice", "bob")

	first, err := f.svc.RequestBooking(ctx, "alice", "GoCon")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, first.Status)

	second, err := f.svc.RequestBooking(ctx, "bob", "GoCon")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusWaitlisted, second.Status)
	assert.NotEqual(t, first.BookingID, second.BookingID)

	assert.Equal(t, 0, f.conference(t, "GoCon").RemainingSlots)
	f.assertConserved(t, "GoCon")
	assert.Equal(t, []model.BookingEventType{
		model.EventBookingConfirmed,
		model.EventBookingWaitlisted,
	}, f.pub.types())
}

func TestRequestBooking_NotFound(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "GoCon", epoch.Add(48*time.Hour), 4*time.Hour, 1)
	f.addUsers(t, "alice")

	_, err := f.svc.RequestBooking(ctx, "alice", "Missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.RequestBooking(ctx, "ghost", "GoCon")
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.Equal(t, 1, f.conference(t, "GoCon").RemainingSlots)
}

func TestRequestBooking_RetryReturnsExistingBooking(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "GoCon", epoch.Add(48*time.Hour), 4*time.Hour, 1)
	f.addUsers(t, "alice", "bob")

	tests := []struct {
		user   string
		status model.BookingStatus
	}{
		{user: "alice", status: model.BookingStatusConfirmed},
		{user: "bob", status: model.BookingStatusWaitlisted},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			res, err := f.svc.RequestBooking(ctx, tt.user, "GoCon")
			require.NoError(t, err)
			require.Equal(t, tt.status, res.Status)

			_, err = f.svc.RequestBooking(ctx, tt.user, "GoCon")
			require.ErrorIs(t, err, model.ErrDuplicateBooking)
			id, ok := model.ExistingBookingID(err)
			require.True(t, ok)
			assert.Equal(t, res.BookingID, id)
		})
	}
	f.assertConserved(t, "GoCon")
}

func TestRequestBooking_BookAgainAfterCancel(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "GoCon", epoch.Add(48*time.Hour), 4*time.Hour, 2)
	f.addUsers(t, "alice")

	first, err := f.svc.RequestBooking(ctx, "alice", "GoCon")
	require.NoError(t, err)
	require.NoError(t, f.svc.CancelBooking(ctx, first.BookingID))

	second, err := f.svc.RequestBooking(ctx, "alice", "GoCon")
	require.NoError(t, err)
	assert.NotEqual(t, first.BookingID, second.BookingID)
	assert.Equal(t, model.BookingStatusCanceled, f.status(t, first.BookingID))
	f.assertConserved(t, "GoCon")
}

func TestRequestBooking_Overlap(t *testing.T) {
	start := epoch.Add(72 * time.Hour)

	tests := []struct {
		name        string
		otherStart  time.Time
		otherLength time.Duration
		wantErr     error
	}{
		{name: "same window", otherStart: start, otherLength: 2 * time.Hour, wantErr: model.ErrOverlapConflict},
		{name: "starts inside", otherStart: start.Add(time.Hour), otherLength: 2 * time.Hour, wantErr: model.ErrOverlapConflict},
		{name: "contains", otherStart: start.Add(-time.Hour), otherLength: 5 * time.Hour, wantErr: model.ErrOverlapConflict},
		{name: "touches end", otherStart: start.Add(2 * time.Hour), otherLength: time.Hour},
		{name: "touches start", otherStart: start.Add(-time.Hour), otherLength: time.Hour},
		{name: "disjoint", otherStart: start.Add(24 * time.Hour), otherLength: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngine(t)
			ctx := context.Background()
			f.addConference(t, "First", start, 2*time.Hour, 5)
			f.addConference(t, "Second", tt.otherStart, tt.otherLength, 5)
			f.addUsers(t, "alice")

			_, err := f.svc.RequestBooking(ctx, "alice", "First")
			require.NoError(t, err)

			_, err = f.svc.RequestBooking(ctx, "alice", "Second")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 5, f.conference(t, "Second").RemainingSlots)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRequestBooking_WaitlistedHoldBlocksOverlap(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	start := epoch.Add(72 * time.Hour)
	f.addConference(t, "Full", start, 3*time.Hour, 1)
	f.addConference(t, "Parallel", start.Add(time.Hour), 3*time.Hour, 10)
	f.addUsers(t, "alice", "bob")

	_, err := f.svc.RequestBooking(ctx, "alice", "Full")
	require.NoError(t, err)
	held, err := f.svc.RequestBooking(ctx, "bob", "Full")
	require.NoError(t, err)
	require.Equal(t, model.BookingStatusWaitlisted, held.Status)

	_, err = f.svc.RequestBooking(ctx, "bob", "Parallel")
	assert.ErrorIs(t, err, model.ErrOverlapConflict)

	// Once the hold is released the parallel conference is bookable.
	require.NoError(t, f.svc.CancelBooking(ctx, held.BookingID))
	res, err := f.svc.RequestBooking(ctx, "bob", "Parallel")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, res.Status)
}

func TestRequestBooking_DrainPromotesWaitlistBeforeNewcomer(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "C", epoch.Add(48*time.Hour), 2*time.Hour, 1)
	f.addUsers(t, "A", "B", "D")

	a, err := f.svc.RequestBooking(ctx, "A", "C")
	require.NoError(t, err)
	require.Equal(t, model.BookingStatusConfirmed, a.Status)

	f.clock.Advance(time.Minute)
	b, err := f.svc.RequestBooking(ctx, "B", "C")
	require.NoError(t, err)
	require.Equal(t, model.BookingStatusWaitlisted, b.Status)

	require.NoError(t, f.svc.CancelBooking(ctx, a.BookingID))
	assert.Equal(t, 1, f.conference(t, "C").RemainingSlots)
	assert.Equal(t, model.BookingStatusWaitlisted, f.status(t, b.BookingID), "cancel does not promote")
	assert.Equal(t, model.BookingStatusCanceled, f.status(t, a.BookingID))

	f.clock.Advance(time.Minute)
	d, err := f.svc.RequestBooking(ctx, "D", "C")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusWaitlisted, d.Status)
	assert.Equal(t, model.BookingStatusConfirmed, f.status(t, b.BookingID))
	assert.Equal(t, 0, f.conference(t, "C").RemainingSlots)
	f.assertConserved(t, "C")

	assert.Equal(t, []model.BookingEventType{
		model.EventBookingConfirmed,
		model.EventBookingWaitlisted,
		model.EventBookingCanceled,
		model.EventBookingPromoted,
		model.EventBookingWaitlisted,
	}, f.pub.types())
}

func TestDrain_FIFO(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "C", epoch.Add(48*time.Hour), 2*time.Hour, 2)
	f.addUsers(t, "h1", "h2", "w1", "w2", "w3")

	h1, err := f.svc.RequestBooking(ctx, "h1", "C")
	require.NoError(t, err)
	h2, err := f.svc.RequestBooking(ctx, "h2", "C")
	require.NoError(t, err)

	var waiting []model.BookingID
	for _, u := range []string{"w1", "w2", "w3"} {
		res, err := f.svc.RequestBooking(ctx, u, "C")
		require.NoError(t, err)
		require.Equal(t, model.BookingStatusWaitlisted, res.Status)
		waiting = append(waiting, res.BookingID)
	}

	require.NoError(t, f.svc.CancelBooking(ctx, h2.BookingID))
	require.NoError(t, f.svc.CancelBooking(ctx, h1.BookingID))

	n, err := f.svc.Drain(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, model.BookingStatusConfirmed, f.status(t, waiting[0]))
	assert.Equal(t, model.BookingStatusConfirmed, f.status(t, waiting[1]))
	assert.Equal(t, model.BookingStatusWaitlisted, f.status(t, waiting[2]))
	f.assertConserved(t, "C")

	n, err = f.svc.Drain(ctx, "C")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainAll(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "X", epoch.Add(48*time.Hour), 2*time.Hour, 1)
	f.addConference(t, "Y", epoch.Add(96*time.Hour), 2*time.Hour, 1)
	f.addUsers(t, "a", "b", "c", "d")

	var holders, waiters []model.BookingID
	for _, pair := range [][2]string{{"a", "X"}, {"b", "X"}, {"c", "Y"}, {"d", "Y"}} {
		res, err := f.svc.RequestBooking(ctx, pair[0], pair[1])
		require.NoError(t, err)
		if res.Status == model.BookingStatusConfirmed {
			holders = append(holders, res.BookingID)
		} else {
			waiters = append(waiters, res.BookingID)
		}
	}
	require.Len(t, holders, 2)
	require.Len(t, waiters, 2)

	for _, id := range holders {
		require.NoError(t, f.svc.CancelBooking(ctx, id))
	}

	n, err := f.svc.DrainAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, id := range waiters {
		assert.Equal(t, model.BookingStatusConfirmed, f.status(t, id))
	}
	f.assertConserved(t, "X")
	f.assertConserved(t, "Y")
}

func TestCancelBooking(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "C", epoch.Add(48*time.Hour), 2*time.Hour, 1)
	f.addUsers(t, "a", "b")

	a, err := f.svc.RequestBooking(ctx, "a", "C")
	require.NoError(t, err)
	b, err := f.svc.RequestBooking(ctx, "b", "C")
	require.NoError(t, err)

	t.Run("waitlisted", func(t *testing.T) {
		require.NoError(t, f.svc.CancelBooking(ctx, b.BookingID))
		assert.Equal(t, model.BookingStatusCanceled, f.status(t, b.BookingID))
		assert.Equal(t, 0, f.conference(t, "C").RemainingSlots)

		err := f.svc.SelfConfirm(ctx, b.BookingID)
		assert.ErrorIs(t, err, model.ErrNotFound, "waitlist entry is gone")
	})

	t.Run("confirmed", func(t *testing.T) {
		require.NoError(t, f.svc.CancelBooking(ctx, a.BookingID))
		assert.Equal(t, model.BookingStatusCanceled, f.status(t, a.BookingID))
		assert.Equal(t, 1, f.conference(t, "C").RemainingSlots)
		f.assertConserved(t, "C")
	})

	t.Run("already canceled", func(t *testing.T) {
		before := len(f.pub.types())
		require.NoError(t, f.svc.CancelBooking(ctx, a.BookingID))
		assert.Equal(t, 1, f.conference(t, "C").RemainingSlots)
		assert.Len(t, f.pub.types(), before)
	})

	t.Run("unknown", func(t *testing.T) {
		err := f.svc.CancelBooking(ctx, model.BookingID("nope"))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestSelfConfirm(t *testing.T) {
	setup := func(t *testing.T) (*engineFixture, *BookingResult, *BookingResult) {
		f := newEngine(t)
		ctx := context.Background()
		f.addConference(t, "C", epoch.Add(48*time.Hour), 2*time.Hour, 1)
		f.addUsers(t, "a", "b")
		a, err := f.svc.RequestBooking(ctx, "a", "C")
		require.NoError(t, err)
		b, err := f.svc.RequestBooking(ctx, "b", "C")
		require.NoError(t, err)
		require.Equal(t, model.BookingStatusWaitlisted, b.Status)
		return f, a, b
	}

	t.Run("within window with free slot", func(t *testing.T) {
		f, a, b := setup(t)
		ctx := context.Background()
		require.NoError(t, f.svc.CancelBooking(ctx, a.BookingID))
		f.clock.Advance(59 * time.Minute)

		require.NoError(t, f.svc.SelfConfirm(ctx, b.BookingID))
		assert.Equal(t, model.BookingStatusConfirmed, f.status(t, b.BookingID))
		assert.Equal(t, 0, f.conference(t, "C").RemainingSlots)
		f.assertConserved(t, "C")
		assert.Contains(t, f.pub.types(), model.EventBookingSelfConfirmed)
	})

	t.Run("window expired", func(t *testing.T) {
		f, a, b := setup(t)
		ctx := context.Background()
		require.NoError(t, f.svc.CancelBooking(ctx, a.BookingID))
		f.clock.Advance(61 * time.Minute)

		err := f.svc.SelfConfirm(ctx, b.BookingID)
		assert.ErrorIs(t, err, model.ErrCannotConfirm)
		assert.ErrorIs(t, err, model.ErrConfirmationWindowExpired)
		assert.Equal(t, model.BookingStatusWaitlisted, f.status(t, b.BookingID))
		assert.Equal(t, 1, f.conference(t, "C").RemainingSlots)
	})

	t.Run("exactly at deadline", func(t *testing.T) {
		f, a, b := setup(t)
		ctx := context.Background()
		require.NoError(t, f.svc.CancelBooking(ctx, a.BookingID))
		f.clock.Advance(time.Hour)

		err := f.svc.SelfConfirm(ctx, b.BookingID)
		assert.ErrorIs(t, err, model.ErrConfirmationWindowExpired)
	})

	t.Run("no capacity", func(t *testing.T) {
		f, _, b := setup(t)
		err := f.svc.SelfConfirm(context.Background(), b.BookingID)
		assert.ErrorIs(t, err, model.ErrCannotConfirm)
		assert.ErrorIs(t, err, model.ErrNoCapacity)
	})

	t.Run("confirmed booking has no waitlist entry", func(t *testing.T) {
		f, a, _ := setup(t)
		err := f.svc.SelfConfirm(context.Background(), a.BookingID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestGetStatus_ConfirmDeadline(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "C", epoch.Add(48*time.Hour), 2*time.Hour, 1)
	f.addUsers(t, "a", "b")

	a, err := f.svc.RequestBooking(ctx, "a", "C")
	require.NoError(t, err)
	b, err := f.svc.RequestBooking(ctx, "b", "C")
	require.NoError(t, err)

	view, err := f.svc.GetStatus(ctx, a.BookingID)
	require.NoError(t, err)
	assert.Nil(t, view.CanConfirmUntil)
	assert.Empty(t, view.ConfirmDeadline())

	view, err = f.svc.GetStatus(ctx, b.BookingID)
	require.NoError(t, err)
	require.NotNil(t, view.CanConfirmUntil)
	assert.Equal(t, epoch.Add(time.Hour), *view.CanConfirmUntil)
	assert.Equal(t, "2025-03-01T10:00:00Z", view.ConfirmDeadline())

	f.clock.Advance(2 * time.Hour)
	view, err = f.svc.GetStatus(ctx, b.BookingID)
	require.NoError(t, err)
	assert.True(t, view.Expired)
	assert.Equal(t, "Expired", view.ConfirmDeadline())
	assert.Equal(t, model.BookingStatusWaitlisted, view.Status, "expiry never cancels the entry")

	_, err = f.svc.GetStatus(ctx, model.BookingID("missing"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRequestBooking_ConcurrentLastSlot(t *testing.T) {
	f := newEngine(t)
	f.addConference(t, "C", epoch.Add(48*time.Hour), 2*time.Hour, 1)
	f.addUsers(t, "a", "b")

	var (
		wg      sync.WaitGroup
		results = make([]*BookingResult, 2)
		errs    = make([]error, 2)
	)
	for i, u := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			results[i], errs[i] = f.svc.RequestBooking(context.Background(), u, "C")
		}(i, u)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	statuses := []model.BookingStatus{results[0].Status, results[1].Status}
	assert.ElementsMatch(t, []model.BookingStatus{model.BookingStatusConfirmed, model.BookingStatusWaitlisted}, statuses)
	assert.Equal(t, 0, f.conference(t, "C").RemainingSlots)
	f.assertConserved(t, "C")
}

func TestCapacityConservedUnderMixedLoad(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()
	f.addConference(t, "C", epoch.Add(48*time.Hour), 2*time.Hour, 3)

	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	f.addUsers(t, users...)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			res, err := f.svc.RequestBooking(ctx, u, "C")
			if err != nil {
				return
			}
			if u == "u0" || u == "u3" || u == "u5" {
				_ = f.svc.CancelBooking(ctx, res.BookingID)
			}
		}(u)
	}
	wg.Wait()
	f.assertConserved(t, "C")

	_, err := f.svc.Drain(ctx, "C")
	require.NoError(t, err)
	f.assertConserved(t, "C")
	assert.Equal(t, 0, f.conference(t, "C").RemainingSlots)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newEngine(t)
	f.pub.err = errors.New("broker down")
	f.addConference(t, "C", epoch.Add(48*time.Hour), 2*time.Hour, 1)
	f.addUsers(t, "a")

	res, err := f.svc.RequestBooking(context.Background(), "a", "C")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, res.Status)
}

func TestNilPublisher(t *testing.T) {
	store := memstore.New()
	svc := NewAllocationService(store, clock.NewFake(epoch), NewConfirmationWindow(0), nil, zap.NewNop())
	f := &engineFixture{svc: svc, store: store}
	f.addConference(t, "C", epoch.Add(48*time.Hour), 2*time.Hour, 1)
	f.addUsers(t, "a")

	_, err := svc.RequestBooking(context.Background(), "a", "C")
	assert.NoError(t, err)
}
