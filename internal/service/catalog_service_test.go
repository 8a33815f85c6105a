package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/clock"
	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/repository/memstore"
)

// mapCache is an in-process Cache that round-trips values through JSON like
// the Redis cache does.
type mapCache struct {
	entries     map[string][]byte
	hits        int
	invalidated int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string, dst any) (bool, error) {
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dst)
}

func (c *mapCache) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *mapCache) Invalidate(context.Context) error {
	c.entries = make(map[string][]byte)
	c.invalidated++
	return nil
}

func newCatalog(t *testing.T, cache Cache) (*CatalogService, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	return NewCatalogService(memstore.New(), clk, cache, zap.NewNop()), clk
}

func validConference() ConferenceInput {
	return ConferenceInput{
		Name:           "GopherCon EU",
		Location:       "Berlin",
		Topics:         []string{"go", "cloud"},
		StartTimestamp: "2025-06-10T09:00:00Z",
		EndTimestamp:   "2025-06-10T17:00:00Z",
		AvailableSlots: 100,
	}
}

func TestCatalogService_AddConference(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(in *ConferenceInput)
		wantErr error
	}{
		{name: "valid", mutate: func(*ConferenceInput) {}},
		{name: "punctuation in name", mutate: func(in *ConferenceInput) { in.Name = "Go-Con!" }, wantErr: model.ErrInvalidInput},
		{name: "empty location", mutate: func(in *ConferenceInput) { in.Location = "  " }, wantErr: model.ErrInvalidInput},
		{name: "bad topic", mutate: func(in *ConferenceInput) { in.Topics = []string{"go", "c++"} }, wantErr: model.ErrInvalidInput},
		{name: "too many topics", mutate: func(in *ConferenceInput) {
			in.Topics = strings.Fields("a b c d e f g h i j k")
		}, wantErr: model.ErrInvalidInput},
		{name: "bad timestamp", mutate: func(in *ConferenceInput) { in.StartTimestamp = "2025-06-10 09:00" }, wantErr: model.ErrInvalidInput},
		{name: "end before start", mutate: func(in *ConferenceInput) { in.EndTimestamp = "2025-06-10T08:00:00Z" }, wantErr: model.ErrInvalidInput},
		{name: "zero length", mutate: func(in *ConferenceInput) { in.EndTimestamp = in.StartTimestamp }, wantErr: model.ErrInvalidInput},
		{name: "exactly twelve hours", mutate: func(in *ConferenceInput) { in.EndTimestamp = "2025-06-10T21:00:00Z" }},
		{name: "longer than twelve hours", mutate: func(in *ConferenceInput) { in.EndTimestamp = "2025-06-10T21:00:01Z" }, wantErr: model.ErrInvalidInput},
		{name: "no slots", mutate: func(in *ConferenceInput) { in.AvailableSlots = 0 }, wantErr: model.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newCatalog(t, nil)
			in := validConference()
			tt.mutate(&in)

			conf, err := svc.AddConference(context.Background(), in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, in.AvailableSlots, conf.TotalSlots)
			assert.Equal(t, in.AvailableSlots, conf.RemainingSlots)
		})
	}
}

func TestCatalogService_AddConference_DuplicateName(t *testing.T) {
	svc, _ := newCatalog(t, nil)
	ctx := context.Background()

	_, err := svc.AddConference(ctx, validConference())
	require.NoError(t, err)
	_, err = svc.AddConference(ctx, validConference())
	assert.ErrorIs(t, err, model.ErrAlreadyExists)
}

func TestCatalogService_AddUser(t *testing.T) {
	many := make([]string, 51)
	for i := range many {
		many[i] = "topic" + strings.Repeat("x", i)
	}

	tests := []struct {
		name    string
		in      UserInput
		wantErr error
	}{
		{name: "valid", in: UserInput{UserID: "alice42", Interests: []string{"go", "machine learning"}}},
		{name: "no interests", in: UserInput{UserID: "bob"}},
		{name: "space in id", in: UserInput{UserID: "alice 42"}, wantErr: model.ErrInvalidInput},
		{name: "empty id", in: UserInput{}, wantErr: model.ErrInvalidInput},
		{name: "bad interest", in: UserInput{UserID: "carol", Interests: []string{"go!"}}, wantErr: model.ErrInvalidInput},
		{name: "too many interests", in: UserInput{UserID: "dave", Interests: many}, wantErr: model.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newCatalog(t, nil)
			user, err := svc.AddUser(context.Background(), tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in.UserID, user.UserID)
		})
	}
}

func TestCatalogService_SearchConferences(t *testing.T) {
	svc, _ := newCatalog(t, nil)
	ctx := context.Background()

	seed := []ConferenceInput{
		{Name: "Go Summit", Location: "Berlin", Topics: []string{"go"}, StartTimestamp: "2025-06-10T09:00:00Z", EndTimestamp: "2025-06-10T11:00:00Z", AvailableSlots: 5},
		{Name: "Cloud Day", Location: "Paris", Topics: []string{"cloud", "k8s"}, StartTimestamp: "2025-06-11T09:00:00Z", EndTimestamp: "2025-06-11T18:00:00Z", AvailableSlots: 5},
		{Name: "Rust Go Meetup", Location: "Berlin", Topics: []string{"rust"}, StartTimestamp: "2025-06-12T18:00:00Z", EndTimestamp: "2025-06-12T19:00:00Z", AvailableSlots: 5},
	}
	for _, in := range seed {
		_, err := svc.AddConference(ctx, in)
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		query SearchQuery
		want  []string
	}{
		{name: "all", query: SearchQuery{}, want: []string{"Go Summit", "Cloud Day", "Rust Go Meetup"}},
		{name: "location", query: SearchQuery{Location: "Berlin"}, want: []string{"Go Summit", "Rust Go Meetup"}},
		{name: "any topic", query: SearchQuery{Topics: []string{"k8s", "rust"}}, want: []string{"Cloud Day", "Rust Go Meetup"}},
		{name: "name substring", query: SearchQuery{Name: "go"}, want: []string{"Go Summit", "Rust Go Meetup"}},
		{name: "start date", query: SearchQuery{StartDate: "2025-06-11"}, want: []string{"Cloud Day", "Rust Go Meetup"}},
		{name: "end date inclusive", query: SearchQuery{EndDate: "2025-06-11"}, want: []string{"Go Summit", "Cloud Day"}},
		{name: "min duration", query: SearchQuery{MinDurationHours: 2}, want: []string{"Go Summit", "Cloud Day"}},
		{name: "max duration", query: SearchQuery{MaxDurationHours: 2}, want: []string{"Go Summit", "Rust Go Meetup"}},
		{name: "nothing", query: SearchQuery{Location: "Tokyo"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.SearchConferences(ctx, tt.query)
			require.NoError(t, err)
			names := make([]string, 0, len(got))
			for _, c := range got {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	_, err := svc.SearchConferences(ctx, SearchQuery{StartDate: "June"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestCatalogService_SuggestConferences(t *testing.T) {
	svc, clk := newCatalog(t, nil)
	ctx := context.Background()
	clk.Set(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	seed := []ConferenceInput{
		{Name: "Past Go", Location: "Berlin", Topics: []string{"go", "cloud"}, StartTimestamp: "2025-05-01T09:00:00Z", EndTimestamp: "2025-05-01T10:00:00Z", AvailableSlots: 1},
		{Name: "Go Cloud", Location: "Berlin", Topics: []string{"go", "cloud"}, StartTimestamp: "2025-06-20T09:00:00Z", EndTimestamp: "2025-06-20T10:00:00Z", AvailableSlots: 1},
		{Name: "Go Early", Location: "Berlin", Topics: []string{"go"}, StartTimestamp: "2025-06-05T09:00:00Z", EndTimestamp: "2025-06-05T10:00:00Z", AvailableSlots: 1},
		{Name: "Go Late", Location: "Berlin", Topics: []string{"go"}, StartTimestamp: "2025-06-25T09:00:00Z", EndTimestamp: "2025-06-25T10:00:00Z", AvailableSlots: 1},
		{Name: "Baking", Location: "Paris", Topics: []string{"bread"}, StartTimestamp: "2025-06-02T09:00:00Z", EndTimestamp: "2025-06-02T10:00:00Z", AvailableSlots: 1},
	}
	for _, in := range seed {
		_, err := svc.AddConference(ctx, in)
		require.NoError(t, err)
	}
	_, err := svc.AddUser(ctx, UserInput{UserID: "alice", Interests: []string{"go", "cloud"}})
	require.NoError(t, err)

	got, err := svc.SuggestConferences(ctx, "alice")
	require.NoError(t, err)
	names := make([]string, 0, len(got))
	for _, c := range got {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Go Cloud", "Go Early", "Go Late", "Baking"}, names)

	_, err = svc.SuggestConferences(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRankByInterests_Limit(t *testing.T) {
	var confs []*model.Conference
	for i := 0; i < 15; i++ {
		confs = append(confs, &model.Conference{
			Name:      string(rune('a' + i)),
			StartTime: epoch.Add(time.Duration(i) * time.Hour),
		})
	}
	got := rankByInterests(confs, nil, maxSuggestions)
	assert.Len(t, got, maxSuggestions)
	assert.Equal(t, "a", got[0].Name)
}

func TestCatalogService_CacheInvalidatedOnWrite(t *testing.T) {
	cache := newMapCache()
	svc, _ := newCatalog(t, cache)
	ctx := context.Background()

	_, err := svc.AddConference(ctx, validConference())
	require.NoError(t, err)

	first, err := svc.SearchConferences(ctx, SearchQuery{Location: "Berlin"})
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := svc.SearchConferences(ctx, SearchQuery{Location: "Berlin"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first[0].Name, again[0].Name)

	in := validConference()
	in.Name = "Second"
	_, err = svc.AddConference(ctx, in)
	require.NoError(t, err)

	after, err := svc.SearchConferences(ctx, SearchQuery{Location: "Berlin"})
	require.NoError(t, err)
	assert.Len(t, after, 2)
	assert.Equal(t, 2, cache.invalidated)
}
