package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/clock"
	"github.com/Freeeeeet/conference_booking/internal/model"
)

const (
	maxConferenceTopics = 10
	maxUserInterests    = 50
	maxSuggestions      = 10
	dateLayout          = "2006-01-02"
)

// Cache stores catalog read results. Invalidate drops every cached entry.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context) error
}

type ConferenceInput struct {
	Name           string   `json:"name"`
	Location       string   `json:"location"`
	Topics         []string `json:"topics"`
	StartTimestamp string   `json:"start_timestamp"`
	EndTimestamp   string   `json:"end_timestamp"`
	AvailableSlots int      `json:"available_slots"`
}

type UserInput struct {
	UserID    string   `json:"user_id"`
	Interests []string `json:"interested_topics"`
}

// SearchQuery holds the raw search parameters. Empty fields are ignored.
type SearchQuery struct {
	Location         string   `json:"location,omitempty"`
	Topics           []string `json:"topics,omitempty"`
	Name             string   `json:"name,omitempty"`
	StartDate        string   `json:"start_date,omitempty"`
	EndDate          string   `json:"end_date,omitempty"`
	MinDurationHours int      `json:"min_duration,omitempty"`
	MaxDurationHours int      `json:"max_duration,omitempty"`
}

// CatalogService registers conferences and users and answers catalog reads.
type CatalogService struct {
	uow    model.UnitOfWork
	clock  clock.Clock
	cache  Cache
	logger *zap.Logger
}

// NewCatalogService создаёт сервис каталога. cache может быть nil.
func NewCatalogService(uow model.UnitOfWork, clk clock.Clock, cache Cache, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		uow:    uow,
		clock:  clk,
		cache:  cache,
		logger: logger,
	}
}

// AddConference валидирует и сохраняет конференцию
func (s *CatalogService) AddConference(ctx context.Context, in ConferenceInput) (*model.Conference, error) {
	conf, err := buildConference(in)
	if err != nil {
		return nil, err
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		return tx.Conferences().Create(ctx, conf)
	})
	if err != nil {
		return nil, fmt.Errorf("add conference: %w", err)
	}

	s.logger.Info("Conference added",
		zap.String("conference", conf.Name),
		zap.String("location", conf.Location),
		zap.Time("start", conf.StartTime),
		zap.Int("slots", conf.TotalSlots),
	)
	s.invalidate(ctx)

	return conf, nil
}

// AddUser валидирует и регистрирует пользователя
func (s *CatalogService) AddUser(ctx context.Context, in UserInput) (*model.User, error) {
	if in.UserID == "" || !isAlnum(in.UserID, false) {
		return nil, fmt.Errorf("%w: user_id must contain only letters and digits", model.ErrInvalidInput)
	}
	interests, err := normalizeTopics(in.Interests, maxUserInterests, "interested_topics")
	if err != nil {
		return nil, err
	}

	user := &model.User{UserID: in.UserID, Interests: interests}
	err = s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		return tx.Users().Create(ctx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("add user: %w", err)
	}

	s.logger.Info("User added",
		zap.String("user_id", user.UserID),
		zap.Int("interests", len(user.Interests)),
	)
	s.invalidate(ctx)

	return user, nil
}

// SearchConferences ищет конференции по фильтру
func (s *CatalogService) SearchConferences(ctx context.Context, q SearchQuery) ([]*model.Conference, error) {
	filter, err := q.filter()
	if err != nil {
		return nil, err
	}

	key, err := cacheKey("search", q)
	if err != nil {
		return nil, err
	}
	var cached []*model.Conference
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	var result []*model.Conference
	err = s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		result, err = tx.Conferences().Search(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search conferences: %w", err)
	}
	if result == nil {
		result = []*model.Conference{}
	}

	s.cacheSet(ctx, key, result)
	return result, nil
}

// SuggestConferences ранжирует ближайшие конференции по общим с интересами
// пользователя темам и отдаёт первые десять
func (s *CatalogService) SuggestConferences(ctx context.Context, userID string) ([]*model.Conference, error) {
	key, err := cacheKey("suggest", userID)
	if err != nil {
		return nil, err
	}
	var cached []*model.Conference
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	var (
		user     *model.User
		upcoming []*model.Conference
	)
	err = s.uow.Do(ctx, func(ctx context.Context, tx model.Tx) error {
		user, err = tx.Users().Get(ctx, userID)
		if err != nil {
			return err
		}
		upcoming, err = tx.Conferences().ListUpcoming(ctx, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("suggest conferences: %w", err)
	}

	result := rankByInterests(upcoming, user.Interests, maxSuggestions)
	s.cacheSet(ctx, key, result)
	return result, nil
}

func rankByInterests(conferences []*model.Conference, interests []string, limit int) []*model.Conference {
	scores := make(map[string]int, len(conferences))
	for _, c := range conferences {
		scores[c.Name] = c.SharedTopics(interests)
	}

	ranked := append([]*model.Conference(nil), conferences...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if scores[a.Name] != scores[b.Name] {
			return scores[a.Name] > scores[b.Name]
		}
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.Name < b.Name
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func buildConference(in ConferenceInput) (*model.Conference, error) {
	name := strings.TrimSpace(in.Name)
	location := strings.TrimSpace(in.Location)
	if name == "" || !isAlnum(name, true) {
		return nil, fmt.Errorf("%w: name must contain only letters, digits and spaces", model.ErrInvalidInput)
	}
	if location == "" || !isAlnum(location, true) {
		return nil, fmt.Errorf("%w: location must contain only letters, digits and spaces", model.ErrInvalidInput)
	}
	topics, err := normalizeTopics(in.Topics, maxConferenceTopics, "topics")
	if err != nil {
		return nil, err
	}

	start, err := model.ParseTimestamp(in.StartTimestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: start_timestamp must be YYYY-MM-DDTHH:MM:SSZ", model.ErrInvalidInput)
	}
	end, err := model.ParseTimestamp(in.EndTimestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: end_timestamp must be YYYY-MM-DDTHH:MM:SSZ", model.ErrInvalidInput)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", model.ErrInvalidInput)
	}
	if end.Sub(start) > model.MaxConferenceDuration {
		return nil, fmt.Errorf("%w: conference cannot last longer than %s", model.ErrInvalidInput, model.MaxConferenceDuration)
	}
	if in.AvailableSlots <= 0 {
		return nil, fmt.Errorf("%w: available_slots must be greater than 0", model.ErrInvalidInput)
	}

	return &model.Conference{
		Name:           name,
		Location:       location,
		Topics:         topics,
		StartTime:      start,
		EndTime:        end,
		TotalSlots:     in.AvailableSlots,
		RemainingSlots: in.AvailableSlots,
	}, nil
}

// normalizeTopics trims and de-duplicates topics, keeping first-seen order.
func normalizeTopics(raw []string, limit int, field string) ([]string, error) {
	topics := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" || !isAlnum(t, true) {
			return nil, fmt.Errorf("%w: %s must contain only letters, digits and spaces", model.ErrInvalidInput, field)
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}
	if len(topics) > limit {
		return nil, fmt.Errorf("%w: at most %d %s allowed", model.ErrInvalidInput, limit, field)
	}
	return topics, nil
}

// isAlnum accepts ASCII letters and digits, and spaces if allowSpace.
func isAlnum(s string, allowSpace bool) bool {
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		case r == ' ' && allowSpace:
		default:
			return false
		}
	}
	return true
}

func (q SearchQuery) filter() (model.ConferenceFilter, error) {
	f := model.ConferenceFilter{
		Location: strings.TrimSpace(q.Location),
		NameLike: strings.TrimSpace(q.Name),
	}
	for _, t := range q.Topics {
		if t = strings.TrimSpace(t); t != "" {
			f.Topics = append(f.Topics, t)
		}
	}

	if q.StartDate != "" {
		d, err := time.ParseInLocation(dateLayout, q.StartDate, time.UTC)
		if err != nil {
			return f, fmt.Errorf("%w: start_date must be YYYY-MM-DD", model.ErrInvalidInput)
		}
		f.StartFrom = &d
	}
	if q.EndDate != "" {
		d, err := time.ParseInLocation(dateLayout, q.EndDate, time.UTC)
		if err != nil {
			return f, fmt.Errorf("%w: end_date must be YYYY-MM-DD", model.ErrInvalidInput)
		}
		until := d.Add(24*time.Hour - time.Second)
		f.EndUntil = &until
	}

	if q.MinDurationHours < 0 || q.MaxDurationHours < 0 {
		return f, fmt.Errorf("%w: durations must not be negative", model.ErrInvalidInput)
	}
	f.MinDuration = time.Duration(q.MinDurationHours) * time.Hour
	f.MaxDuration = time.Duration(q.MaxDurationHours) * time.Hour

	return f, nil
}

func cacheKey(prefix string, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("build cache key: %w", err)
	}
	return prefix + ":" + string(raw), nil
}

func (s *CatalogService) cacheGet(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	ok, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.logger.Warn("Catalog cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (s *CatalogService) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.logger.Warn("Catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("Catalog cache invalidation failed", zap.Error(err))
	}
}
