package model

import "time"

// Conference is a named, capacity-bounded, time-boxed event.
type Conference struct {
	Name           string    `json:"name"`
	Location       string    `json:"location"`
	Topics         []string  `json:"topics"`
	StartTime      time.Time `json:"start_timestamp"`
	EndTime        time.Time `json:"end_timestamp"`
	TotalSlots     int       `json:"total_slots"`
	RemainingSlots int       `json:"available_slots"`
	CreatedAt      time.Time `json:"created_at"`
}

// MaxConferenceDuration bounds EndTime - StartTime.
const MaxConferenceDuration = 12 * time.Hour

// Overlaps reports whether the two conferences' half-open windows
// [StartTime, EndTime) intersect.
func (c *Conference) Overlaps(other *Conference) bool {
	return c.StartTime.Before(other.EndTime) && other.StartTime.Before(c.EndTime)
}

// Duration returns the length of the conference window.
func (c *Conference) Duration() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}

// HasFreeSlot reports whether at least one seat is unbooked.
func (c *Conference) HasFreeSlot() bool {
	return c.RemainingSlots > 0
}

// Clone returns a deep copy.
func (c *Conference) Clone() *Conference {
	cp := *c
	cp.Topics = append([]string(nil), c.Topics...)
	return &cp
}

// ConferenceFilter narrows a conference search. Zero values are ignored.
type ConferenceFilter struct {
	Location    string
	Topics      []string
	NameLike    string
	StartFrom   *time.Time // StartTime >= StartFrom
	EndUntil    *time.Time // EndTime <= EndUntil
	MinDuration time.Duration
	MaxDuration time.Duration
}

// Matches applies the filter in memory. The Postgres registry builds the
// equivalent WHERE clause instead.
func (f ConferenceFilter) Matches(c *Conference) bool {
	if f.Location != "" && c.Location != f.Location {
		return false
	}
	if len(f.Topics) > 0 && !sharesAny(c.Topics, f.Topics) {
		return false
	}
	if f.NameLike != "" && !containsFold(c.Name, f.NameLike) {
		return false
	}
	if f.StartFrom != nil && c.StartTime.Before(*f.StartFrom) {
		return false
	}
	if f.EndUntil != nil && c.EndTime.After(*f.EndUntil) {
		return false
	}
	if f.MinDuration > 0 && c.Duration() < f.MinDuration {
		return false
	}
	if f.MaxDuration > 0 && c.Duration() > f.MaxDuration {
		return false
	}
	return true
}

// SharedTopics counts how many of topics appear in c.Topics.
func (c *Conference) SharedTopics(topics []string) int {
	set := make(map[string]struct{}, len(c.Topics))
	for _, t := range c.Topics {
		set[t] = struct{}{}
	}
	n := 0
	for _, t := range topics {
		if _, ok := set[t]; ok {
			n++
			delete(set, t)
		}
	}
	return n
}

func sharesAny(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
