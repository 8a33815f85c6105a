// Package seed loads conferences and users from a YAML file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/service"
)

type File struct {
	Conferences []Conference `yaml:"conferences"`
	Users       []User       `yaml:"users"`
}

type Conference struct {
	Name           string   `yaml:"name"`
	Location       string   `yaml:"location"`
	Topics         []string `yaml:"topics"`
	StartTimestamp string   `yaml:"start_timestamp"`
	EndTimestamp   string   `yaml:"end_timestamp"`
	AvailableSlots int      `yaml:"available_slots"`
}

type User struct {
	UserID    string   `yaml:"user_id"`
	Interests []string `yaml:"interested_topics"`
}

// Catalog is the subset of service.CatalogService seeding needs.
type Catalog interface {
	AddConference(ctx context.Context, in service.ConferenceInput) (*model.Conference, error)
	AddUser(ctx context.Context, in service.UserInput) (*model.User, error)
}

// Load reads and parses a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// Result counts what Apply did.
type Result struct {
	Conferences int
	Users       int
	Skipped     int
}

// Apply adds every record through the catalog. Records that already exist
// are skipped, so a seed can be applied on every start.
func (f *File) Apply(ctx context.Context, catalog Catalog, logger *zap.Logger) (Result, error) {
	var res Result

	for _, c := range f.Conferences {
		_, err := catalog.AddConference(ctx, service.ConferenceInput{
			Name:           c.Name,
			Location:       c.Location,
			Topics:         c.Topics,
			StartTimestamp: c.StartTimestamp,
			EndTimestamp:   c.EndTimestamp,
			AvailableSlots: c.AvailableSlots,
		})
		switch {
		case errors.Is(err, model.ErrAlreadyExists):
			res.Skipped++
		case err != nil:
			return res, fmt.Errorf("seed conference %q: %w", c.Name, err)
		default:
			res.Conferences++
		}
	}

	for _, u := range f.Users {
		_, err := catalog.AddUser(ctx, service.UserInput{UserID: u.UserID, Interests: u.Interests})
		switch {
		case errors.Is(err, model.ErrAlreadyExists):
			res.Skipped++
		case err != nil:
			return res, fmt.Errorf("seed user %q: %w", u.UserID, err)
		default:
			res.Users++
		}
	}

	logger.Info("Seed applied",
		zap.Int("conferences", res.Conferences),
		zap.Int("users", res.Users),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
