package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/repository/base"
)

type UserRepository struct {
	*base.Repository
}

func NewUserRepository(db base.DBTX) *UserRepository {
	return &UserRepository{Repository: base.NewRepository(db)}
}

// Create регистрирует пользователя
func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	interests := u.Interests
	if interests == nil {
		interests = []string{}
	}
	err := r.QueryRow(ctx, `
		INSERT INTO users (user_id, interests)
		VALUES ($1, $2)
		RETURNING created_at
	`, u.UserID, interests).Scan(&u.CreatedAt)
	if err != nil {
		return constraintError("create user", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return nil
}

func (r *UserRepository) Get(ctx context.Context, userID string) (*model.User, error) {
	return r.get(ctx, userID, "")
}

func (r *UserRepository) GetForUpdate(ctx context.Context, userID string) (*model.User, error) {
	return r.get(ctx, userID, " FOR UPDATE")
}

func (r *UserRepository) get(ctx context.Context, userID, lock string) (*model.User, error) {
	var u model.User
	err := r.QueryRow(ctx,
		`SELECT user_id, interests, created_at FROM users WHERE user_id = $1`+lock,
		userID,
	).Scan(&u.UserID, &u.Interests, &u.CreatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, model.NotFoundf("user", userID)
		}
		return nil, fmt.Errorf("get user: %w", classify(err))
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
