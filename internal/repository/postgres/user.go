package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jwalitptl/remind-api/internal/model"
	"github.com/jwalitptl/remind-api/internal/repository"
	apperrors "github.com/jwalitptl/remind-api/pkg/errors"
)

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

func (r *userRepository) Get(ctx context.Context, id string) (*model.User, error) {
	query := `
		SELECT id, nickname, subscribe, created_at, updated_at
		FROM wechat_users
		WHERE id = $1
	`

	var user model.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewLookup(fmt.Sprintf("user %s not found", id), err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
