package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/remind-api/internal/model"
)

// All repository interfaces in one file
type (
	// RemindRepository handles reminder persistence. UpdateFields is a
	// field-scoped write so concurrent edits to other columns survive;
	// CompareAndSetStatus is the atomic guard the delivery state
	// machine relies on.
	RemindRepository interface {
		Create(ctx context.Context, remind *model.Remind) error
		Get(ctx context.Context, id uuid.UUID) (*model.Remind, error)
		FindDue(ctx context.Context, now time.Time, maxRetries int) ([]*model.Remind, error)
		UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
		CompareAndSetStatus(ctx context.Context, id uuid.UUID, from []model.DeliveryStatus, to model.DeliveryStatus) (bool, error)
		ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)
		ListByOwner(ctx context.Context, owner string) ([]*model.Remind, error)
	}

	// UserRepository resolves recipient profiles
	UserRepository interface {
		Get(ctx context.Context, id string) (*model.User, error)
	}
)
