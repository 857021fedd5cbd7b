package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/remind-api/internal/model"
	"github.com/jwalitptl/remind-api/internal/repository"
	apperrors "github.com/jwalitptl/remind-api/pkg/errors"
)

type remindRepository struct {
	BaseRepository
}

func NewRemindRepository(base BaseRepository) repository.RemindRepository {
	return &remindRepository{base}
}

const remindColumns = `
	id, "time", notify_time, defer_minutes, "desc", remark, event,
	media_url, repeat, owner, participants, status, retry_count,
	sending_since, create_time, updated_at
`

// allowedRemindFields maps update-field names to columns; anything
// else is rejected so callers cannot clobber id or create_time.
var allowedRemindFields = map[string]string{
	"time":         `"time"`,
	"notify_time":  "notify_time",
	"defer":        "defer_minutes",
	"desc":         `"desc"`,
	"remark":       "remark",
	"event":        "event",
	"media_url":    "media_url",
	"repeat":       "repeat",
	"participants": "participants",
	"status":       "status",
	"retry_count":  "retry_count",
}

func (r *remindRepository) Create(ctx context.Context, remind *model.Remind) error {
	query := `
		INSERT INTO time_reminds (
			id, "time", notify_time, defer_minutes, "desc", remark, event,
			media_url, repeat, owner, participants, status, retry_count,
			create_time, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	if remind.ID == uuid.Nil {
		remind.ID = uuid.New()
	}
	if remind.CreateTime.IsZero() {
		remind.CreateTime = time.Now()
	}
	remind.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		remind.ID,
		remind.Time,
		remind.NotifyTime,
		remind.Defer,
		remind.Desc,
		remind.Remark,
		remind.Event,
		remind.MediaURL,
		remind.Repeat,
		remind.Owner,
		remind.Participants,
		remind.Status,
		remind.RetryCount,
		remind.CreateTime,
		remind.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

func (r *remindRepository) Get(ctx context.Context, id uuid.UUID) (*model.Remind, error) {
	query := `SELECT ` + remindColumns + ` FROM time_reminds WHERE id = $1`

	var remind model.Remind
	if err := r.db.GetContext(ctx, &remind, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("reminder", err)
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return &remind, nil
}

// FindDue returns the reminders whose notify time has arrived and
// that are still deliverable, newest target time first to match the
// default ordering. Records mid-dispatch are excluded by status.
func (r *remindRepository) FindDue(ctx context.Context, now time.Time, maxRetries int) ([]*model.Remind, error) {
	query := `
		SELECT ` + remindColumns + `
		FROM time_reminds
		WHERE notify_time <= $1
		  AND status IN ($2, $3)
		  AND retry_count < $4
		ORDER BY "time" DESC
	`

	var reminds []*model.Remind
	err := r.db.SelectContext(ctx, &reminds, query, now,
		model.DeliveryStatusNotSent, model.DeliveryStatusFailed, maxRetries)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find due reminders: %w", err)
	}
	return reminds, nil
}

func (r *remindRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)
	i := 1
	for name, value := range fields {
		column, ok := allowedRemindFields[name]
		if !ok {
			return apperrors.NewValidation(fmt.Sprintf("field %q is not updatable", name), nil)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, i))
		args = append(args, value)
		i++
	}
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, time.Now())
	i++
	args = append(args, id)

	query := fmt.Sprintf("UPDATE time_reminds SET %s WHERE id = $%d",
		strings.Join(setClauses, ", "), i)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("reminder", nil)
	}
	return nil
}

// CompareAndSetStatus atomically moves a reminder between delivery
// states. It reports false when the record was not in any of the
// expected source states, which is how concurrent cycles lose the
// race without error. Entering sending stamps the lease; landing on
// failed bumps the retry counter.
func (r *remindRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from []model.DeliveryStatus, to model.DeliveryStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	var lease *time.Time
	if to == model.DeliveryStatusSending {
		now := time.Now()
		lease = &now
	}
	retryBump := 0
	if to == model.DeliveryStatusFailed {
		retryBump = 1
	}

	query := `
		UPDATE time_reminds
		SET status = $1,
		    sending_since = $2,
		    retry_count = retry_count + $3,
		    updated_at = $4
		WHERE id = $5 AND status = ANY($6)
	`
	result, err := r.db.ExecContext(ctx, query, to, lease, retryBump, time.Now(), id, pq.Array(fromStrs))
	if err != nil {
		return false, fmt.Errorf("failed to update reminder status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// ReclaimStale releases sending leases older than olderThan so a
// cycle interrupted by shutdown cannot wedge records in sending.
func (r *remindRepository) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE time_reminds
		SET status = $1, sending_since = NULL, updated_at = $2
		WHERE status = $3 AND sending_since < $4
	`
	result, err := r.db.ExecContext(ctx, query,
		model.DeliveryStatusNotSent, time.Now(), model.DeliveryStatusSending, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale reminders: %w", err)
	}
	return result.RowsAffected()
}

func (r *remindRepository) ListByOwner(ctx context.Context, owner string) ([]*model.Remind, error) {
	query := `SELECT ` + remindColumns + ` FROM time_reminds WHERE owner = $1 ORDER BY "time" DESC`

	var reminds []*model.Remind
	if err := r.db.SelectContext(ctx, &reminds, query, owner); err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return reminds, nil
}
