package remind

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/remind-api/internal/model"
	"github.com/jwalitptl/remind-api/internal/repository"
	apperrors "github.com/jwalitptl/remind-api/pkg/errors"
)

// maxDeferMinutes bounds the offset to a year either way; anything
// beyond that is a malformed write.
const maxDeferMinutes = 366 * 24 * 60

type Service interface {
	Create(ctx context.Context, remind *model.Remind) error
	Get(ctx context.Context, id uuid.UUID) (*model.Remind, error)
	Update(ctx context.Context, id uuid.UUID, patch *UpdatePatch) (*model.Remind, error)
	AddParticipant(ctx context.Context, id uuid.UUID, uid string) error
	RemoveParticipant(ctx context.Context, id uuid.UUID, uid string) error
	IsSubscribed(ctx context.Context, id uuid.UUID, uid string) (bool, error)
	ListByOwner(ctx context.Context, owner string) ([]*model.Remind, error)
}

// UpdatePatch is a partial update; nil fields are untouched. Time and
// Defer changes recompute the notify time before anything persists.
type UpdatePatch struct {
	Time     *time.Time `json:"time"`
	Defer    *int       `json:"defer"`
	Desc     *string    `json:"desc"`
	Remark   *string    `json:"remark"`
	Event    *string    `json:"event"`
	MediaURL *string    `json:"media_url"`
	Repeat   *string    `json:"repeat"`
}

type service struct {
	repo repository.RemindRepository
}

func NewService(repo repository.RemindRepository) Service {
	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, remind *model.Remind) error {
	if err := validate(remind.Time, remind.Defer); err != nil {
		return err
	}
	if remind.Owner == "" {
		return apperrors.NewValidation("owner is required", nil)
	}
	if remind.ID == uuid.Nil {
		remind.ID = uuid.New()
	}
	if remind.Participants == nil {
		remind.Participants = pq.StringArray{}
	}
	remind.Status = model.DeliveryStatusNotSent
	remind.SetTime(remind.Time)

	if err := s.repo.Create(ctx, remind); err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.Remind, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) Update(ctx context.Context, id uuid.UUID, patch *UpdatePatch) (*model.Remind, error) {
	remind, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	if patch.Time != nil {
		remind.SetTime(*patch.Time)
		fields["time"] = remind.Time
	}
	if patch.Defer != nil {
		remind.SetDefer(*patch.Defer)
		fields["defer"] = remind.Defer
	}
	if err := validate(remind.Time, remind.Defer); err != nil {
		return nil, err
	}
	if patch.Time != nil || patch.Defer != nil {
		// The derived column rides along with whichever input moved.
		fields["notify_time"] = remind.NotifyTime
	}
	if patch.Desc != nil {
		remind.Desc = *patch.Desc
		fields["desc"] = remind.Desc
	}
	if patch.Remark != nil {
		remind.Remark = *patch.Remark
		fields["remark"] = remind.Remark
	}
	if patch.Event != nil {
		remind.Event = *patch.Event
		fields["event"] = remind.Event
	}
	if patch.MediaURL != nil {
		remind.MediaURL = *patch.MediaURL
		fields["media_url"] = remind.MediaURL
	}
	if patch.Repeat != nil {
		remind.Repeat = *patch.Repeat
		fields["repeat"] = remind.Repeat
	}
	if len(fields) == 0 {
		return remind, nil
	}

	if err := s.repo.UpdateFields(ctx, id, fields); err != nil {
		return nil, fmt.Errorf("failed to update reminder: %w", err)
	}
	return remind, nil
}

// AddParticipant subscribes uid to the reminder. Adding an existing
// participant is a no-op rather than an error; only the participants
// column is written. The owner is not special-cased here, recipient
// assembly dedups at dispatch time.
func (s *service) AddParticipant(ctx context.Context, id uuid.UUID, uid string) error {
	if uid == "" {
		return apperrors.NewValidation("participant id is required", nil)
	}
	remind, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if remind.HasParticipant(uid) {
		return nil
	}
	participants := append(append(pq.StringArray{}, remind.Participants...), uid)

	return s.repo.UpdateFields(ctx, id, map[string]interface{}{
		"participants": participants,
	})
}

func (s *service) RemoveParticipant(ctx context.Context, id uuid.UUID, uid string) error {
	remind, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !remind.HasParticipant(uid) {
		return nil
	}
	participants := make(pq.StringArray, 0, len(remind.Participants)-1)
	for _, p := range remind.Participants {
		if p != uid {
			participants = append(participants, p)
		}
	}

	return s.repo.UpdateFields(ctx, id, map[string]interface{}{
		"participants": participants,
	})
}

func (s *service) IsSubscribed(ctx context.Context, id uuid.UUID, uid string) (bool, error) {
	remind, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return remind.SubscribedBy(uid), nil
}

func (s *service) ListByOwner(ctx context.Context, owner string) ([]*model.Remind, error) {
	return s.repo.ListByOwner(ctx, owner)
}

func validate(t time.Time, deferMinutes int) error {
	if t.IsZero() {
		return apperrors.NewValidation("time is required", nil)
	}
	if deferMinutes < -maxDeferMinutes || deferMinutes > maxDeferMinutes {
		return apperrors.NewValidation("defer is out of range", nil)
	}
	return nil
}
