package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/remind-api/internal/timefmt"
)

// DeliveryStatus tracks a reminder through the delivery state machine.
type DeliveryStatus string

const (
	DeliveryStatusNotSent DeliveryStatus = "not_sent"
	DeliveryStatusSending DeliveryStatus = "sending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// DefaultTitle is used when a reminder has no event text.
const DefaultTitle = "Alarm"

// Remind is a scheduled reminder. NotifyTime is derived from Time and
// Defer and must stay consistent with them at every persisted write;
// use SetTime/SetDefer instead of assigning the fields directly.
type Remind struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Time         time.Time      `json:"time" db:"time"`
	NotifyTime   time.Time      `json:"notify_time" db:"notify_time"`
	Defer        int            `json:"defer" db:"defer_minutes"`
	Desc         string         `json:"desc" db:"desc"`
	Remark       string         `json:"remark" db:"remark"`
	Event        string         `json:"event" db:"event"`
	MediaURL     string         `json:"media_url" db:"media_url"`
	Repeat       string         `json:"repeat" db:"repeat"`
	Owner        string         `json:"owner" db:"owner"`
	Participants pq.StringArray `json:"participants" db:"participants"`
	Status       DeliveryStatus `json:"status" db:"status"`
	RetryCount   int            `json:"retry_count" db:"retry_count"`
	SendingSince *time.Time     `json:"sending_since,omitempty" db:"sending_since"`
	CreateTime   time.Time      `json:"create_time" db:"create_time"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// NewRemind builds a reminder with NotifyTime already computed.
func NewRemind(owner string, at time.Time, deferMinutes int) *Remind {
	now := time.Now()
	r := &Remind{
		ID:           uuid.New(),
		Owner:        owner,
		Participants: pq.StringArray{},
		Status:       DeliveryStatusNotSent,
		CreateTime:   now,
		UpdatedAt:    now,
	}
	r.Time = at
	r.Defer = deferMinutes
	r.recomputeNotifyTime()
	return r
}

func (r *Remind) recomputeNotifyTime() {
	r.NotifyTime = timefmt.NotifyTime(r.Time, r.Defer)
}

// SetTime updates the target time and recomputes NotifyTime.
func (r *Remind) SetTime(t time.Time) {
	r.Time = t
	r.recomputeNotifyTime()
}

// SetDefer updates the offset (minutes, negative = earlier) and
// recomputes NotifyTime.
func (r *Remind) SetDefer(minutes int) {
	r.Defer = minutes
	r.recomputeNotifyTime()
}

// Title returns the display title, falling back to DefaultTitle.
func (r *Remind) Title() string {
	if r.Event != "" {
		return r.Event
	}
	return DefaultTitle
}

// LocalTimeString formats the target time for message payloads.
func (r *Remind) LocalTimeString() string {
	return r.Time.Local().Format("2006/01/02 15:04")
}

// Recipients returns owner first, then participants, with first-seen
// duplicates removed.
func (r *Remind) Recipients() []string {
	seen := make(map[string]struct{}, len(r.Participants)+1)
	out := make([]string, 0, len(r.Participants)+1)
	for _, uid := range append([]string{r.Owner}, r.Participants...) {
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}

// HasParticipant reports whether uid is in the participants set.
func (r *Remind) HasParticipant(uid string) bool {
	for _, p := range r.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// SubscribedBy reports whether uid will receive this reminder.
func (r *Remind) SubscribedBy(uid string) bool {
	return r.Owner == uid || r.HasParticipant(uid)
}

// Due reports whether the reminder should be dispatched at now.
func (r *Remind) Due(now time.Time) bool {
	if r.Status == DeliveryStatusSent || r.Status == DeliveryStatusSending {
		return false
	}
	return !r.NotifyTime.After(now)
}
