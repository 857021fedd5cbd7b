package model

// DeliveryOutcome is the result of one per-recipient delivery attempt.
type DeliveryOutcome string

const (
	OutcomeSent    DeliveryOutcome = "sent"
	OutcomeSkipped DeliveryOutcome = "skipped"
	OutcomeFailed  DeliveryOutcome = "failed"
)

// RecipientResult records what happened for a single recipient.
type RecipientResult struct {
	RecipientID string          `json:"recipient_id"`
	Outcome     DeliveryOutcome `json:"outcome"`
	DeliveryID  string          `json:"delivery_id,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// DeliveryResult aggregates per-recipient outcomes for one reminder.
// Partial failure is not an error; callers decide the record's fate
// from the counts.
type DeliveryResult struct {
	RemindID   string            `json:"remind_id"`
	Recipients []RecipientResult `json:"recipients"`
	Sent       int               `json:"sent"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
}

// Add records one recipient outcome and bumps the matching counter.
func (d *DeliveryResult) Add(res RecipientResult) {
	d.Recipients = append(d.Recipients, res)
	switch res.Outcome {
	case OutcomeSent:
		d.Sent++
	case OutcomeSkipped:
		d.Skipped++
	case OutcomeFailed:
		d.Failed++
	}
}

// Delivered reports whether the reminder can be marked sent: at least
// one recipient resolved and none is left waiting on a hard failure
// alone. All-failed means the record stays retryable.
func (d *DeliveryResult) Delivered() bool {
	return d.Sent+d.Skipped > 0
}

// CycleReport summarizes one scan-and-dispatch cycle.
type CycleReport struct {
	Scanned int `json:"scanned"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}
