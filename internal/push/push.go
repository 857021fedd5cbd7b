package push

import (
	"context"
)

// TemplateField is one slot of a template message.
type TemplateField struct {
	Value string `json:"value"`
	Color string `json:"color,omitempty"`
}

// TemplatePayload carries the rendered fields of a reminder
// notification: First is the headline, Keyword1 the description,
// Keyword2 the target time, Remark the offset note.
type TemplatePayload struct {
	First    TemplateField `json:"first"`
	Keyword1 TemplateField `json:"keyword1"`
	Keyword2 TemplateField `json:"keyword2"`
	Remark   TemplateField `json:"remark"`
}

// Sender delivers a template message to one recipient and returns
// the transport's delivery id for audit. Implementations must honor
// ctx cancellation; errors are transport errors.
type Sender interface {
	SendTemplate(ctx context.Context, recipientID, templateID, url string, payload TemplatePayload) (string, error)
}
