package push

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/jwalitptl/remind-api/pkg/errors"
	"github.com/jwalitptl/remind-api/pkg/messaging"
	"github.com/jwalitptl/remind-api/pkg/metrics"
)

// templateMessage is the wire envelope the gateway process consumes
// off the broker channel.
type templateMessage struct {
	DeliveryID  string          `json:"delivery_id"`
	RecipientID string          `json:"recipient_id"`
	TemplateID  string          `json:"template_id"`
	URL         string          `json:"url"`
	TopColor    string          `json:"top_color"`
	Data        TemplatePayload `json:"data"`
}

// BrokerSender publishes template messages onto a broker channel for
// the messaging gateway to deliver. Publishes are rate limited so a
// large fan-out cannot flood the gateway.
type BrokerSender struct {
	broker   messaging.Broker
	channel  string
	topColor string
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
}

type BrokerSenderConfig struct {
	Channel   string
	TopColor  string
	RateLimit rate.Limit
	RateBurst int
}

func NewBrokerSender(broker messaging.Broker, cfg BrokerSenderConfig, m *metrics.Metrics) *BrokerSender {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &BrokerSender{
		broker:   broker,
		channel:  cfg.Channel,
		topColor: cfg.TopColor,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  m,
	}
}

func (s *BrokerSender) SendTemplate(ctx context.Context, recipientID, templateID, url string, payload TemplatePayload) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}

	msg := templateMessage{
		DeliveryID:  uuid.NewString(),
		RecipientID: recipientID,
		TemplateID:  templateID,
		URL:         url,
		TopColor:    s.topColor,
		Data:        payload,
	}
	if err := s.broker.Publish(ctx, s.channel, msg); err != nil {
		if s.metrics != nil {
			s.metrics.PushPublishes.WithLabelValues("error").Inc()
		}
		return "", apperrors.NewTransport("failed to publish template message", err)
	}
	if s.metrics != nil {
		s.metrics.PushPublishes.WithLabelValues("success").Inc()
	}
	return msg.DeliveryID, nil
}
