package push

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/remind-api/pkg/errors"
)

type fakeBroker struct {
	channel string
	message interface{}
	err     error
}

func (f *fakeBroker) Publish(_ context.Context, channel string, message interface{}) error {
	f.channel = channel
	f.message = message
	return f.err
}

func (f *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (f *fakeBroker) Close() error { return nil }

func TestSendTemplatePublishesEnvelope(t *testing.T) {
	broker := &fakeBroker{}
	sender := NewBrokerSender(broker, BrokerSenderConfig{
		Channel:  "remind.notifications",
		TopColor: "#459ae9",
	}, nil)

	payload := TemplatePayload{First: TemplateField{Value: "hello"}}
	deliveryID, err := sender.SendTemplate(context.Background(),
		"U1", "tmpl-1", "http://www.weixin.at/remind/abc/", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, deliveryID)

	assert.Equal(t, "remind.notifications", broker.channel)
	msg, ok := broker.message.(templateMessage)
	require.True(t, ok)
	assert.Equal(t, deliveryID, msg.DeliveryID)
	assert.Equal(t, "U1", msg.RecipientID)
	assert.Equal(t, "tmpl-1", msg.TemplateID)
	assert.Equal(t, "http://www.weixin.at/remind/abc/", msg.URL)
	assert.Equal(t, "#459ae9", msg.TopColor)
	assert.Equal(t, payload, msg.Data)
}

func TestSendTemplatePublishFailureIsTransportError(t *testing.T) {
	broker := &fakeBroker{err: errors.New("connection refused")}
	sender := NewBrokerSender(broker, BrokerSenderConfig{Channel: "remind.notifications"}, nil)

	_, err := sender.SendTemplate(context.Background(), "U1", "tmpl-1", "", TemplatePayload{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrTransport))
}
