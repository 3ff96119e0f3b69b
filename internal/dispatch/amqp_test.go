package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (p *fakePublisher) PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	p.exchange = exchange
	p.key = key
	p.msg = msg
	return nil, p.err
}

func TestAMQPClient_Send(t *testing.T) {
	pub := &fakePublisher{}
	c := newAMQPClientWithPublisher(AMQPConfig{Exchange: "digest", RoutingKey: "digest.email"}, pub)

	res, err := c.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.ID)
	assert.Equal(t, TransportAMQP, res.Transport)

	assert.Equal(t, "digest", pub.exchange)
	assert.Equal(t, "digest.email", pub.key)
	assert.Equal(t, "msg-1", pub.msg.MessageId)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)

	var body Message
	require.NoError(t, json.Unmarshal(pub.msg.Body, &body))
	assert.Equal(t, "owner@clinic.test", body.To)
	assert.Equal(t, "<p>hi</p>", body.HTML)
}

func TestAMQPClient_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	c := newAMQPClientWithPublisher(AMQPConfig{Exchange: "digest"}, pub)

	_, err := c.Send(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.NoError(t, c.Close())
}
