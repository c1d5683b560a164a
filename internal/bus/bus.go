package bus

import (
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls more than this many frames behind will stall publication until it
// drains; every consumer in this codebase reads from its subscription inside
// a dedicated select loop, so in practice the buffer only absorbs bursts.
const subscriberBuffer = 128

type Subscription chan any

// MessageBus fans inbound events out to independent subscribers. Each
// subscriber sees every event published to its topics after it subscribed, in
// publish order; there is no replay of history.
type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

func New(logger *slog.Logger) *PubSubBus {
	return &PubSubBus{
		ps:     pubsub.New(subscriberBuffer),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe", "topics", topics)
	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
