package relay

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Topic is the bus topic carrying a conversation's frames.
func Topic(convID string) string {
	return "conv:" + convID
}

// Bus carries raw frames between relay connections. The in-memory backend
// serves a single relay process; the redis backend shares conversations
// across relay instances.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	client *redis.Client
	group  string
	shared bool
}

// NewBus builds the redis streams bus when enabled, else an in-memory one.
func NewBus(ctx context.Context, s RedisSettings) (*Bus, error) {
	logger := newWatermillLogger(log.Logger)
	if !s.Enabled {
		// publish waits for the ack so that frames keep their order
		ch := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, logger)
		return &Bus{pub: ch, sub: ch, shared: true}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "relay: connect to redis at %s", s.Addr)
	}
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "relay: redis publisher")
	}

	// without a consumer group every relay instance reads every frame
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "relay: redis subscriber")
	}
	log.Info().Str("component", "relay").Str("redis_addr", s.Addr).Str("group", s.Group).Msg("using redis streams bus")
	return &Bus{pub: pub, sub: sub, client: client, group: s.Group}, nil
}

func (b *Bus) Publish(convID string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrapf(b.pub.Publish(Topic(convID), msg), "relay: publish to %s", Topic(convID))
}

func (b *Bus) Subscribe(ctx context.Context, convID string) (<-chan *message.Message, error) {
	topic := Topic(convID)
	if b.client != nil && b.group != "" {
		if err := b.ensureGroupAtTail(ctx, topic); err != nil {
			return nil, err
		}
	}
	ch, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "relay: subscribe to %s", topic)
	}
	return ch, nil
}

// ensureGroupAtTail creates the consumer group at the stream tail so a new
// group does not replay history.
func (b *Bus) ensureGroupAtTail(ctx context.Context, stream string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, b.group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "relay: create consumer group %s on %s", b.group, stream)
	}
	log.Info().Str("component", "relay").Str("stream", stream).Str("group", b.group).Msg("created redis consumer group at $ (tail)")
	return nil
}

func (b *Bus) Close() error {
	var firstErr error
	if err := b.sub.Close(); err != nil {
		firstErr = err
	}
	if !b.shared {
		if err := b.pub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.client != nil {
		if err := b.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
