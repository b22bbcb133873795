package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/snippetvault/internal/metrics"
	"github.com/sakif/snippetvault/internal/remote"
)

// One Redis channel per user, e.g. snippets:user:cv37rs3pp9olc6atsptg. Run
// pattern-subscribes to all of them at once.
const (
	channelPrefix  = "snippets:user:"
	channelPattern = channelPrefix + "*"
	publishTimeout = 2 * time.Second
)

// Compile-time check that *RedisRelay can stand in for the broker.
var _ Publisher = (*RedisRelay)(nil)

// RedisRelay publishes every change both to the local broker and to Redis,
// and feeds changes published by other instances into the local broker.
// Messages carry the sender's instance id so an instance never re-delivers
// its own events.
//
// DELIVERY GUARANTEES:
// Redis pub/sub is fire-and-forget. A message published while another
// instance is disconnected is lost for that instance's subscribers. Clients
// recover on their next feed reconnect, which starts with a fresh snapshot.
// Order per user is kept because one channel carries all of a user's events.
type RedisRelay struct {
	client     redis.UniversalClient
	broker     *Broker
	instanceID string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// relayMessage is the JSON payload on a user's channel. Event stays raw so it
// goes through remote.DecodeEvent on the receiving side like any other wire
// event.
type relayMessage struct {
	InstanceID string          `json:"instanceId"`
	UserID     string          `json:"userId"`
	Event      json.RawMessage `json:"event"`
}

// NewRedisRelay wraps broker. instanceID must differ between server
// instances sharing client; Run must be started for remote events to arrive.
func NewRedisRelay(client redis.UniversalClient, broker *Broker, instanceID string, logger *slog.Logger, m *metrics.Metrics) *RedisRelay {
	return &RedisRelay{
		client:     client,
		broker:     broker,
		instanceID: instanceID,
		logger:     logger,
		metrics:    m,
	}
}

func channelFor(userID string) string {
	return channelPrefix + userID
}

// Publish delivers locally first; a Redis failure is logged and does not
// affect local subscribers.
func (r *RedisRelay) Publish(userID string, ev remote.Event) {
	r.broker.Publish(userID, ev)

	payload, err := r.encode(userID, ev)
	if err != nil {
		r.logger.Error("relay encode failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	// not the caller's context: the write already happened and should be
	// announced even if the request that made it is gone
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, channelFor(userID), payload).Err(); err != nil {
		r.logger.Warn("relay publish failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.metrics.RecordRelay("out")
}

// Run listens for other instances' events until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	// Receive waits for the subscription confirmation, so a bad connection
	// fails here instead of silently delivering nothing.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("changefeed: subscribing to %s: %w", channelPattern, err)
	}
	r.logger.Info("relay listening",
		slog.String("pattern", channelPattern),
		slog.String("instance_id", r.instanceID),
	)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.receive(msg.Channel, msg.Payload)
		}
	}
}

func (r *RedisRelay) encode(userID string, ev remote.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("changefeed: encoding event %s: %w", ev.ID, err)
	}
	return json.Marshal(relayMessage{
		InstanceID: r.instanceID,
		UserID:     userID,
		Event:      raw,
	})
}

// receive handles one message from Redis. Malformed messages and messages
// whose user does not match their channel are dropped.
func (r *RedisRelay) receive(channel, payload string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("relay message dropped",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	// our own publish, already delivered locally
	if msg.InstanceID == r.instanceID {
		return
	}
	if msg.UserID == "" || strings.TrimPrefix(channel, channelPrefix) != msg.UserID {
		r.logger.Warn("relay message dropped",
			slog.String("channel", channel),
			slog.String("user_id", msg.UserID),
		)
		return
	}

	ev, err := remote.DecodeEvent(msg.Event)
	if err != nil {
		r.logger.Warn("relay event dropped",
			slog.String("user_id", msg.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	if owner := ev.UserID(); owner != "" && owner != msg.UserID {
		return
	}

	r.broker.Publish(msg.UserID, ev)
	r.metrics.RecordRelay("in")
}
