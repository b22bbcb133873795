package changefeed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippetvault/internal/remote"
)

func newTestRelay(t *testing.T, instanceID string) (*RedisRelay, *Broker) {
	t.Helper()
	// Nothing listens on port 1: publishes fail fast and are only logged.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	b := NewBroker(testLogger())
	t.Cleanup(b.Close)
	return NewRedisRelay(client, b, instanceID, testLogger(), nil), b
}

func TestRelay_PublishDeliversLocallyWithoutRedis(t *testing.T) {
	relay, b := newTestRelay(t, "inst-a")

	var rec recorder
	unsub, err := b.Subscribe("u1", rec.fn, nil)
	require.NoError(t, err)
	defer unsub()

	relay.Publish("u1", remote.AddedEvent(snippet("a", "u1")))
	assert.Eventually(t, func() bool { return len(rec.ids()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRelay_ReceiveFromOtherInstance(t *testing.T) {
	sender, _ := newTestRelay(t, "inst-a")
	receiver, b := newTestRelay(t, "inst-b")

	var rec recorder
	unsub, err := b.Subscribe("u1", rec.fn, nil)
	require.NoError(t, err)
	defer unsub()

	payload, err := sender.encode("u1", remote.ModifiedEvent(snippet("a", "u1")))
	require.NoError(t, err)
	receiver.receive(channelFor("u1"), string(payload))

	assert.Eventually(t, func() bool { return len(rec.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"modified:a"}, rec.ids())

	rec.mu.Lock()
	got := rec.events[0].Snippet
	rec.mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "t-a", got.Title)
	assert.True(t, got.Date.Equal(snippet("a", "u1").Date))
}

func TestRelay_ReceiveDrops(t *testing.T) {
	relay, b := newTestRelay(t, "inst-a")
	other, _ := newTestRelay(t, "inst-b")

	var rec recorder
	unsub, err := b.Subscribe("u1", rec.fn, nil)
	require.NoError(t, err)
	defer unsub()

	own, err := relay.encode("u1", remote.RemovedEvent("a"))
	require.NoError(t, err)

	foreign, err := other.encode("u1", remote.AddedEvent(snippet("a", "u2")))
	require.NoError(t, err)

	wrongChannel, err := other.encode("u2", remote.RemovedEvent("a"))
	require.NoError(t, err)

	badEvent, err := json.Marshal(relayMessage{
		InstanceID: "inst-b",
		UserID:     "u1",
		Event:      json.RawMessage(`{"kind":"added","id":"a","snippet":{"title":""}}`),
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		channel string
		payload string
	}{
		{"own instance", channelFor("u1"), string(own)},
		{"snapshot owned by another user", channelFor("u1"), string(foreign)},
		{"user does not match channel", channelFor("u1"), string(wrongChannel)},
		{"malformed document", channelFor("u1"), string(badEvent)},
		{"not json", channelFor("u1"), "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay.receive(tt.channel, tt.payload)
		})
	}

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.ids())
}
