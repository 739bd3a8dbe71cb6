package nats

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoveryops/internal/common/events"
)

func TestNotificationStreamConfig(t *testing.T) {
	cfg := NotificationStreamConfig()
	assert.Equal(t, NotificationStream, cfg.Name)
	assert.Equal(t, []string{"events.notification.>"}, cfg.Subjects)
	assert.Equal(t, 7*24*time.Hour, cfg.MaxAge)
	assert.Equal(t, 1, cfg.Replicas)
}

func TestDefaultConsumerConfig(t *testing.T) {
	cfg := DefaultConsumerConfig("notifier", NotificationStream, "events.notification.>")
	assert.Equal(t, 5, cfg.MaxDeliver)
	assert.Equal(t, 30*time.Second, cfg.AckWait)
}

func TestNotificationStream_DeduplicatesWithinWindow(t *testing.T) {
	js := NotificationStreamConfig().jetStream()
	assert.Equal(t, NotificationStream, js.Name)
	assert.Equal(t, "Post-commit reconciliation notifications", js.Description)
	assert.Equal(t, []string{events.SubjectPrefix + "notification.>"}, js.Subjects)
	assert.Equal(t, DuplicateWindow, js.Duplicates)
	assert.Equal(t, jetstream.LimitsPolicy, js.Retention)
}

type captureJS struct {
	msgs []*nats.Msg
	seen map[string]bool
}

func (c *captureJS) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if c.seen == nil {
		c.seen = map[string]bool{}
	}
	id := msg.Header.Get(jetstream.MsgIDHeader)
	dup := c.seen[id]
	c.seen[id] = true
	c.msgs = append(c.msgs, msg)
	return &jetstream.PubAck{Stream: NotificationStream, Duplicate: dup}, nil
}

func TestPublisher_MsgIDFollowsCausingEvent(t *testing.T) {
	js := &captureJS{}
	p := &Publisher{js: js, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	publish := func() *events.Event {
		evt, err := events.NewEvent(events.EventReceipt, "org_1", map[string]string{"payment_id": "pi_1"})
		require.NoError(t, err)
		evt.WithCorrelation("", "evt_stripe_1")
		require.NoError(t, p.Publish(context.Background(), evt))
		return evt
	}

	first := publish()
	second := publish()
	assert.NotEqual(t, first.ID, second.ID)

	require.Len(t, js.msgs, 2)
	for _, msg := range js.msgs {
		assert.Equal(t, "events.notification.receipt", msg.Subject)
		assert.Equal(t, "evt_stripe_1:notification.receipt", msg.Header.Get(jetstream.MsgIDHeader))
	}
	assert.True(t, js.seen["evt_stripe_1:notification.receipt"])

	var decoded events.Event
	require.NoError(t, json.Unmarshal(js.msgs[1].Data, &decoded))
	assert.Equal(t, second.ID, decoded.ID)
}

func TestMsgID(t *testing.T) {
	tests := []struct {
		name  string
		event events.Event
		want  string
	}{
		{
			name:  "caused by a processor event",
			event: events.Event{ID: "01J", Type: events.EventDisputeAlert, CausationID: "evt_9"},
			want:  "evt_9:notification.dispute_alert",
		},
		{
			name:  "no cause",
			event: events.Event{ID: "01J", Type: events.EventReceipt},
			want:  "01J",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MsgID(&tt.event))
		})
	}
}
