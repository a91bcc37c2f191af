package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pay-core/internal/events"
	"github.com/noah-isme/pay-core/internal/obs"
)

type stubStore struct {
	lastTopic     string
	lastAggregate string
	lastPayload   []byte
}

func (s *stubStore) InsertDomainEvent(_ context.Context, topic, aggregateID string, payload []byte) (events.DomainEvent, error) {
	s.lastTopic = topic
	s.lastAggregate = aggregateID
	s.lastPayload = payload
	return events.DomainEvent{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now(),
	}, nil
}

type captureNotifier struct {
	events []events.DomainEvent
}

func (c *captureNotifier) Notify(_ context.Context, event events.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier},
	}

	aggregate := uuid.NewString()
	payload := map[string]any{"orderId": "123"}
	event, err := bus.Emit(context.Background(), events.TopicOrderPaid, aggregate, payload)
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderPaid, store.lastTopic)
	require.Equal(t, aggregate, store.lastAggregate)
	require.JSONEq(t, `{"orderId":"123"}`, string(store.lastPayload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "123", decoded["orderId"])
}

func TestEmitCountsEventsByTopic(t *testing.T) {
	obs.MustRegisterDomainMetrics("paycore_test", prometheus.NewRegistry())
	bus := events.Bus{Store: &stubStore{}}

	counter := obs.DomainEventsTotal.WithLabelValues(events.TopicPaymentFailed)
	before := testutil.ToFloat64(counter)
	_, err := bus.Emit(context.Background(), events.TopicPaymentFailed, uuid.NewString(), nil)
	require.NoError(t, err)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestEmitRequiresTopicAndAggregate(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), " ", "abc", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderPaid, "", nil)
	require.Error(t, err)
}
