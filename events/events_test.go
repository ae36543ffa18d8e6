package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/homefix/marketplace-api/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	types []string
	err   error

	mu   sync.Mutex
	seen []*Event
}

func (h *recordingHandler) EventTypes() []string { return h.types }

func (h *recordingHandler) Handle(ctx context.Context, event *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, event)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestNew_EnvelopeAndDecode(t *testing.T) {
	when := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	event, err := New(BookingCreated, BookingPayload{BookingID: 4, CustomerName: "Casey", ScheduledDate: when})
	require.NoError(t, err)

	assert.Equal(t, BookingCreated, event.RoutingKey)
	assert.NotEqual(t, [16]byte{}, [16]byte(event.EventID))
	assert.Equal(t, time.UTC, event.OccurredAt.Location())

	var payload BookingPayload
	require.NoError(t, event.Decode(&payload))
	assert.Equal(t, uint(4), payload.BookingID)
	assert.Equal(t, "Casey", payload.CustomerName)
	assert.True(t, when.Equal(payload.ScheduledDate))
}

func TestInProcessBus_DispatchesByRoutingKey(t *testing.T) {
	bus := NewInProcessBus(utils.NewDiscardLogger())
	bookings := &recordingHandler{types: []string{BookingCreated, BookingStatusChanged}}
	subs := &recordingHandler{types: []string{SubscriptionActivated}}
	bus.Register(bookings)
	bus.Register(subs)

	ctx := context.Background()
	require.NoError(t, Publish(ctx, bus, BookingCreated, BookingPayload{BookingID: 1}))
	require.NoError(t, Publish(ctx, bus, BookingStatusChanged, BookingPayload{BookingID: 1}))
	require.NoError(t, Publish(ctx, bus, "unknown.event", map[string]string{}))

	assert.Equal(t, 2, bookings.count())
	assert.Equal(t, 0, subs.count())
}

func TestInProcessBus_HandlerErrorsAreSwallowed(t *testing.T) {
	bus := NewInProcessBus(utils.NewDiscardLogger())
	failing := &recordingHandler{types: []string{BookingCreated}, err: errors.New("smtp down")}
	healthy := &recordingHandler{types: []string{BookingCreated}}
	bus.Register(failing)
	bus.Register(healthy)

	err := Publish(context.Background(), bus, BookingCreated, BookingPayload{BookingID: 9})
	assert.NoError(t, err, "publishers never see handler failures")
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, healthy.count(), "later handlers still run")
}

func TestRegistry_ReturnsLastError(t *testing.T) {
	registry := NewRegistry(utils.NewDiscardLogger())
	boom := errors.New("boom")
	registry.Register(&recordingHandler{types: []string{BookingReminder}, err: boom})

	event, err := New(BookingReminder, BookingPayload{})
	require.NoError(t, err)
	assert.ErrorIs(t, registry.Dispatch(context.Background(), event), boom)
	assert.ElementsMatch(t, []string{BookingReminder}, registry.EventTypes())
}

func TestPublish_UnencodablePayload(t *testing.T) {
	bus := NewInProcessBus(utils.NewDiscardLogger())
	err := Publish(context.Background(), bus, BookingCreated, map[string]interface{}{"bad": make(chan int)})
	assert.Error(t, err)
}
