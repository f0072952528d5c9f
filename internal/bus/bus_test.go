package bus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/store"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	var gotA, gotB Event
	b.Subscribe("a", func(ev Event) { gotA = ev })
	b.Subscribe("b", func(ev Event) { gotB = ev })

	b.Publish(Event{ThreadID: "t1", Kind: store.EventThreadResponse, Payload: map[string]interface{}{"text": "hi"}})

	require.Equal(t, "t1", gotA.ThreadID)
	require.Equal(t, "t1", gotB.ThreadID)
	require.Equal(t, store.EventThreadResponse, gotA.Kind)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("a", func(ev Event) { calls++ })
	b.Unsubscribe("a")

	b.Publish(Event{ThreadID: "t1", Kind: store.EventThreadNote})

	require.Equal(t, 0, calls)
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := New()
	called := false
	b.Subscribe("panicky", func(ev Event) { panic("boom") })
	b.Subscribe("normal", func(ev Event) { called = true })

	require.NotPanics(t, func() {
		b.Publish(Event{ThreadID: "t1", Kind: store.EventThreadNote})
	})
	require.True(t, called)
}
