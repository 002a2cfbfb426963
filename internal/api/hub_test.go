package api

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSource delivers whatever is sent on events; closing it terminates.
type chanSource struct {
	events     chan core.TurretEvent
	alwaysFire atomic.Bool
}

func newChanSource() *chanSource {
	return &chanSource{events: make(chan core.TurretEvent)}
}

func (s *chanSource) NextRaw(ctx context.Context) (core.TurretEvent, bool) {
	select {
	case <-ctx.Done():
		return core.TurretEvent{}, false
	case ev, ok := <-s.events:
		return ev, ok
	}
}

func (s *chanSource) Apply(ev core.TurretEvent) core.TurretEvent {
	if s.alwaysFire.Load() {
		ev.Firing = true
	}
	return ev
}

func recv(t *testing.T, sub *Subscriber) core.TurretEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscriber closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return core.TurretEvent{}
	}
}

func TestHub_FansOut(t *testing.T) {
	src := newChanSource()
	hub := NewHub(src, nil)
	go hub.Run(context.Background())
	defer close(src.events)

	a, b := hub.Subscribe(), hub.Subscribe()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, hub.Count())

	src.events <- core.TurretEvent{Pan: 10, Tilt: 20}
	assert.Equal(t, core.TurretEvent{Pan: 10, Tilt: 20}, recv(t, a))
	assert.Equal(t, core.TurretEvent{Pan: 10, Tilt: 20}, recv(t, b))
}

func TestHub_SlowSubscriberGetsLatest(t *testing.T) {
	src := newChanSource()
	hub := NewHub(src, nil)
	go hub.Run(context.Background())
	defer close(src.events)

	sub := hub.Subscribe()
	src.events <- core.TurretEvent{Pan: 1}
	src.events <- core.TurretEvent{Pan: 2}
	src.events <- core.TurretEvent{Pan: 3}

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.last != nil && hub.last.Pan == 3
	}, time.Second, time.Millisecond)

	assert.Equal(t, 3, recv(t, sub).Pan)
	assert.Empty(t, sub.C)
}

func TestHub_NewSubscriberStartsWithLastEvent(t *testing.T) {
	src := newChanSource()
	hub := NewHub(src, nil)
	go hub.Run(context.Background())
	defer close(src.events)

	first := hub.Subscribe()
	src.events <- core.TurretEvent{Pan: 45, Firing: true}
	recv(t, first)

	late := hub.Subscribe()
	assert.Equal(t, core.TurretEvent{Pan: 45, Firing: true}, recv(t, late))
}

func TestHub_NewSubscriberSeesCurrentOverride(t *testing.T) {
	src := newChanSource()
	hub := NewHub(src, nil)
	go hub.Run(context.Background())
	defer close(src.events)

	src.alwaysFire.Store(true)
	first := hub.Subscribe()
	src.events <- core.TurretEvent{Pan: 45, Tilt: 60}
	assert.Equal(t, core.TurretEvent{Pan: 45, Tilt: 60, Firing: true}, recv(t, first))

	src.alwaysFire.Store(false)
	late := hub.Subscribe()
	assert.Equal(t, core.TurretEvent{Pan: 45, Tilt: 60}, recv(t, late))
}

func TestHub_TerminateClosesSubscribers(t *testing.T) {
	src := newChanSource()
	hub := NewHub(src, nil)
	go hub.Run(context.Background())

	sub := hub.Subscribe()
	close(src.events)

	select {
	case <-hub.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Zero(t, hub.Count())

	// subscribing after close yields a closed channel
	_, ok = <-hub.Subscribe().C
	assert.False(t, ok)

	// unsubscribing after close is harmless
	hub.Unsubscribe(sub)
}

func TestHub_Unsubscribe(t *testing.T) {
	src := newChanSource()
	hub := NewHub(src, nil)
	go hub.Run(context.Background())
	defer close(src.events)

	sub := hub.Subscribe()
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Zero(t, hub.Count())

	_, ok := <-sub.C
	assert.False(t, ok)
}
