package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishToThemeSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("theme-1", 4)
	defer cancel()

	hub.Publish(Event{Kind: EventNew, Topic: "extraction", ThemeID: "theme-1"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventNew, ev.Kind)
		assert.Equal(t, "extraction", ev.Topic)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestHub_ThemeFilter(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("theme-1", 4)
	defer cancel()

	hub.Publish(Event{Topic: "extraction", ThemeID: "theme-2"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for other theme: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_WildcardSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("", 4)
	defer cancel()

	hub.Publish(Event{Topic: "linking", ThemeID: "theme-2"})

	select {
	case ev := <-ch:
		assert.Equal(t, "theme-2", ev.ThemeID)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("theme-1", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Second publish overflows the buffer and must be dropped, not block.
		hub.Publish(Event{Topic: "a", ThemeID: "theme-1"})
		hub.Publish(Event{Topic: "b", ThemeID: "theme-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("theme-1", 4)
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Publishing after cancel must not panic.
	hub.Publish(Event{Topic: "extraction", ThemeID: "theme-1"})
}
