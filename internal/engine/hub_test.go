package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubDeliversInSubscriptionOrder(t *testing.T) {
	var h Hub
	var got []string
	h.Subscribe(func(ev Event) { got = append(got, "a:"+ev.Kind.String()) })
	unsub := h.Subscribe(func(ev Event) { got = append(got, "b:"+ev.Kind.String()) })

	h.Emit(Event{Kind: PlayerReady})
	unsub()
	unsub()
	h.Emit(Event{Kind: RenderFinished})

	assert.Equal(t, []string{"a:player-ready", "b:player-ready", "a:render-finished"}, got)
}

func TestHubCloseSilences(t *testing.T) {
	var h Hub
	n := 0
	h.Subscribe(func(Event) { n++ })
	h.Close()
	h.Emit(Event{Kind: Error})
	h.Subscribe(func(Event) { n++ })()
	h.Emit(Event{Kind: Error})
	assert.Zero(t, n)
}
