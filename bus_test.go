package mediagraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusOrder(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.True(t, b.Post(WarningEvent{Source: "n", Debug: string(rune('a' + i))}))
	}
	assert.Equal(t, 10, b.Pending())

	for i := 0; i < 10; i++ {
		ev, err := b.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, string(rune('a'+i)), ev.(WarningEvent).Debug)
	}
	assert.Equal(t, 0, b.Pending())
}

func TestBusNextBlocks(t *testing.T) {
	b := NewBus()

	got := make(chan Event, 1)
	go func() {
		ev, err := b.Next(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before anything was posted")
	case <-time.After(20 * time.Millisecond):
	}

	b.Post(EOSEvent{Source: "src"})
	select {
	case ev := <-got:
		assert.Equal(t, EOSEvent{Source: "src"}, ev)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Post")
	}
}

func TestBusClose(t *testing.T) {
	b := NewBus()
	b.Post(EOSEvent{Source: "a"})
	b.Close()
	b.Close()

	assert.False(t, b.Post(EOSEvent{Source: "b"}), "post after close")

	ev, err := b.Next(context.Background())
	require.NoError(t, err, "events posted before close are still delivered")
	assert.Equal(t, "a", ev.EventSource())

	_, err = b.Next(context.Background())
	assert.True(t, errors.Is(err, ErrBusClosed))
}

func TestBusNextContext(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestEventStrings(t *testing.T) {
	assert.Equal(t, "pipeline: state changed null -> playing (pending void-pending)",
		StateChangedEvent{Source: "pipeline", Old: StateNull, New: StatePlaying}.String())
	assert.Equal(t, "decoder: warning: boom", WarningEvent{Source: "decoder", Err: errors.New("boom")}.String())
	assert.Equal(t, "source: error: boom", ErrorEvent{Source: "source", Err: errors.New("boom")}.String())
	assert.Equal(t, "source: end of stream", EOSEvent{Source: "source"}.String())
}
