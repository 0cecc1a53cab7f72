package camera

import (
	"context"
	"testing"
	"time"

	"owlcam/internal/assert"
)

func chanSink(c chan Event) EventSink {
	return EventSinkFunc(func(ev Event) { c <- ev })
}

func TestNotifierReplaceAndDrop(t *testing.T) {
	t.Parallel()

	var n Notifier
	first := make(chan Event, 4)
	second := make(chan Event, 4)

	// Nobody listening yet.
	n.emit(Event{Type: EventClosing})

	n.Subscribe(chanSink(first))
	n.emit(Event{Type: EventError, Description: "boom"})
	assert.DeepEqual(t, assert.ChanWritten(t, first), Event{Type: EventError, Description: "boom"})

	n.Subscribe(chanSink(second))
	n.emit(Event{Type: EventClosing})
	assert.DeepEqual(t, assert.ChanWritten(t, second), Event{Type: EventClosing})
	assert.ChanNotWritten(t, first, 10*time.Millisecond)

	n.Unsubscribe()
	n.emit(Event{Type: EventClosing})
	assert.ChanNotWritten(t, second, 10*time.Millisecond)
}

func TestOpResolvesOnce(t *testing.T) {
	t.Parallel()

	op := newOp[int]()
	select {
	case <-op.Done():
		t.Fatal("op done before resolution")
	default:
	}

	op.succeed(1)
	op.fail(ErrIO)
	op.succeed(2)
	v, err := op.Result()
	assert.NilErr(t, err)
	assert.DeepEqual(t, v, 1)

	f := failedOp[string](ErrCameraClosed)
	_, err = f.Result()
	assert.ErrorIs(t, err, ErrCameraClosed)
}

func TestOpWaitContext(t *testing.T) {
	t.Parallel()

	op := newOp[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := op.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
