package camera

import "sync"

type EventType string

const (
	EventClosing EventType = "cameraClosing"
	EventError   EventType = "error"
)

// Event is a lifecycle or error notification of an open camera.
type Event struct {
	Type        EventType `json:"eventType"`
	Description string    `json:"errorDescription,omitempty"`
}

// EventSink receives the events of one camera.
type EventSink interface {
	Send(ev Event)
}

// EventSinkFunc adapts a function to an EventSink.
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) Send(ev Event) { f(ev) }

// Notifier holds at most one subscriber. Subscribing replaces the previous
// sink and events emitted while no sink is set are dropped.
type Notifier struct {
	mu   sync.Mutex
	sink EventSink
}

func (n *Notifier) Subscribe(sink EventSink) {
	n.mu.Lock()
	n.sink = sink
	n.mu.Unlock()
}

func (n *Notifier) Unsubscribe() {
	n.mu.Lock()
	n.sink = nil
	n.mu.Unlock()
}

func (n *Notifier) emit(ev Event) {
	n.mu.Lock()
	sink := n.sink
	n.mu.Unlock()
	if sink != nil {
		sink.Send(ev)
	}
}
