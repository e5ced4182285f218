// Package eventbus implements the Event broadcast described in spec.md §3,
// ported from original_source/rust/master/src/master.rs's MasterEvent enum.
// Go has no tagged-union enum, so Event is a single struct with a Kind tag
// and the payload fields relevant to that kind left zero otherwise.
package eventbus

import "sync/atomic"

// Kind distinguishes the variant of an Event.
type Kind int

const (
	Connected Kind = iota
	Disconnected
	ClusterRegistered
	ClusterRegistrationFailed
	DiagnosticsReceived
	Shutdown
	Error
)

// DisconnectReason classifies why a Disconnected event fired. It is never
// placed on the wire (see DESIGN.md, Open Question 4); it exists purely
// for in-process consumers such as tests and metrics.
type DisconnectReason int

const (
	ReasonUnspecified DisconnectReason = iota
	ReasonNormal
	ReasonTimeout
	ReasonError
	ReasonShutdown
)

// Event is the single payload type broadcast from connection tasks and
// servers to their supervisors and subscribers.
type Event struct {
	Kind Kind

	ConnectionID uint64
	ClusterName  string
	Reason       DisconnectReason
	Message      string

	DiagnosticsKind    byte
	DiagnosticsPayload []byte
}

// subscriberID uniquely identifies a live subscription so Unsubscribe can
// find it without relying on channel-direction type assertions.
type subscriberID uint64

type subscribeReq struct {
	id subscriberID
	ch chan Event
}

// Bus is a hand-rolled multi-subscriber broadcaster: the idiomatic Go
// substitute for Tokio's broadcast channel (see DESIGN.md). Each
// subscriber owns a bounded buffered channel; a full subscriber has its
// oldest unread event dropped rather than blocking the publisher.
type Bus struct {
	subscribe   chan subscribeReq
	unsubscribe chan subscriberID
	publish     chan Event
	done        chan struct{}
	nextID      uint64
}

// NewBus starts the bus's dispatch goroutine and returns a handle to it.
func NewBus() *Bus {
	b := &Bus{
		subscribe:   make(chan subscribeReq),
		unsubscribe: make(chan subscriberID),
		publish:     make(chan Event, 16),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	subscribers := make(map[subscriberID]chan Event)
	for {
		select {
		case req := <-b.subscribe:
			subscribers[req.id] = req.ch
		case id := <-b.unsubscribe:
			if ch, ok := subscribers[id]; ok {
				delete(subscribers, id)
				close(ch)
			}
		case ev := <-b.publish:
			for _, ch := range subscribers {
				select {
				case ch <- ev:
				default:
					// Slow subscriber: drop the oldest buffered event to
					// make room rather than block the publisher.
					select {
					case <-ch:
					default:
					}
					select {
					case ch <- ev:
					default:
					}
				}
			}
		case <-b.done:
			for _, ch := range subscribers {
				close(ch)
			}
			return
		}
	}
}

// Publish broadcasts ev to all current subscribers, non-blocking.
func (b *Bus) Publish(ev Event) {
	select {
	case b.publish <- ev:
	case <-b.done:
	}
}

// Subscription is a live registration on a Bus, returned by Subscribe.
type Subscription struct {
	id     subscriberID
	bus    *Bus
	Events <-chan Event
}

// Subscribe returns a new Subscription that will receive every event
// published after this call, buffered up to capacity events of slack
// before the oldest is dropped.
func (b *Bus) Subscribe(capacity int) *Subscription {
	ch := make(chan Event, capacity)
	id := subscriberID(atomic.AddUint64(&b.nextID, 1))
	select {
	case b.subscribe <- subscribeReq{id: id, ch: ch}:
	case <-b.done:
	}
	return &Subscription{id: id, bus: b, Events: ch}
}

// Unsubscribe stops delivery to this subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	select {
	case s.bus.unsubscribe <- s.id:
	case <-s.bus.done:
	}
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}
