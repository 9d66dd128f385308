// Package pubsub implements a simple publish-subscribe broker used to
// fan out coordinator-side notifications (fresh RoundParameters at the
// start of each round) to an arbitrary number of readers without the
// publisher blocking on a slow subscriber.
package pubsub

import (
	"reflect"
	"sync"

	"github.com/eapache/channels"
)

// Broker is a single-producer, multi-consumer fan-out point. The zero
// value is not usable; construct with NewBroker.
type Broker struct {
	sync.Mutex

	subscribers map[*Subscription]struct{}

	lastValue   interface{}
	lastValueOk bool
	replayLast  bool
}

// NewBroker creates a new Broker. When replayLast is true, a newly
// created subscription immediately receives the most recently
// broadcast value (if any) before observing subsequent broadcasts.
func NewBroker(replayLast bool) *Broker {
	return &Broker{
		subscribers: make(map[*Subscription]struct{}),
		replayLast:  replayLast,
	}
}

// Broadcast publishes v to every current subscriber. Each subscriber
// has its own unbounded channel, so a slow subscriber never blocks
// the broadcaster or other subscribers.
func (b *Broker) Broadcast(v interface{}) {
	b.Lock()
	defer b.Unlock()

	if b.replayLast {
		b.lastValue = v
		b.lastValueOk = true
	}

	for sub := range b.subscribers {
		sub.ch.In() <- v
	}
}

// Subscribe creates a new Subscription that observes every subsequent
// Broadcast call (and the last broadcast value, if the broker was
// constructed with replayLast).
func (b *Broker) Subscribe() *Subscription {
	return b.SubscribeEx(nil)
}

// SubscribeEx is like Subscribe, but onSubscribe is invoked with the
// subscription's underlying channel while the broker lock is held,
// before any concurrent Broadcast can observe the new subscriber. It
// is the hook a caller uses to push a synthetic replay value that
// isn't simply "the last broadcast" (see roothash-style WatchBlocks
// replay in the teacher).
func (b *Broker) SubscribeEx(onSubscribe func(*channels.InfiniteChannel)) *Subscription {
	b.Lock()
	defer b.Unlock()

	sub := &Subscription{
		broker: b,
		ch:     channels.NewInfiniteChannel(),
	}

	if onSubscribe != nil {
		onSubscribe(sub.ch)
	} else if b.replayLast && b.lastValueOk {
		sub.ch.In() <- b.lastValue
	}

	b.subscribers[sub] = struct{}{}
	return sub
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.Lock()
	defer b.Unlock()
	delete(b.subscribers, sub)
}

// Close closes every current subscription. The Broker itself remains
// usable afterwards (new Subscribe calls are still valid); Close just
// releases whatever subscribers are outstanding at the time, which is
// what a process shutdown path wants.
func (b *Broker) Close() {
	b.Lock()
	subs := make([]*Subscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Subscription is a handle on one subscriber's feed. Call Unwrap to
// obtain a typed Go channel, and Close to stop receiving and release
// resources.
type Subscription struct {
	broker *Broker
	ch     *channels.InfiniteChannel

	closeOnce sync.Once
}

// Unwrap copies every value received on the subscription into dst, a
// directional or bidirectional Go channel of any element type
// (typically the type broadcast by the producer). It spawns a
// goroutine that runs until the subscription is closed; dst is closed
// when the copy loop exits.
//
// dst must be a channel value (e.g. chan *block.Block); passing
// anything else panics, matching the package's role as a thin,
// reflection-based adapter over the untyped InfiniteChannel beneath
// it.
func (s *Subscription) Unwrap(dst interface{}) {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Chan {
		panic("pubsub: Unwrap destination must be a channel")
	}

	go func() {
		defer rv.Close()
		for v := range s.ch.Out() {
			rv.Send(reflect.ValueOf(v))
		}
	}()
}

// Close unsubscribes and releases the underlying channel. Safe to
// call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.broker.unsubscribe(s)
		s.ch.Close()
	})
}
