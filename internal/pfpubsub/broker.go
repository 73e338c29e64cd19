// Package pfpubsub fans values out to subscribers without ever blocking the
// publisher. Slow subscribers lose values, and the loss is counted.
package pfpubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Broker publishes values of type T to subscribed channels.
type Broker[T any] struct {
	mtx         sync.Mutex
	subscribers map[chan<- T]*subscriber[T]
	active      atomic.Bool
}

type subscriber[T any] struct {
	allow func(T) bool
	ch    chan<- T
	stats Stats
}

// NewBroker returns an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: map[chan<- T]*subscriber[T]{},
	}
}

// Active reports whether there is at least one subscriber. Publishers can use
// it to avoid building values nobody will receive.
func (b *Broker[T]) Active() bool {
	return b.active.Load()
}

// Publish sends val to every subscriber whose allow func accepts it. Sends
// never block: a subscriber with a full channel has the value dropped.
func (b *Broker[T]) Publish(val T) {
	if !b.active.Load() {
		return
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	for _, sub := range b.subscribers {
		if sub.allow != nil && !sub.allow(val) {
			sub.stats.Skips++
			continue
		}
		select {
		case sub.ch <- val:
			sub.stats.Sends++
		default:
			sub.stats.Drops++
		}
	}
}

// Subscribe forwards published values to ch until the context is canceled,
// and then returns the final stats for the subscription along with the
// context error. A nil allow func accepts every value.
func (b *Broker[T]) Subscribe(ctx context.Context, allow func(T) bool, ch chan<- T) (Stats, error) {
	if err := func() error {
		b.mtx.Lock()
		defer b.mtx.Unlock()

		if _, ok := b.subscribers[ch]; ok {
			return errors.New("already subscribed")
		}

		b.subscribers[ch] = &subscriber[T]{allow: allow, ch: ch}
		b.active.Store(true)
		return nil
	}(); err != nil {
		return Stats{}, err
	}

	<-ctx.Done()

	b.mtx.Lock()
	defer b.mtx.Unlock()

	sub := b.subscribers[ch]
	delete(b.subscribers, ch)
	b.active.Store(len(b.subscribers) > 0)

	return sub.stats, ctx.Err()
}

// Stats returns the current stats for the subscription on ch.
func (b *Broker[T]) Stats(ch chan<- T) (Stats, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	sub, ok := b.subscribers[ch]
	if !ok {
		return Stats{}, errors.New("not subscribed")
	}

	return sub.stats, nil
}

// Stats counts what happened to published values for one subscriber.
type Stats struct {
	Skips uint64 `json:"skips"`
	Sends uint64 `json:"sends"`
	Drops uint64 `json:"drops"`
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("skips=%d sends=%d drops=%d", s.Skips, s.Sends, s.Drops)
}
