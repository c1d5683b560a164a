package fc

import (
	"context"
	"errors"
	"sync"
	"time"

	"mavgcs/internal/bus"
	"mavgcs/internal/link"
	"mavgcs/internal/mavlink"
)

var ErrSubscriptionStopped = errors.New("subscription stopped")

// Predicate narrows a frame to a T; the second return says whether it matched.
type Predicate[T any] func(mavlink.Frame) (T, bool)

// Subscription is a filtered, restartable tap of the frame topic. It observes
// only frames published after it was created and never self-terminates: it
// runs until Stop or a First timeout. Consume it through either Next/First or
// Events, not both.
type Subscription[T any] struct {
	bus  bus.MessageBus
	sub  bus.Subscription
	pred Predicate[T]

	stopOnce sync.Once
	stopped  chan struct{}

	pumpOnce sync.Once
	events   chan T
}

// Filter attaches a new subscription. Attach before triggering the traffic
// you intend to observe, or the response can win the race.
func Filter[T any](b bus.MessageBus, pred Predicate[T]) *Subscription[T] {
	return &Subscription[T]{
		bus:     b,
		sub:     b.Subscribe(link.TopicFrame),
		pred:    pred,
		stopped: make(chan struct{}),
		events:  make(chan T, 64),
	}
}

// Next blocks until the next matching item, context cancellation, or Stop.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-s.stopped:
			return zero, ErrSubscriptionStopped
		case raw, open := <-s.sub:
			if !open {
				return zero, ErrSubscriptionStopped
			}
			frame, isFrame := raw.(mavlink.Frame)
			if !isFrame {
				continue
			}
			if v, match := s.pred(frame); match {
				return v, nil
			}
		}
	}
}

// First waits up to timeout for one matching item. The boolean is false when
// the wait ended without a match.
func (s *Subscription[T]) First(ctx context.Context, timeout time.Duration) (T, bool) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := s.Next(waitCtx)
	return v, err == nil
}

// Events returns a channel of matches, closed after Stop. Intended for select
// loops that juggle several concurrent listeners.
func (s *Subscription[T]) Events() <-chan T {
	s.pumpOnce.Do(func() {
		go s.pump()
	})
	return s.events
}

func (s *Subscription[T]) pump() {
	defer close(s.events)
	for {
		select {
		case <-s.stopped:
			return
		case raw, open := <-s.sub:
			if !open {
				return
			}
			frame, isFrame := raw.(mavlink.Frame)
			if !isFrame {
				continue
			}
			v, match := s.pred(frame)
			if !match {
				continue
			}
			select {
			case <-s.stopped:
				return
			case s.events <- v:
			}
		}
	}
}

// Stop detaches from the bus. Idempotent; after Stop no further items are
// delivered on Next or Events.
func (s *Subscription[T]) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.bus.Unsubscribe(s.sub, link.TopicFrame)
	})
}
