package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDropped is reported by Subscription.Err when the transport lost the
// subscription. Events may have been missed; callers must resync.
var ErrDropped = errors.New("feed: subscription dropped")

// Publisher emits change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber opens filtered event streams.
type Subscriber interface {
	Subscribe(ctx context.Context, f Filter) (Subscription, error)
}

// Subscription is a live event stream. Events is closed when the stream
// ends; Err then reports why (nil after Close).
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Bus is a transport that both publishes and subscribes.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Stream is the Subscription plumbing shared by transports. The transport's
// receive goroutine owns sending and calls Finish exactly when it exits.
type Stream struct {
	events     chan Event
	done       chan struct{}
	stop       func() error
	closeOnce  sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewStream returns a stream whose Close runs stop to release transport
// resources. stop may be nil.
func NewStream(buffer int, stop func() error) *Stream {
	return &Stream{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		stop:   stop,
	}
}

func (s *Stream) Events() <-chan Event { return s.events }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the consumer has called Close.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.stop != nil {
			err = s.stop()
		}
	})
	return err
}

// Send delivers ev, blocking until the consumer receives it or closes the
// stream. It reports false once the stream is closed.
func (s *Stream) Send(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Finish ends the stream. A non-nil cause is recorded as ErrDropped unless
// the consumer already closed the stream.
func (s *Stream) Finish(cause error) {
	s.finishOnce.Do(func() {
		select {
		case <-s.done:
			cause = nil
		default:
		}
		if cause != nil {
			s.mu.Lock()
			if errors.Is(cause, ErrDropped) {
				s.err = cause
			} else {
				s.err = fmt.Errorf("%w: %v", ErrDropped, cause)
			}
			s.mu.Unlock()
		}
		close(s.events)
	})
}
