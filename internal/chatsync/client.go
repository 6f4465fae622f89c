// Package chatsync keeps a client's view of a chat channel consistent with
// the change feed while reconciling the client's own optimistic writes.
//
// A Client runs a single event loop (Run) that owns every piece of channel
// state. Feed events, timer firings and the results of network calls are
// posted to that loop as closures, each tagged with the Session it was
// issued under; results for a session that is no longer current are
// dropped. Readers observe the state through immutable View snapshots.
package chatsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
)

const (
	DefaultTypingTimeout     = 3 * time.Second
	DefaultTypingRefresh     = time.Second
	DefaultHeartbeatInterval = 30 * time.Second

	// writeTimeout bounds writes that outlive the context that caused them,
	// such as the typing delete issued when a channel closes.
	writeTimeout = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	// UserID is the user the backend authenticates as.
	UserID int64
	// TypingTimeout is the inactivity window after which typing ends, for
	// both the local user and remote rows.
	TypingTimeout time.Duration
	// TypingRefresh is the minimum interval between typing upserts.
	TypingRefresh time.Duration
	// HeartbeatInterval is how often presence is rewritten. A negative
	// value disables presence.
	HeartbeatInterval time.Duration
	// NewBackOff returns the policy for resubscribing after a dropped feed.
	NewBackOff func() backoff.BackOff
}

func (o Options) withDefaults() Options {
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = DefaultTypingTimeout
	}
	if o.TypingRefresh <= 0 {
		o.TypingRefresh = DefaultTypingRefresh
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.NewBackOff == nil {
		o.NewBackOff = defaultBackOff
	}
	return o
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Client is the synchronization core behind a chat view. Its exported
// methods are safe for concurrent use; they return ErrClosed once Run has
// returned.
type Client struct {
	backend Backend
	feed    feed.Subscriber
	opts    Options

	actions  chan func()
	done     chan struct{}
	updates  chan struct{}
	statuses chan string
	view     atomic.Pointer[View]
	started  atomic.Bool
	runCtx   context.Context
	wg       sync.WaitGroup

	// Owned by the loop.
	session  *Session
	visible  bool
	replyTo  int64
	profiles map[int64]models.Profile
	presence map[int64]string
}

// New returns a client acting as opts.UserID. Call Run to start it.
func New(backend Backend, sub feed.Subscriber, opts Options) *Client {
	c := &Client{
		backend:  backend,
		feed:     sub,
		opts:     opts.withDefaults(),
		actions:  make(chan func()),
		done:     make(chan struct{}),
		updates:  make(chan struct{}, 1),
		statuses: make(chan string),
		profiles: make(map[int64]models.Profile),
		presence: make(map[int64]string),
	}
	c.view.Store(&View{})
	return c
}

// Run processes the event loop until ctx is cancelled. On the way out it
// closes the open channel, writes offline presence and waits for
// outstanding writes.
func (c *Client) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("chatsync: Run called twice")
	}
	c.runCtx = ctx

	if c.opts.HeartbeatInterval > 0 {
		c.spawn(func() { c.heartbeat(ctx) })
	}
	c.spawn(func() { c.watchProfiles(ctx) })
	c.spawn(func() { c.fetchSelf(ctx) })
	c.publish()

	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-ctx.Done():
			c.endSession()
			close(c.done)
			c.wg.Wait()
			return nil
		}
	}
}

// do runs fn on the loop and waits for it to finish.
func (c *Client) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.actions <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// post hands fn to the loop without waiting for it to run. It reports false
// once the loop has stopped.
func (c *Client) post(fn func()) bool {
	select {
	case c.actions <- fn:
		return true
	case <-c.done:
		return false
	}
}

// spawn runs fn on a goroutine Run waits for before returning.
func (c *Client) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// detached returns a context for a write that must complete even though
// the operation that caused it has been cancelled.
func (c *Client) detached() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.runCtx), writeTimeout)
}

// Snapshot returns the current view.
func (c *Client) Snapshot() View { return *c.view.Load() }

// Updates signals after the view changed. Signals coalesce: a reader that
// falls behind sees one pending signal and reads the latest Snapshot.
func (c *Client) Updates() <-chan struct{} { return c.updates }

// Presence returns the last known status of userID.
func (c *Client) Presence(userID int64) (string, bool) {
	status, ok := c.view.Load().presence[userID]
	return status, ok
}

func (c *Client) publish() {
	c.view.Store(c.buildView())
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *Client) fetchSelf(ctx context.Context) {
	p, err := c.backend.FetchProfile(ctx, c.opts.UserID)
	if err != nil || p == nil {
		return
	}
	profile := *p
	c.post(func() { c.applyProfile(profile) })
}
