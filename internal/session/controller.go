// Package session drives one remote code run at a time: submit, poll on a
// fixed cadence, and stop on a terminal status or a user cancel.
//
// Transport calls run on a per-session goroutine. Their responses are applied
// under the controller lock and only if the session is still the current one
// and still in the state the call was issued from, so a late reply can never
// revive a session the user already cancelled or replaced.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	coderunner "github.com/gsarma/coderunner/sdk"
)

// DefaultPollInterval is the delay between status checks.
const DefaultPollInterval = 500 * time.Millisecond

// Transport performs the network calls of a session.
// *coderunner.ExecutionsService satisfies it.
type Transport interface {
	Submit(ctx context.Context, sub coderunner.Submission) (string, error)
	Check(ctx context.Context, id string) (*coderunner.CheckResponse, error)
}

var _ Transport = (*coderunner.ExecutionsService)(nil)

// Option configures a Controller.
type Option func(*Controller)

// WithPollInterval sets the delay between status checks.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger used for session transitions.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller owns the single current execution session.
type Controller struct {
	transport Transport
	interval  time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	cur       *session
	closed    bool
	closedCh  chan struct{}
	seq       uint64
	observers map[int]func(Snapshot)
	nextObs   int
	pending   []Snapshot

	// notifyMu serialises observer delivery so snapshots arrive in Seq order.
	notifyMu sync.Mutex
}

// session is the mutable state behind a Snapshot. All fields except the
// channels and ctx are guarded by Controller.mu.
type session struct {
	key             uuid.UUID
	sub             Submission
	id              string
	status          Status
	result          *Result
	err             *Error
	cancelRequested bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // closed on the terminal transition
	exited chan struct{} // closed when the session goroutine returns
}

// New creates a Controller that talks to the remote service through t.
func New(t Transport, opts ...Option) *Controller {
	c := &Controller{
		transport: t,
		interval:  DefaultPollInterval,
		logger:    slog.Default(),
		closedCh:  make(chan struct{}),
		observers: make(map[int]func(Snapshot)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit starts a new run of sub. If a run is already submitting or running
// the call is treated as a stop request instead, matching a single run/stop
// toggle, and the cancelled snapshot is returned.
func (c *Controller) Submit(sub Submission) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.cur != nil && c.cur.status.Active() {
		snap := c.cancelLocked()
		c.mu.Unlock()
		c.flush()
		return snap, nil
	}

	prev := c.cur
	if prev != nil {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		key:    uuid.New(),
		sub:    sub,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	c.cur = s
	snap := c.transitionLocked(s, Submitting)
	c.mu.Unlock()
	c.flush()

	go c.run(s, prev)
	return snap, nil
}

// Cancel stops observing the current run. The remote job is not told to
// stop. Calling Cancel when nothing is in flight returns the current
// snapshot unchanged.
func (c *Controller) Cancel() Snapshot {
	c.mu.Lock()
	snap := c.cancelLocked()
	c.mu.Unlock()
	c.flush()
	return snap
}

func (c *Controller) cancelLocked() Snapshot {
	s := c.cur
	if s == nil || !s.status.Active() {
		return c.snapshotLocked(s)
	}
	s.cancelRequested = true
	s.cancel()
	s.err = cancelledError()
	return c.transitionLocked(s, Cancelled)
}

// Current returns a snapshot of the current session, or an Idle snapshot
// when nothing was submitted yet.
func (c *Controller) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(c.cur)
}

// Wait blocks until the current session reaches a terminal state and returns
// its final snapshot. It returns immediately when nothing was submitted.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	s := c.cur
	snap := c.snapshotLocked(s)
	c.mu.Unlock()
	if s == nil {
		return snap, nil
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return c.snapshotOf(s), ctx.Err()
	case <-c.closedCh:
		return c.snapshotOf(s), ErrClosed
	}
	return c.snapshotOf(s), nil
}

// Subscribe registers fn to receive every published snapshot, in order.
// fn runs outside the controller lock and may call back into the
// controller. The returned function removes the subscription.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

// Close tears the controller down: in-flight calls are aborted, the poll
// timer is stopped and Close waits for every session goroutine to return,
// including those of superseded sessions. A Transport that ignores its
// context therefore holds Close until its calls come back.
// The current session is dropped without a further transition.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.closedCh)
	s := c.cur
	if s != nil {
		s.cancel()
	}
	c.mu.Unlock()

	if s != nil {
		<-s.exited
	}
}

// run is the session goroutine: submit, then poll until terminal.
func (c *Controller) run(s *session, prev *session) {
	defer close(s.exited)
	if prev != nil {
		// s.exited closes only after every earlier session goroutine is gone.
		defer func() { <-prev.exited }()
	}

	id, err := c.transport.Submit(s.ctx, s.sub.wire())
	if !c.applySubmit(s, id, err) {
		return
	}

	// Only one poll loop may be live: let the previous session's goroutine
	// finish its last check before the first tick of this one.
	if prev != nil {
		select {
		case <-prev.exited:
		case <-s.ctx.Done():
			return
		}
	}
	c.poll(s)
}

// outcome is the tri-state result of a transport call as seen by a session.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeCancelled
	outcomeFailed
)

// classifyLocked decides the outcome from the session's own cancellation
// state first; the transport error only matters when nobody cancelled.
func classifyLocked(s *session, err error) outcome {
	if s.cancelRequested || s.ctx.Err() != nil {
		return outcomeCancelled
	}
	if err != nil {
		return outcomeFailed
	}
	return outcomeOK
}

// applySubmit records the submit response. It reports whether polling
// should start.
func (c *Controller) applySubmit(s *session, id string, err error) bool {
	c.mu.Lock()
	if c.cur != s || s.status != Submitting {
		c.mu.Unlock()
		c.logger.Debug("discarding stale submit response", "session", s.key)
		return false
	}

	var ok bool
	switch classifyLocked(s, err) {
	case outcomeCancelled:
	case outcomeFailed:
		s.err = submitError(err)
		c.transitionLocked(s, TransportError)
	case outcomeOK:
		s.id = id
		c.transitionLocked(s, Running)
		ok = true
	}
	c.mu.Unlock()
	c.flush()
	return ok
}

// applyCheck records one check response. It reports whether polling should
// continue.
func (c *Controller) applyCheck(s *session, resp *coderunner.CheckResponse, err error) bool {
	c.mu.Lock()
	if c.cur != s || s.status != Running {
		c.mu.Unlock()
		c.logger.Debug("discarding stale check response", "session", s.key, "execution_id", s.id)
		return false
	}

	if err == nil && resp == nil {
		err = coderunner.ErrMalformedResponse
	}

	var keepPolling bool
	switch classifyLocked(s, err) {
	case outcomeCancelled:
	case outcomeFailed:
		s.err = pollError(err)
		c.transitionLocked(s, TransportError)
	case outcomeOK:
		switch resp.Status {
		case coderunner.StatusRunning:
			keepPolling = true
		case coderunner.StatusFinished:
			s.result = &Result{
				Success:    resp.Success,
				RuntimeMs:  resp.Runtime,
				Output:     resp.Output,
				ErrorText:  resp.Error,
				ExitStatus: resp.ExitStatus,
			}
			c.transitionLocked(s, Finished)
		case coderunner.StatusNonexistent:
			s.err = notFoundError()
			c.transitionLocked(s, TransportError)
		default:
			s.err = pollError(errors.Join(coderunner.ErrUnknownStatus, errors.New(resp.Status.String())))
			c.transitionLocked(s, TransportError)
		}
	}
	c.mu.Unlock()
	c.flush()
	return keepPolling
}

// transitionLocked moves s to status and queues the snapshot for observers.
func (c *Controller) transitionLocked(s *session, status Status) Snapshot {
	s.status = status
	if status.Terminal() {
		s.cancel()
		close(s.done)
	}
	c.seq++
	snap := c.snapshotLocked(s)
	c.pending = append(c.pending, snap)

	attrs := []any{"session", s.key, "status", status}
	if s.id != "" {
		attrs = append(attrs, "execution_id", s.id)
	}
	if s.err != nil {
		attrs = append(attrs, "error", s.err.Message)
	}
	if status == TransportError {
		c.logger.Warn("session transition", attrs...)
	} else {
		c.logger.Info("session transition", attrs...)
	}
	return snap
}

func (c *Controller) snapshotOf(s *session) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(s)
}

func (c *Controller) snapshotLocked(s *session) Snapshot {
	if s == nil {
		return Snapshot{Status: Idle, Seq: c.seq}
	}
	snap := Snapshot{
		Key:             s.key,
		ExecutionID:     s.id,
		Status:          s.status,
		Submission:      s.sub,
		Err:             s.err.clone(),
		CancelRequested: s.cancelRequested,
		Seq:             c.seq,
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

// flush delivers queued snapshots. Whoever holds notifyMu drains the queue;
// callers that find it held leave their snapshots to the current holder.
func (c *Controller) flush() {
	for {
		if !c.notifyMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			batch := c.pending
			c.pending = nil
			observers := make([]func(Snapshot), 0, len(c.observers))
			for _, fn := range c.observers {
				observers = append(observers, fn)
			}
			c.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, snap := range batch {
				for _, fn := range observers {
					fn(snap)
				}
			}
		}
		c.notifyMu.Unlock()

		// A producer may have queued after our last drain but before the
		// unlock, and given up on TryLock. Go round again if so.
		c.mu.Lock()
		empty := len(c.pending) == 0
		c.mu.Unlock()
		if empty {
			return
		}
	}
}
