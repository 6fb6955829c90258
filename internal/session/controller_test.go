package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coderunner "github.com/gsarma/coderunner/sdk"
)

const waitTimeout = 2 * time.Second

type submitReply struct {
	id  string
	err error
}

type checkReply struct {
	resp *coderunner.CheckResponse
	err  error
}

type pendingSubmit struct {
	sub   coderunner.Submission
	reply chan submitReply
}

type pendingCheck struct {
	id    string
	reply chan checkReply
}

// fakeTransport hands every call to the test and blocks until the test
// answers it. Calls ignore their context so tests control exactly when a
// late response arrives.
type fakeTransport struct {
	submits chan pendingSubmit
	checks  chan pendingCheck
	stop    chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		submits: make(chan pendingSubmit, 16),
		checks:  make(chan pendingCheck, 16),
		stop:    make(chan struct{}),
	}
}

func (f *fakeTransport) Submit(_ context.Context, sub coderunner.Submission) (string, error) {
	p := pendingSubmit{sub: sub, reply: make(chan submitReply, 1)}
	f.submits <- p
	select {
	case r := <-p.reply:
		return r.id, r.err
	case <-f.stop:
		return "", errors.New("transport stopped")
	}
}

func (f *fakeTransport) Check(_ context.Context, id string) (*coderunner.CheckResponse, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	p := pendingCheck{id: id, reply: make(chan checkReply, 1)}
	f.checks <- p
	select {
	case r := <-p.reply:
		return r.resp, r.err
	case <-f.stop:
		return nil, errors.New("transport stopped")
	}
}

func (f *fakeTransport) nextSubmit(t *testing.T) pendingSubmit {
	t.Helper()
	select {
	case p := <-f.submits:
		return p
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for submit")
		return pendingSubmit{}
	}
}

func (f *fakeTransport) nextCheck(t *testing.T) pendingCheck {
	t.Helper()
	select {
	case p := <-f.checks:
		return p
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for check")
		return pendingCheck{}
	}
}

func (f *fakeTransport) requireNoCheck(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case p := <-f.checks:
		t.Fatalf("unexpected check for %q", p.id)
	case <-time.After(d):
	}
}

func (f *fakeTransport) requireNoSubmit(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case p := <-f.submits:
		t.Fatalf("unexpected submit of %q", p.sub.Code)
	case <-time.After(d):
	}
}

func (f *fakeTransport) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func newTestController(t *testing.T) (*Controller, *fakeTransport) {
	t.Helper()
	f := newFakeTransport()
	c := New(f,
		WithPollInterval(5*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	// Cleanups run last-in first-out: release blocked calls, then close.
	t.Cleanup(c.Close)
	t.Cleanup(func() { close(f.stop) })
	return c, f
}

func respond(resp *coderunner.CheckResponse) checkReply {
	return checkReply{resp: resp}
}

func waitStatus(t *testing.T, c *Controller, want Status) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Current().Status == want
	}, waitTimeout, time.Millisecond, "status never became %s", want)
	return c.Current()
}

// waitExited blocks until the goroutine of the current session returns.
func waitExited(t *testing.T, c *Controller) {
	t.Helper()
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	require.NotNil(t, s)
	select {
	case <-s.exited:
	case <-time.After(waitTimeout):
		t.Fatal("session goroutine did not exit")
	}
}

var pythonHello = Submission{
	Code:     "print('hi')",
	Language: "Python",
	Problem:  "one",
	Stdin:    "",
}

func TestController_RunsToFinished(t *testing.T) {
	c, f := newTestController(t)

	var (
		mu       sync.Mutex
		statuses []Status
		seqs     []uint64
	)
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s.Status)
		seqs = append(seqs, s.Seq)
	})

	snap, err := c.Submit(pythonHello)
	require.NoError(t, err)
	require.Equal(t, Submitting, snap.Status)
	require.NotZero(t, snap.Key)

	sub := f.nextSubmit(t)
	require.Equal(t, "print('hi')", sub.sub.Code)
	require.Equal(t, "Python", sub.sub.Language)
	require.Equal(t, "one", sub.sub.Problem)
	sub.reply <- submitReply{id: "abc-123"}

	snap = waitStatus(t, c, Running)
	require.Equal(t, "abc-123", snap.ExecutionID)

	for n := 0; n < 2; n++ {
		chk := f.nextCheck(t)
		require.Equal(t, "abc-123", chk.id)
		chk.reply <- respond(&coderunner.CheckResponse{Status: coderunner.StatusRunning})
	}
	chk := f.nextCheck(t)
	chk.reply <- respond(&coderunner.CheckResponse{
		Status:  coderunner.StatusFinished,
		Success: true,
		Runtime: 12,
		Output:  "hi\n",
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	final, err := c.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, Finished, final.Status)
	require.NotNil(t, final.Result)
	require.True(t, final.Result.Success)
	require.Equal(t, "hi\n", final.Result.Output)
	require.Equal(t, float64(12), final.Result.RuntimeMs)
	require.Nil(t, final.Err)
	require.Equal(t, "Execution completed successfully", final.Message())

	f.requireNoCheck(t, 30*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Status{Submitting, Running, Finished}, statuses)
	for i := 1; i < len(seqs); i++ {
		require.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestController_SubmitSendsStdinAsInput(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(Submission{Code: "x = input()", Language: "Python", Problem: "two", Stdin: "42\n"})
	require.NoError(t, err)

	sub := f.nextSubmit(t)
	require.Equal(t, "42\n", sub.sub.Input)
	sub.reply <- submitReply{id: "id-1"}
	waitStatus(t, c, Running)
}

func TestController_CancelDiscardsLateFinish(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "abc-123"}
	waitStatus(t, c, Running)

	chk := f.nextCheck(t)
	snap := c.Cancel()
	require.Equal(t, Cancelled, snap.Status)
	require.True(t, snap.CancelRequested)

	chk.reply <- respond(&coderunner.CheckResponse{
		Status:  coderunner.StatusFinished,
		Success: true,
		Output:  "hi\n",
	})
	waitExited(t, c)

	snap = c.Current()
	require.Equal(t, Cancelled, snap.Status)
	require.Nil(t, snap.Result)
	require.NotNil(t, snap.Err)
	require.Equal(t, "Execution terminated by user", snap.Err.Message)
	require.ErrorIs(t, snap.Err, ErrCancelled)
	f.requireNoCheck(t, 30*time.Millisecond)
}

func TestController_CancelWhileSubmitting(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	sub := f.nextSubmit(t)

	snap := c.Cancel()
	require.Equal(t, Cancelled, snap.Status)

	sub.reply <- submitReply{id: "late-id"}
	waitExited(t, c)

	snap = c.Current()
	require.Equal(t, Cancelled, snap.Status)
	require.Empty(t, snap.ExecutionID)
	f.requireNoCheck(t, 30*time.Millisecond)
}

func TestController_SubmitFailure(t *testing.T) {
	c, f := newTestController(t)

	refused := errors.New("connection refused")
	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{err: refused}

	snap := waitStatus(t, c, TransportError)
	require.Nil(t, snap.Result)
	require.NotNil(t, snap.Err)
	require.Equal(t, "Network Error: connection refused", snap.Err.Message)
	require.ErrorIs(t, snap.Err, ErrTransport)
	require.ErrorIs(t, snap.Err, refused)
	f.requireNoCheck(t, 30*time.Millisecond)
}

func TestController_CheckFailure(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "abc-123"}
	f.nextCheck(t).reply <- checkReply{err: errors.New("boom")}

	snap := waitStatus(t, c, TransportError)
	require.Equal(t, "Polling Error: boom", snap.Err.Message)
	require.ErrorIs(t, snap.Err, ErrTransport)
	require.Equal(t, "abc-123", snap.ExecutionID)
	f.requireNoCheck(t, 30*time.Millisecond)
}

func TestController_Nonexistent(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "gone"}
	f.nextCheck(t).reply <- respond(&coderunner.CheckResponse{Status: coderunner.StatusNonexistent})

	snap := waitStatus(t, c, TransportError)
	require.Nil(t, snap.Result)
	require.Equal(t, "Execution Error: Process not found", snap.Err.Message)
	require.ErrorIs(t, snap.Err, ErrNotFound)
	require.NotErrorIs(t, snap.Err, ErrTransport)
}

func TestController_NilCheckResponse(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "abc-123"}
	f.nextCheck(t).reply <- checkReply{}

	snap := waitStatus(t, c, TransportError)
	require.ErrorIs(t, snap.Err, coderunner.ErrMalformedResponse)
}

func TestController_SubmitWhileActiveToggles(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "abc-123"}
	waitStatus(t, c, Running)

	snap, err := c.Submit(pythonHello)
	require.NoError(t, err)
	require.Equal(t, Cancelled, snap.Status)
	require.Equal(t, "abc-123", snap.ExecutionID)
	f.requireNoSubmit(t, 30*time.Millisecond)
}

func TestController_CancelIsIdempotent(t *testing.T) {
	c, f := newTestController(t)

	snap := c.Cancel()
	require.Equal(t, Idle, snap.Status)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "abc-123"}
	waitStatus(t, c, Running)

	first := c.Cancel()
	second := c.Cancel()
	require.Equal(t, Cancelled, second.Status)
	require.Equal(t, first.Seq, second.Seq)
	require.Equal(t, first.Key, second.Key)
}

func TestController_CancelAfterFinishIsNoop(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "abc-123"}
	f.nextCheck(t).reply <- respond(&coderunner.CheckResponse{Status: coderunner.StatusFinished, ExitStatus: "Accepted"})
	waitStatus(t, c, Finished)

	snap := c.Cancel()
	require.Equal(t, Finished, snap.Status)
	require.False(t, snap.CancelRequested)
	require.Equal(t, "Accepted", snap.Message())
}

func TestController_NewSessionWaitsForPreviousPoll(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "first"}
	stale := f.nextCheck(t)
	require.Equal(t, "first", stale.id)
	c.Cancel()

	_, err = c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "second"}
	waitStatus(t, c, Running)

	// The first session's check is still unanswered, so the second session
	// must not start polling yet.
	f.requireNoCheck(t, 50*time.Millisecond)

	stale.reply <- respond(&coderunner.CheckResponse{Status: coderunner.StatusFinished, Output: "stale"})
	chk := f.nextCheck(t)
	require.Equal(t, "second", chk.id)
	chk.reply <- respond(&coderunner.CheckResponse{Status: coderunner.StatusFinished, Output: "fresh"})

	snap := waitStatus(t, c, Finished)
	require.Equal(t, "second", snap.ExecutionID)
	require.Equal(t, "fresh", snap.Result.Output)
	require.Equal(t, 1, f.peakInFlight())
}

func TestController_ObserverMayCancel(t *testing.T) {
	c, f := newTestController(t)

	var (
		mu       sync.Mutex
		statuses []Status
	)
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		statuses = append(statuses, s.Status)
		mu.Unlock()
		if s.Status == Running {
			c.Cancel()
		}
	})

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "abc-123"}
	waitStatus(t, c, Cancelled)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 3
	}, waitTimeout, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Status{Submitting, Running, Cancelled}, statuses)
}

func TestController_Unsubscribe(t *testing.T) {
	c, f := newTestController(t)

	var (
		mu    sync.Mutex
		count int
	)
	unsubscribe := c.Subscribe(func(Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	unsubscribe()
	unsubscribe()

	f.nextSubmit(t).reply <- submitReply{id: "abc-123"}
	waitStatus(t, c, Running)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
}

func TestController_WaitHonoursContext(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := c.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, Submitting, snap.Status)
}

func TestController_WaitWithoutSession(t *testing.T) {
	c, _ := newTestController(t)

	snap, err := c.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, Idle, snap.Status)
}

func TestController_Close(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{id: "abc-123"}
	waitStatus(t, c, Running)

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	// Answer any check that raced with Close so the goroutine can return.
	for done := false; !done; {
		select {
		case <-closed:
			done = true
		case chk := <-f.checks:
			chk.reply <- respond(&coderunner.CheckResponse{Status: coderunner.StatusRunning})
		case <-time.After(waitTimeout):
			t.Fatal("Close did not return")
		}
	}

	require.Equal(t, Running, c.Current().Status)
	_, err = c.Submit(pythonHello)
	require.ErrorIs(t, err, ErrClosed)

	_, err = c.Wait(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	f.requireNoCheck(t, 30*time.Millisecond)
}

func TestController_CloseWaitsForSupersededSession(t *testing.T) {
	c, f := newTestController(t)

	_, err := c.Submit(pythonHello)
	require.NoError(t, err)
	stuck := f.nextSubmit(t)
	c.Cancel()

	_, err = c.Submit(pythonHello)
	require.NoError(t, err)
	f.nextSubmit(t).reply <- submitReply{err: errors.New("connection refused")}
	waitStatus(t, c, TransportError)

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	// The first session is still inside Submit, which ignores cancellation.
	select {
	case <-closed:
		t.Fatal("Close returned while a superseded session was still running")
	case <-time.After(50 * time.Millisecond):
	}

	stuck.reply <- submitReply{id: "late-id"}
	select {
	case <-closed:
	case <-time.After(waitTimeout):
		t.Fatal("Close did not return")
	}
	require.Equal(t, TransportError, c.Current().Status)
}
