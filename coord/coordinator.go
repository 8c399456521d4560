// Package coord enforces at most one in-flight external request per session
// and request kind, and drops results of superseded requests.
package coord

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lightart "github.com/Paranoid-AF/lightart"
)

// DefaultTimeout bounds each external call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// ErrSuperseded is returned by Handle.Wait when the request was cancelled or
// replaced by a newer request before its result could be applied.
var ErrSuperseded = errors.New("request superseded")

// Call performs one external request. It must honour ctx cancellation.
type Call func(ctx context.Context) (string, error)

// Outcome is delivered to the Sink for every applied request.
// Err is a *lightart.RequestFailed when the call failed or timed out.
type Outcome struct {
	SessionID string
	Kind      string
	RequestID uint64
	Output    string
	Latency   time.Duration
	Err       error
}

// Sink receives applied outcomes. It runs while the coordinator holds its
// lock, so it must not block and must not call back into the Coordinator.
type Sink func(Outcome)

type key struct {
	session string
	kind    string
}

// Coordinator tracks the current request id per (session, kind).
type Coordinator struct {
	timeout time.Duration
	sink    Sink

	mu       sync.Mutex
	nextID   uint64
	inflight map[key]*Handle
	closed   bool
}

// New creates a coordinator. A zero timeout selects DefaultTimeout.
// sink may be nil when every caller waits on its Handle.
func New(timeout time.Duration, sink Sink) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		timeout:  timeout,
		sink:     sink,
		inflight: make(map[key]*Handle),
	}
}

// Submit cancels any in-flight request of the same kind for the session,
// assigns a new request id and dispatches call asynchronously.
// It never blocks on the call.
func (c *Coordinator) Submit(sessionID, kind string, call Call) *Handle {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)

	c.mu.Lock()
	c.nextID++
	h := &Handle{
		SessionID: sessionID,
		Kind:      kind,
		ID:        c.nextID,
		coord:     c,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if c.closed {
		c.mu.Unlock()
		cancel()
		h.finish("", ErrSuperseded, false)
		return h
	}
	k := key{sessionID, kind}
	if prev, ok := c.inflight[k]; ok {
		c.supersedeLocked(prev)
	}
	c.inflight[k] = h
	c.mu.Unlock()

	submittedTotal.WithLabelValues(kind).Inc()
	slog.Debug("request submitted", "session", sessionID, "kind", kind, "request_id", h.ID)

	go func() {
		start := time.Now()
		out, err := call(ctx)
		elapsed := time.Since(start)
		if err == nil && ctx.Err() == context.DeadlineExceeded {
			err = ctx.Err()
		}
		cancel()
		c.complete(h, out, err, elapsed)
	}()

	return h
}

// OnResult applies a result for requestID if it is still the tracked request
// for (sessionID, kind). Results for superseded or cancelled requests are
// dropped and OnResult returns false.
func (c *Coordinator) OnResult(sessionID, kind string, requestID uint64, output string, err error) bool {
	c.mu.Lock()
	h, ok := c.inflight[key{sessionID, kind}]
	c.mu.Unlock()
	if !ok || h.ID != requestID {
		staleTotal.WithLabelValues(kind).Inc()
		slog.Debug("stale result dropped", "session", sessionID, "kind", kind, "request_id", requestID)
		return false
	}
	return c.complete(h, output, err, 0)
}

// complete applies the result of h if h is still current.
func (c *Coordinator) complete(h *Handle, out string, err error, elapsed time.Duration) bool {
	if elapsed > 0 {
		latencySeconds.WithLabelValues(h.Kind).Observe(elapsed.Seconds())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{h.SessionID, h.Kind}
	cur, ok := c.inflight[k]
	if !ok || cur != h {
		staleTotal.WithLabelValues(h.Kind).Inc()
		slog.Debug("stale result dropped", "session", h.SessionID, "kind", h.Kind, "request_id", h.ID)
		// Supersession already finished the handle.
		return false
	}
	delete(c.inflight, k)

	if err != nil {
		err = &lightart.RequestFailed{Kind: h.Kind, SessionID: h.SessionID, RequestID: h.ID, Cause: err}
		failedTotal.WithLabelValues(h.Kind).Inc()
		slog.Debug("request failed", "session", h.SessionID, "kind", h.Kind, "request_id", h.ID, "error", err)
	} else {
		appliedTotal.WithLabelValues(h.Kind).Inc()
	}

	h.finish(out, err, true)
	if c.sink != nil {
		c.sink(Outcome{
			SessionID: h.SessionID,
			Kind:      h.Kind,
			RequestID: h.ID,
			Output:    out,
			Latency:   elapsed,
			Err:       err,
		})
	}
	return true
}

// Cancel forgets the tracked request for (sessionID, kind) so its result is
// ignored, and cancels its context. The transport may still finish the call.
func (c *Coordinator) Cancel(sessionID, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{sessionID, kind}
	if h, ok := c.inflight[k]; ok {
		delete(c.inflight, k)
		c.supersedeLocked(h)
	}
}

// CloseSession cancels every tracked request of the session.
func (c *Coordinator) CloseSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, h := range c.inflight {
		if k.session == sessionID {
			delete(c.inflight, k)
			c.supersedeLocked(h)
		}
	}
}

// Current returns the tracked request id for (sessionID, kind), or 0.
func (c *Coordinator) Current(sessionID, kind string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.inflight[key{sessionID, kind}]; ok {
		return h.ID
	}
	return 0
}

// InFlight returns the number of tracked requests.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Close cancels all tracked requests and rejects further submissions.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for k, h := range c.inflight {
		delete(c.inflight, k)
		c.supersedeLocked(h)
	}
}

// supersedeLocked cancels h and finishes it with ErrSuperseded.
// The caller must hold c.mu and have removed h from the map if needed.
func (c *Coordinator) supersedeLocked(h *Handle) {
	h.cancel()
	h.finish("", ErrSuperseded, false)
	supersededTotal.WithLabelValues(h.Kind).Inc()
	slog.Debug("request superseded", "session", h.SessionID, "kind", h.Kind, "request_id", h.ID)
}

// Handle refers to one submitted request.
type Handle struct {
	SessionID string
	Kind      string
	ID        uint64

	coord  *Coordinator
	cancel context.CancelFunc

	once    sync.Once
	done    chan struct{}
	output  string
	err     error
	applied bool
}

func (h *Handle) finish(out string, err error, applied bool) {
	h.once.Do(func() {
		h.output = out
		h.err = err
		h.applied = applied
		close(h.done)
	})
}

// Done is closed once the request was applied, failed or superseded.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel cancels the request if it is still the tracked one for its session.
func (h *Handle) Cancel() {
	c := h.coord
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{h.SessionID, h.Kind}
	if cur, ok := c.inflight[k]; ok && cur == h {
		delete(c.inflight, k)
		c.supersedeLocked(h)
	}
}

// Wait blocks until the request finishes or ctx is done.
// It returns ErrSuperseded when the result was not applied.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.output, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Applied reports whether the request's result was applied. Valid after Done.
func (h *Handle) Applied() bool {
	select {
	case <-h.done:
		return h.applied
	default:
		return false
	}
}
