package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"time"

	"github.com/tez-capital/tezbake/logging"
)

// Optional capabilities (used via type assertions).
type ReadContexter interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

type WriteContexter interface {
	WriteContext(ctx context.Context, p []byte) (int, error)
}

type Handler func(ctx context.Context, payload []byte) ([]byte, error)

type options struct {
	bufSize   int
	handler   Handler
	logger    *slog.Logger
	queueSize int
}

type Option func(*options)

func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufSize = n
		}
	}
}

// WithHandler serves incoming requests. A broker without a handler only
// issues requests and drops any it receives.
func WithHandler(h Handler) Option {
	return func(o *options) { o.handler = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithQueueSize bounds the number of requests waiting for the dispatcher.
// Default is 64.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// work is a request waiting for the dispatcher
type work struct {
	id      [16]byte
	payload []byte
}

// Broker multiplexes framed requests and responses over one link.
//
// Requests are handed to the handler by a single dispatch goroutine, one at
// a time and in arrival order. A handler therefore never runs concurrently
// with itself. Responses are matched to waiting Request calls by id.
type Broker struct {
	r ReadContexter
	w WriteContexter

	stash *stash

	waiters  waiterMap
	handler  Handler
	inflight requestMap[struct{}]

	writeChan chan []byte
	workChan  chan work

	capacity  int
	queueSize int
	logger    *slog.Logger

	ctx            context.Context
	cancel         context.CancelFunc
	readLoopDone   <-chan struct{}
	writerLoopDone <-chan struct{}
	dispatchDone   <-chan struct{}
	reaperDone     <-chan struct{}

	// done closes when any critical loop exits (signals broker is no longer healthy)
	done chan struct{}
}

const (
	defaultQueueSize = 64

	// Backoff constants for retry loops
	initialBackoff = 10 * time.Millisecond
	maxBackoff     = 1 * time.Second
	backoffFactor  = 2

	// Maximum consecutive errors before giving up
	// This prevents tight exit loops while still allowing recovery from transient issues
	maxConsecutiveErrors = 10

	// Waiter TTL: clean up waiters that haven't received responses
	waiterTTL          = 5 * time.Minute
	waiterReapInterval = 30 * time.Second

	// Stop timeout: maximum time to wait for clean shutdown
	stopTimeout = 5 * time.Second
)

func New(r ReadContexter, w WriteContexter, opts ...Option) *Broker {
	o := &options{
		bufSize:   DEFAULT_BROKER_CAPACITY,
		queueSize: defaultQueueSize,
	}
	for _, fn := range opts {
		fn(o)
	}

	if o.logger == nil {
		o.logger, _ = logging.NewFromEnv()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		r:         r,
		w:         w,
		capacity:  o.bufSize,
		queueSize: o.queueSize,
		logger:    o.logger,
		handler:   o.handler,
		inflight:  newRequestMap[struct{}](),

		writeChan: make(chan []byte, 32),
		workChan:  make(chan work, o.queueSize),

		stash:  newStash(o.bufSize, o.logger),
		ctx:    ctx,
		cancel: cancel,
	}

	b.done = make(chan struct{})
	b.dispatchDone = b.dispatchLoop()
	b.readLoopDone = b.readLoop()
	b.writerLoopDone = b.writerLoop()
	b.reaperDone = b.startReaper()

	// Monitor for loop exits and signal done
	go func() {
		select {
		case <-b.readLoopDone:
			b.logger.Warn("read loop exited, broker unhealthy")
		case <-b.writerLoopDone:
			b.logger.Warn("write loop exited, broker unhealthy")
		case <-b.ctx.Done():
			// Normal shutdown, don't signal unhealthy
			return
		}
		close(b.done)
	}()

	return b
}

// Done returns a channel that closes when the broker becomes unhealthy
// (i.e., when a critical loop exits unexpectedly).
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// startReaper launches a goroutine that periodically cleans up stale waiters.
func (b *Broker) startReaper() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(waiterReapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if reaped := b.waiters.ReapStale(waiterTTL); reaped > 0 {
					b.logger.Debug("reaped stale waiters", slog.Int("count", reaped))
				}
			case <-b.ctx.Done():
				return
			}
		}
	}()
	return done
}

// dispatchLoop is the only goroutine that calls the handler.
func (b *Broker) dispatchLoop() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case w, ok := <-b.workChan:
				if !ok {
					return
				}
				b.serve(w)
			case <-b.ctx.Done():
				return
			}
		}
	}()
	return done
}

// serve runs one request to completion and writes its response.
func (b *Broker) serve(w work) {
	defer b.inflight.Delete(w.id)

	resp, err := b.handler(b.ctx, w.payload)
	clear(w.payload)
	if err != nil {
		b.logger.Warn("handler failed", slog.String("id", fmt.Sprintf("%x", w.id)), slog.Any("err", err))
	}

	b.logger.Debug("tx resp", slog.String("id", fmt.Sprintf("%x", w.id)), slog.Int("size", len(resp)))
	if err := b.writeFrame(b.ctx, payloadTypeResponse, w.id, resp); err != nil {
		b.logger.Warn("response write failed", slog.String("id", fmt.Sprintf("%x", w.id)), slog.Any("err", err))
	}
}

// route delivers a decoded frame. Responses are handed to their waiter
// directly; requests are queued for the dispatcher.
func (b *Broker) route(id [16]byte, pt payloadType, payload []byte) {
	switch pt {
	case payloadTypeResponse:
		b.logger.Debug("rx resp", slog.String("id", fmt.Sprintf("%x", id)), slog.Int("size", len(payload)))
		if ch, ok := b.waiters.LoadAndDelete(id); ok {
			select {
			case ch <- payload:
			default:
				// Channel full or closed, drop response
				b.logger.Warn("response channel full, dropping", slog.String("id", fmt.Sprintf("%x", id)))
			}
		}
	case payloadTypeRequest:
		b.logger.Debug("rx req", slog.String("id", fmt.Sprintf("%x", id)), slog.Int("size", len(payload)))
		if b.handler == nil {
			b.logger.Warn("request received but no handler; dropping", slog.String("id", fmt.Sprintf("%x", id)))
			return
		}
		if _, dup := b.inflight.LoadOrStore(id, struct{}{}); dup {
			b.logger.Debug("duplicate request in flight; ignoring", slog.String("id", fmt.Sprintf("%x", id)))
			return
		}

		select {
		case b.workChan <- work{id: id, payload: payload}:
		case <-b.ctx.Done():
		default:
			// Queue full - log warning but don't block the read loop
			b.inflight.Delete(id)
			b.logger.Warn("work queue full, dropping request", slog.String("id", fmt.Sprintf("%x", id)))
		}
	default:
		b.logger.Warn("unknown type; resync", slog.String("type", fmt.Sprintf("%02x", pt)), slog.String("id", fmt.Sprintf("%x", id)))
	}
}

// Request sends payload and waits for the matching response.
func (b *Broker) Request(ctx context.Context, payload []byte) ([]byte, [16]byte, error) {
	var id [16]byte
	payloadLen := len(payload)
	if payloadLen > MAX_MESSAGE_PAYLOAD {
		return nil, id, fmt.Errorf("%w: %d bytes, limit %d", ErrEncodeHeaderPayloadLarge, payloadLen, MAX_MESSAGE_PAYLOAD)
	}

	id, ch := b.waiters.NewWaiter()

	b.logger.Debug("tx req", slog.String("id", fmt.Sprintf("%x", id)), slog.Int("size", payloadLen))

	if err := b.writeFrame(ctx, payloadTypeRequest, id, payload); err != nil {
		b.logger.Debug("tx req write failed", slog.String("id", fmt.Sprintf("%x", id)), slog.Any("err", err))
		b.waiters.Delete(id)
		return nil, id, err
	}

	select {
	case resp := <-ch:
		return resp, id, nil
	case <-ctx.Done():
		b.waiters.Delete(id)
		return nil, id, ctx.Err()
	case <-b.ctx.Done():
		b.waiters.Delete(id)
		return nil, id, io.EOF
	}
}

func (b *Broker) writerLoop() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		backoff := initialBackoff
		consecutiveErrors := 0

		for {
			var data []byte
			select {
			case data = <-b.writeChan:
			case <-b.ctx.Done():
				return
			}

			for {
				select {
				case <-b.ctx.Done():
					return
				default:
				}

				if _, err := b.w.WriteContext(b.ctx, data); err != nil {
					consecutiveErrors++

					if consecutiveErrors >= maxConsecutiveErrors {
						b.logger.Error("write loop: too many consecutive errors, exiting",
							slog.Int("errors", consecutiveErrors),
							slog.Any("lastErr", err))
						return
					}
					if !isRetryable(err) {
						if isFatal(err) {
							b.logger.Error("write loop: fatal error, exiting", slog.Any("err", err))
						} else {
							b.logger.Debug("write loop: context done", slog.Any("err", err))
						}
						return
					}

					b.logger.Debug("write error, backing off",
						slog.Any("err", err),
						slog.Duration("backoff", backoff),
						slog.Int("consecutiveErrors", consecutiveErrors))

					select {
					case <-time.After(backoff):
					case <-b.ctx.Done():
						return
					}

					backoff = nextBackoff(backoff)
					continue
				}
				backoff = initialBackoff
				consecutiveErrors = 0
				clear(data)
				break
			}
		}
	}()
	return done
}

func (b *Broker) readLoop() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var buf [DEFAULT_READ_BUFFER]byte
		backoff := initialBackoff
		consecutiveErrors := 0

		for {
			select {
			case <-b.ctx.Done():
				return
			default:
			}

			n, err := b.r.ReadContext(b.ctx, buf[:])
			if n > 0 {
				b.stash.Write(buf[:n])
				clear(buf[:n]) // clear buffer after we used it
				b.processStash()
				backoff = initialBackoff
				consecutiveErrors = 0
			}

			if err != nil {
				consecutiveErrors++

				if consecutiveErrors >= maxConsecutiveErrors {
					b.logger.Error("read loop: too many consecutive errors, exiting",
						slog.Int("errors", consecutiveErrors),
						slog.Any("lastErr", err))
					return
				}
				if !isRetryable(err) {
					if isFatal(err) {
						b.logger.Error("read loop: fatal error, exiting", slog.Any("err", err))
					} else {
						b.logger.Debug("read loop: context done", slog.Any("err", err))
					}
					return
				}

				b.logger.Debug("read error, backing off",
					slog.Any("err", err),
					slog.Duration("backoff", backoff),
					slog.Int("consecutiveErrors", consecutiveErrors))

				select {
				case <-time.After(backoff):
				case <-b.ctx.Done():
					return
				}

				backoff = nextBackoff(backoff)
			}
		}
	}()
	return done
}

func nextBackoff(d time.Duration) time.Duration {
	d *= backoffFactor
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (b *Broker) processStash() {
	for {
		id, pt, payload, err := b.stash.ReadPayload()
		switch {
		case errors.Is(err, ErrNoPayloadFound):
			return
		case errors.Is(err, ErrIncompletePayload):
			return
		case errors.Is(err, ErrInvalidPayloadSize):
			continue // resync
		case err != nil:
			b.logger.Warn("bad payload; resync", slog.Any("err", err))
			continue // resync
		}

		b.route(id, pt, payload)
	}
}

// writeFrame queues header+payload as one write.
func (b *Broker) writeFrame(ctx context.Context, msgType payloadType, id [16]byte, payload []byte) error {
	frame, err := newMessage(msgType, id, payload)
	if err != nil {
		b.logger.Error("failed to create message frame", slog.Any("error", err))
		return err
	}

	select {
	case b.writeChan <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return io.EOF
	}
}

func (b *Broker) Stop() {
	b.cancel()

	// Wait for all goroutines with timeout to prevent hanging
	done := make(chan struct{})
	go func() {
		<-b.readLoopDone
		<-b.writerLoopDone
		<-b.reaperDone
		<-b.dispatchDone
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		b.logger.Warn("broker stop timed out, forcing shutdown")
	}
}

// isFatal returns true only for errors that indicate the endpoint is permanently broken
// and cannot recover. Most link errors are transient and should be retried.
func isFatal(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EBADF: // Bad file descriptor - fd is closed/invalid
			return true
		case syscall.ENOENT: // No such file or directory - endpoint removed
			return true
		}
	}

	return false
}

// isRetryable reports whether a link error is worth another attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !isFatal(err)
}
