// Package bridge owns one Mailbox and one Loader and runs both on a single
// cooperative loop goroutine.
//
// Callers may use a Bridge from any goroutine. Every operation is posted to
// the loop, so the Mailbox only ever runs on one goroutine; subscriber and
// unhandled handlers are invoked on that goroutine too and must not block.
//
// Any load failure, malformed inbound message or failed delivery disposes the
// bridge: buffered messages are discarded, the module handle is closed and
// later sends are silently dropped.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/mailbox"
)

// Bridge connects a caller to an asynchronously loaded module.
type Bridge struct {
	loop     *loop
	loader   *loader.Loader
	mailbox  *mailbox.Mailbox
	logger   *zap.Logger
	handle   loader.Handle
	err      error
	cancel   context.CancelFunc
	disposed chan struct{}
	once     sync.Once
	started  atomic.Bool
}

type options struct {
	logger    *zap.Logger
	unhandled mailbox.Handler
}

// Option configures a Bridge.
type Option func(*options)

// WithLogger sets the logger for the bridge, its mailbox and its loader.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// OnUnhandled receives inbound messages whose type has no subscriber.
func OnUnhandled(h mailbox.Handler) Option {
	return func(o *options) {
		o.unhandled = h
	}
}

// New creates a bridge for the module moduleID served by h.
func New(h loader.Host, moduleID string, opts ...Option) *Bridge {
	o := options{logger: Logger()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With(zap.String("module", moduleID))
	b := &Bridge{
		loop:     newLoop(logger),
		logger:   logger,
		disposed: make(chan struct{}),
		cancel:   func() {},
	}

	mbOpts := []mailbox.Option{
		mailbox.WithLogger(b.logger),
		mailbox.WithFatal(b.dispose),
	}
	if o.unhandled != nil {
		mbOpts = append(mbOpts, mailbox.WithUnhandled(o.unhandled))
	}
	b.mailbox = mailbox.New(mbOpts...)
	b.loader = loader.New(h, moduleID, loader.WithLogger(o.logger))
	return b
}

// Start runs the loop and begins loading the module. The load is bounded by
// ctx; canceling ctx before the module is ready disposes the bridge.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	loadCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.loop.run()

	return b.loader.Start(loadCtx, sink{b})
}

// Send posts a message to the module. Messages sent before the module is
// ready are delivered, in order, once it is. After disposal Send does nothing.
func (b *Bridge) Send(serviceName string, payload *structpb.Struct) {
	b.loop.post(func() {
		b.mailbox.Send(serviceName, payload)
	})
}

// Subscribe registers h for inbound messages of type typ. h runs on the
// bridge loop. The returned function removes the registration.
func (b *Bridge) Subscribe(typ string, h mailbox.Handler) (cancel func()) {
	var unsubscribe func()
	b.loop.post(func() {
		unsubscribe = b.mailbox.Subscribe(typ, h)
	})
	return func() {
		b.loop.post(func() {
			if unsubscribe != nil {
				unsubscribe()
			}
		})
	}
}

// State returns the module load state.
func (b *Bridge) State() loader.State {
	return b.loader.State()
}

// Done is closed once the bridge is disposed.
func (b *Bridge) Done() <-chan struct{} {
	return b.disposed
}

// Err returns the cause of disposal once Done is closed. It is nil for a
// bridge closed by its owner.
func (b *Bridge) Err() error {
	select {
	case <-b.disposed:
		return b.err
	default:
		return nil
	}
}

// Close disposes the bridge and stops its loop, waiting for queued work to
// finish or ctx to end.
func (b *Bridge) Close(ctx context.Context) error {
	if b.started.CompareAndSwap(false, true) {
		b.loop.stop()
		b.finish(nil)
		return nil
	}

	b.loop.post(func() { b.dispose(nil) })
	b.loop.stop()

	select {
	case <-b.loop.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispose runs on the loop.
func (b *Bridge) dispose(cause error) {
	if b.mailbox.Disposed() {
		return
	}
	b.mailbox.Dispose()
	b.cancel()

	if b.handle != nil {
		if err := b.handle.Close(context.Background()); err != nil {
			b.logger.Warn("close module handle", zap.Error(err))
		}
		b.handle = nil
	}

	if cause != nil {
		b.logger.Error("bridge disposed", zap.Error(cause))
	} else {
		b.logger.Debug("bridge closed")
	}
	b.finish(cause)
}

func (b *Bridge) finish(cause error) {
	b.once.Do(func() {
		b.err = cause
		close(b.disposed)
	})
}

// sink hands loader callbacks over to the bridge loop.
type sink struct {
	b *Bridge
}

func (s sink) Inbound(raw []byte) {
	s.b.loop.post(func() {
		_ = s.b.mailbox.OnMessageFromTarget(raw)
	})
}

func (s sink) Ready(h loader.Handle) {
	ok := s.b.loop.post(func() {
		if s.b.mailbox.Disposed() {
			_ = h.Close(context.Background())
			return
		}
		s.b.handle = h
		s.b.mailbox.OnTargetReady(h)
	})
	if !ok {
		_ = h.Close(context.Background())
	}
}

func (s sink) Failed(err error) {
	s.b.loop.post(func() {
		s.b.dispose(err)
	})
}
