// Package loader drives the asynchronous load of a compiled module: load the
// host's support code, obtain a module constructor from the host's factory,
// construct the module handle with an inbound callback, and report the ready
// handle.
//
// A load is a single attempt. It is never retried and has no built-in
// timeout; the context passed to Start bounds it. Any failing step moves the
// loader to Failed, which is terminal.
package loader

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/mailbox"
)

// State is the progress of a load.
type State int32

const (
	NotStarted State = iota
	LoadingSupportCode
	InstantiatingModule
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case LoadingSupportCode:
		return "loading-support-code"
	case InstantiatingModule:
		return "instantiating-module"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle is a constructed module. It exposes exactly one outbound call.
type Handle interface {
	mailbox.Target
	Close(ctx context.Context) error
}

// Constructor builds a module handle. inbound receives every raw message the
// module sends back.
type Constructor func(ctx context.Context, inbound func(raw []byte)) (Handle, error)

// Host is the module host collaborator.
type Host interface {
	// LoadSupportCode prepares whatever the host needs before any module can
	// be instantiated.
	LoadSupportCode(ctx context.Context) error

	// Factory returns the constructor for the module named moduleID.
	Factory(ctx context.Context, moduleID string) (Constructor, error)
}

// Sink receives the outcome of a load. Its methods are called from the
// loader's goroutine; implementations hand them over to their own context.
type Sink interface {
	Inbound(raw []byte)
	Ready(h Handle)
	Failed(err error)
}

// Loader runs one load attempt.
type Loader struct {
	host     Host
	logger   *zap.Logger
	err      error
	done     chan struct{}
	moduleID string
	state    atomic.Int32
	started  atomic.Bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		ld.logger = l
	}
}

// New creates a loader for moduleID.
func New(host Host, moduleID string, opts ...Option) *Loader {
	ld := &Loader{
		host:     host,
		moduleID: moduleID,
		logger:   Logger(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ld)
	}
	ld.logger = ld.logger.With(zap.String("module", moduleID))
	return ld
}

// Start begins the load on a new goroutine and reports the outcome to sink.
// It fails only when called more than once.
func (l *Loader) Start(ctx context.Context, sink Sink) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New(errors.PhaseLoad, errors.KindAlreadyStarted).
			Module(l.moduleID).
			Detail("load already started").
			Build()
	}
	go l.run(ctx, sink)
	return nil
}

// State returns the current load state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

// Done is closed when the load reaches Ready or Failed.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// Err returns the failure cause once Done is closed, nil otherwise.
func (l *Loader) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *Loader) run(ctx context.Context, sink Sink) {
	h, err := l.load(ctx, sink)
	if err != nil {
		l.err = err
		l.state.Store(int32(Failed))
		close(l.done)
		l.logger.Error("module load failed", zap.Error(err))
		sink.Failed(err)
		return
	}

	l.state.Store(int32(Ready))
	close(l.done)
	l.logger.Debug("module ready")
	sink.Ready(h)
}

func (l *Loader) load(ctx context.Context, sink Sink) (Handle, error) {
	l.advance(LoadingSupportCode)
	if err := l.host.LoadSupportCode(ctx); err != nil {
		return nil, errors.Load("load support code", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(errors.PhaseLoad, err)
	}

	l.advance(InstantiatingModule)
	ctor, err := l.host.Factory(ctx, l.moduleID)
	if err != nil {
		return nil, errors.Load("module factory", err)
	}
	if ctor == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "module constructor", l.moduleID)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(errors.PhaseInstantiate, err)
	}

	h, err := ctor(ctx, sink.Inbound)
	if err != nil {
		return nil, errors.Instantiation(l.moduleID, err)
	}
	if h == nil {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInstantiation).
			Module(l.moduleID).
			Detail("constructor returned no handle").
			Build()
	}
	return h, nil
}

func (l *Loader) advance(s State) {
	l.state.Store(int32(s))
	l.logger.Debug("module load state", zap.Stringer("state", s))
}
