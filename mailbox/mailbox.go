// Package mailbox buffers outbound envelopes until an asynchronously created
// target is ready, flushes them in send order, and routes inbound envelopes
// to subscribers by type.
//
// A Mailbox is confined to one cooperative execution context. Calls may be
// reentrant (a delivery or a subscriber may call Send) but must never be
// concurrent; callers that share a Mailbox across goroutines must serialize
// access themselves, as the bridge package does with its loop.
//
// Ordering: every envelope passed to Send or Post is delivered exactly in call
// order. Envelopes sent before the target is ready are buffered and flushed by
// OnTargetReady; sends issued while the buffer is non-empty or a flush is in
// progress join the buffer instead of overtaking it.
//
// Disposal is terminal. It clears the target before anything else, releases
// all subscribers and discards buffered envelopes without delivering them.
// Later sends are silently dropped.
package mailbox

import (
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wippyai/wasm-bridge/errors"
)

// Target is the outbound side of a ready module handle.
type Target interface {
	PostMessage(env Envelope) error
}

// Handler receives an inbound envelope.
type Handler func(env Envelope)

type subscription struct {
	handler Handler
	active  bool
}

// Mailbox is the ordered buffer and dispatcher between a caller and a target.
type Mailbox struct {
	logger    *zap.Logger
	target    Target
	unhandled Handler
	fatal     func(error)
	routes    map[string][]*subscription
	pending   []Envelope
	draining  bool
	disposed  bool
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mailbox) {
		m.logger = l
	}
}

// WithUnhandled sets the handler for inbound envelopes whose type has no
// subscriber. By default they are logged at debug level and dropped.
func WithUnhandled(h Handler) Option {
	return func(m *Mailbox) {
		m.unhandled = h
	}
}

// WithFatal sets the hook invoked when a protocol or delivery error makes the
// channel unusable. The owner typically disposes the mailbox from it.
func WithFatal(fn func(error)) Option {
	return func(m *Mailbox) {
		m.fatal = fn
	}
}

// New creates a mailbox with no target.
func New(opts ...Option) *Mailbox {
	m := &Mailbox{
		logger: Logger(),
		routes: make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send normalizes serviceName and payload into an envelope and posts it.
func (m *Mailbox) Send(serviceName string, payload *structpb.Struct) {
	m.Post(Envelope{Type: serviceName, Data: payload})
}

// Post delivers env to the target, or buffers it if the target is not ready
// or earlier envelopes are still waiting. It is a no-op after Dispose.
func (m *Mailbox) Post(env Envelope) {
	if m.disposed {
		return
	}
	if m.target == nil || m.draining || len(m.pending) > 0 {
		m.pending = append(m.pending, env)
		return
	}
	m.deliver(env)
}

// OnTargetReady stores t and flushes buffered envelopes oldest first,
// including any buffered by reentrant sends during the flush.
func (m *Mailbox) OnTargetReady(t Target) {
	if m.disposed {
		return
	}
	if m.target != nil {
		m.logger.Warn("target already set, ignoring")
		return
	}

	m.target = t
	m.draining = true
	defer func() { m.draining = false }()

	for len(m.pending) > 0 {
		if m.target == nil {
			return
		}
		env := m.pending[0]
		m.pending[0] = Envelope{}
		m.pending = m.pending[1:]
		m.deliver(env)
	}
	m.pending = nil
}

// OnMessageFromTarget decodes raw and routes it to the subscribers registered
// for its type, in registration order. A decode failure is fatal for the
// channel: it is logged, reported to the fatal hook and routed nowhere.
func (m *Mailbox) OnMessageFromTarget(raw []byte) error {
	if m.disposed {
		return nil
	}

	env, err := Decode(raw)
	if err != nil {
		m.fail(err)
		return err
	}

	subs := m.routes[env.Type]
	if len(subs) == 0 {
		if m.unhandled != nil {
			m.unhandled(env)
		} else {
			m.logger.Debug("dropping unhandled message", zap.String("type", env.Type))
		}
		return nil
	}

	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)
	for _, s := range snapshot {
		if s.active {
			s.handler(env)
		}
	}
	return nil
}

// Subscribe registers h for envelopes of type typ. The returned function
// removes the registration. Subscribing to a disposed mailbox has no effect.
func (m *Mailbox) Subscribe(typ string, h Handler) (cancel func()) {
	if m.disposed {
		return func() {}
	}
	s := &subscription{handler: h, active: true}
	m.routes[typ] = append(m.routes[typ], s)

	return func() {
		if !s.active {
			return
		}
		s.active = false
		subs := m.routes[typ]
		for i, other := range subs {
			if other == s {
				m.routes[typ] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(m.routes[typ]) == 0 {
			delete(m.routes, typ)
		}
	}
}

// Dispose clears the target, releases subscribers and discards any buffered
// envelopes. Repeated calls are no-ops.
func (m *Mailbox) Dispose() {
	if m.disposed {
		return
	}
	m.target = nil
	m.disposed = true

	for _, subs := range m.routes {
		for _, s := range subs {
			s.active = false
		}
	}
	m.routes = nil
	m.unhandled = nil

	if n := len(m.pending); n > 0 {
		m.logger.Debug("discarding pending messages", zap.Int("count", n))
	}
	m.pending = nil
}

// Disposed reports whether Dispose has been called.
func (m *Mailbox) Disposed() bool {
	return m.disposed
}

// Ready reports whether a target is set.
func (m *Mailbox) Ready() bool {
	return m.target != nil
}

// Pending returns the number of buffered envelopes.
func (m *Mailbox) Pending() int {
	return len(m.pending)
}

func (m *Mailbox) deliver(env Envelope) {
	if err := m.target.PostMessage(env); err != nil {
		m.fail(errors.Deliver(env.Type, err))
	}
}

func (m *Mailbox) fail(err error) {
	m.logger.Error("message channel failed", zap.Error(err))
	if m.fatal != nil {
		m.fatal(err)
	}
}
