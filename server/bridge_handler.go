package server

import (
	"bufio"
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/mailbox"
)

const (
	// DefaultLinger is how long a connection stays open for replies after the
	// peer stops sending.
	DefaultLinger = time.Second

	// DefaultWriteTimeout bounds each reply write to the peer.
	DefaultWriteTimeout = 5 * time.Second

	maxLineSize = 1 << 20
)

// BridgeHandler serves each connection with its own Bridge. The peer writes
// one JSON envelope per line; every message the module sends back is written
// to the peer as one JSON line.
type BridgeHandler struct {
	host         loader.Host
	logger       *zap.Logger
	moduleID     string
	linger       time.Duration
	writeTimeout time.Duration
}

// BridgeHandlerOption configures a BridgeHandler.
type BridgeHandlerOption func(*BridgeHandler)

// WithLinger sets how long replies are still forwarded after the peer's
// input ends.
func WithLinger(d time.Duration) BridgeHandlerOption {
	return func(h *BridgeHandler) {
		h.linger = d
	}
}

// WithWriteTimeout sets the deadline for writing one reply. A peer that
// stops reading loses the reply instead of stalling the bridge. Zero
// disables the deadline.
func WithWriteTimeout(d time.Duration) BridgeHandlerOption {
	return func(h *BridgeHandler) {
		h.writeTimeout = d
	}
}

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(l *zap.Logger) BridgeHandlerOption {
	return func(h *BridgeHandler) {
		h.logger = l
	}
}

// NewBridgeHandler creates a handler bridging connections to moduleID.
func NewBridgeHandler(h loader.Host, moduleID string, opts ...BridgeHandlerOption) *BridgeHandler {
	bh := &BridgeHandler{
		host:         h,
		moduleID:     moduleID,
		logger:       Logger(),
		linger:       DefaultLinger,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(bh)
	}
	return bh
}

// Serve implements Handler.
func (h *BridgeHandler) Serve(ctx context.Context, conn net.Conn) error {
	log := h.logger.With(zap.Stringer("remote", conn.RemoteAddr()))

	b := bridge.New(h.host, h.moduleID,
		bridge.WithLogger(log),
		bridge.OnUnhandled(func(env mailbox.Envelope) {
			writeEnvelope(log, conn, h.writeTimeout, env)
		}))
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Close(closeCtx)
	}()

	// A disposed bridge ends the connection.
	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-b.Done():
			_ = conn.Close()
		case <-served:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := mailbox.Decode(line)
		if err != nil {
			return err
		}
		b.Send(env.Type, env.Data)
	}

	select {
	case <-b.Done():
		return b.Err()
	default:
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return errors.IO(errors.PhaseDecode, "read envelope", err)
	}

	timer := time.NewTimer(h.linger)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-b.Done():
		return b.Err()
	}
	return nil
}

// writeEnvelope runs on the bridge loop, so writes never interleave.
func writeEnvelope(log *zap.Logger, conn net.Conn, timeout time.Duration, env mailbox.Envelope) {
	raw, err := mailbox.Encode(env)
	if err != nil {
		log.Warn("encode reply", zap.String("type", env.Type), zap.Error(err))
		return
	}
	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		log.Debug("write reply", zap.String("type", env.Type), zap.Error(err))
	}
}
