// Package server accepts stream connections and hands them to a fixed pool
// of workers through a handoff.Queue.
//
// The acceptor registers each connection in a Table and pushes its
// descriptor; a worker pops the descriptor, takes the connection out of the
// table and serves it. On shutdown the listener is closed, the queue is shut
// down, workers drain out and every connection that was accepted but never
// served is closed.
package server

import (
	"context"
	stderrors "errors"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/handoff"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// Handler serves one connection. The worker closes conn after Serve returns.
// ctx is canceled when the server shuts down.
type Handler interface {
	Serve(ctx context.Context, conn net.Conn) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn) error

func (f HandlerFunc) Serve(ctx context.Context, conn net.Conn) error {
	return f(ctx, conn)
}

// Server owns a listener, a descriptor table, a handoff queue and workers.
type Server struct {
	listener net.Listener
	handler  Handler
	table    *Table
	queue    *handoff.Queue
	logger   *zap.Logger
	workers  int
}

// Option configures a Server.
type Option func(*Server)

// WithWorkers sets the number of workers. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the server's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a server that serves connections from l with h.
func New(l net.Listener, h Handler, opts ...Option) *Server {
	s := &Server{
		listener: l,
		handler:  h,
		table:    NewTable(),
		queue:    handoff.New(),
		logger:   Logger(),
		workers:  DefaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts and serves connections until ctx is canceled or accepting
// fails. It returns nil after a ctx-initiated shutdown.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Registered before any worker starts. Workers that pop a descriptor
	// before this has run still see gctx canceled and close it unserved.
	stop := context.AfterFunc(gctx, func() {
		_ = s.listener.Close()
		s.queue.ShutDown()
	})
	defer stop()

	g.Go(func() error {
		return s.accept(gctx)
	})
	for i := 0; i < s.workers; i++ {
		i := i
		g.Go(func() error {
			s.work(gctx, i)
			return nil
		})
	}

	s.logger.Info("server started",
		zap.Stringer("addr", s.listener.Addr()),
		zap.Int("workers", s.workers))

	err := g.Wait()

	closed := 0
	for _, d := range s.queue.Drain() {
		if conn, ok := s.table.Remove(d); ok {
			_ = conn.Close()
			closed++
		}
	}
	closed += s.table.CloseAll()
	s.logger.Info("server stopped", zap.Int("undelivered_closed", closed))

	return err
}

func (s *Server) accept(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if stderrors.Is(err, net.ErrClosed) {
				return errors.IO(errors.PhaseAccept, "listener closed", err)
			}
			return errors.IO(errors.PhaseAccept, "accept", err)
		}

		d := s.table.Insert(conn)
		if d == 0 {
			_ = conn.Close()
			continue
		}
		s.logger.Debug("connection accepted",
			zap.Int("descriptor", int(d)),
			zap.Stringer("remote", conn.RemoteAddr()))
		s.queue.Push(d)
	}
}

func (s *Server) work(ctx context.Context, id int) {
	log := s.logger.With(zap.Int("worker", id))
	for {
		d, ok := s.queue.WaitAndPop()
		if !ok {
			return
		}
		conn, ok := s.table.Remove(d)
		if !ok {
			log.Warn("descriptor without connection", zap.Int("descriptor", int(d)))
			continue
		}
		if ctx.Err() != nil {
			log.Debug("closing unserved connection", zap.Int("descriptor", int(d)))
			_ = conn.Close()
			continue
		}
		s.serve(ctx, log, d, conn)
	}
}

func (s *Server) serve(ctx context.Context, log *zap.Logger, d handoff.Descriptor, conn net.Conn) {
	// Unblocks handlers stuck in Read when the server shuts down.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	log.Debug("serving connection", zap.Int("descriptor", int(d)))
	if err := s.handler.Serve(ctx, conn); err != nil && ctx.Err() == nil {
		log.Warn("connection handler failed", zap.Int("descriptor", int(d)), zap.Error(err))
	}
}
