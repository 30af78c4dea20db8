package bridge

import (
	"sync"

	"go.uber.org/zap"
)

// loop runs posted tasks one at a time, in post order, on a single goroutine.
// Posting never blocks, so a task may post further tasks.
type loop struct {
	logger *zap.Logger
	wake   chan struct{}
	done   chan struct{}
	tasks  []func()
	mu     sync.Mutex
	closed bool
}

func newLoop(logger *zap.Logger) *loop {
	return &loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// post queues fn. It reports false once the loop has been stopped.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// stop refuses further posts. Tasks already queued still run.
func (l *loop) stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

func (l *loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *loop) run() {
	defer close(l.done)
	for {
		<-l.wake
		for {
			l.mu.Lock()
			if len(l.tasks) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := l.tasks[0]
			l.tasks[0] = nil
			l.tasks = l.tasks[1:]
			l.mu.Unlock()

			l.execute(fn)
		}
	}
}

// execute runs fn, surviving a panic in it.
func (l *loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("bridge task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}
