package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownHandler runs registered hooks in priority order when the process
// receives a termination signal or Shutdown is called.
type ShutdownHandler struct {
	mu           sync.Mutex
	hooks        []ShutdownHook
	timeout      time.Duration
	signals      []os.Signal
	logger       *slog.Logger
	shutdownCh   chan struct{}
	doneCh       chan struct{}
	started      bool
	shutdownOnce sync.Once
	doneOnce     sync.Once
}

// ShutdownHook is one step of the shutdown sequence. Lower priority runs
// first: stop accepting requests before flushing the index.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownConfig configures the shutdown handler.
type ShutdownConfig struct {
	Timeout time.Duration // budget for the whole hook sequence (default 30s)
	Signals []os.Signal   // default SIGTERM, SIGINT
	Logger  *slog.Logger
}

// NewShutdownHandler creates a shutdown handler.
func NewShutdownHandler(config *ShutdownConfig) *ShutdownHandler {
	if config == nil {
		config = &ShutdownConfig{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	signals := config.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownHandler{
		timeout:    timeout,
		signals:    signals,
		logger:     logger,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// RegisterHook adds a hook, keeping hooks sorted by ascending priority.
func (s *ShutdownHandler) RegisterHook(name string, priority int, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks = append(s.hooks, ShutdownHook{Name: name, Priority: priority, Fn: fn})
	for i := len(s.hooks) - 1; i > 0; i-- {
		if s.hooks[i].Priority < s.hooks[i-1].Priority {
			s.hooks[i], s.hooks[i-1] = s.hooks[i-1], s.hooks[i]
		}
	}
}

// Start begins listening for termination signals.
func (s *ShutdownHandler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, s.signals...)

	go func() {
		select {
		case sig := <-sigCh:
			signal.Stop(sigCh)
			s.logger.Info("shutdown signal received", "signal", sig.String())
			s.shutdownOnce.Do(func() {
				close(s.shutdownCh)
			})
			s.run()
		case <-s.shutdownCh:
			signal.Stop(sigCh)
			s.run()
		}
	}()
}

// Shutdown triggers the hook sequence without a signal.
func (s *ShutdownHandler) Shutdown() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
}

// Wait blocks until all hooks have run.
func (s *ShutdownHandler) Wait() {
	<-s.doneCh
}

// Done closes when shutdown is complete.
func (s *ShutdownHandler) Done() <-chan struct{} {
	return s.doneCh
}

// ShutdownCh closes when shutdown starts. Used to flip readiness off while
// in-flight requests drain.
func (s *ShutdownHandler) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

func (s *ShutdownHandler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	hooks := make([]ShutdownHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, hook := range hooks {
		if err := hook.Fn(ctx); err != nil {
			s.logger.Error("shutdown hook failed", "hook", hook.Name, "error", err)
		}
	}

	s.doneOnce.Do(func() {
		close(s.doneCh)
	})
}

// Hook priorities for the standard sequence: stop traffic, then tracing,
// then persist state.
const (
	PriorityHTTPServer = 10
	PriorityTracing    = 80
	PriorityIndex      = 90
)

// HTTPServerShutdownHook drains the API server first so no request arrives
// after the index starts flushing.
func HTTPServerShutdownHook(shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "http-server", Priority: PriorityHTTPServer, Fn: shutdownFn}
}

// TracingShutdownHook flushes buffered spans.
func TracingShutdownHook(shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "tracing", Priority: PriorityTracing, Fn: shutdownFn}
}

// IndexShutdownHook persists and closes the vector index last.
func IndexShutdownHook(closeFn func() error) ShutdownHook {
	return ShutdownHook{
		Name:     "index",
		Priority: PriorityIndex,
		Fn: func(ctx context.Context) error {
			return closeFn()
		},
	}
}

// RegisterNamedHook adds a prebuilt hook.
func (s *ShutdownHandler) RegisterNamedHook(hook ShutdownHook) {
	s.RegisterHook(hook.Name, hook.Priority, hook.Fn)
}
