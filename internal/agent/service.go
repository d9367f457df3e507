package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/history"
	"github.com/chatgate/chatgate/internal/httperr"
	"github.com/chatgate/chatgate/internal/llm"
	"github.com/chatgate/chatgate/internal/logger"
)

// Service owns one lazily-built agent per process. The first caller triggers
// initialization; concurrent callers await the same in-flight attempt instead
// of racing a second one. A failed attempt clears the handle so the next call
// retries from scratch.
type Service struct {
	cfg *config.Config

	mu     sync.Mutex
	handle *initHandle

	// build is swappable in tests.
	build func(ctx context.Context) (*Agent, *history.Store, error)
}

// initHandle is the shared future all concurrent initializers await.
type initHandle struct {
	done  chan struct{}
	agent *Agent
	store *history.Store
	err   error
}

// NewService creates the service without touching any external system.
func NewService(cfg *config.Config) *Service {
	s := &Service{cfg: cfg}
	s.build = s.buildAgent
	return s
}

func (s *Service) buildAgent(ctx context.Context) (*Agent, *history.Store, error) {
	store := history.Open(s.cfg.History.DSN)
	a := New(ctx, llm.NewClient(s.cfg.LLM), s.cfg, store)
	return a, store, nil
}

// acquire returns the initialized agent, starting initialization if needed.
func (s *Service) acquire(ctx context.Context) (*Agent, error) {
	s.mu.Lock()
	h := s.handle
	if h == nil {
		h = &initHandle{done: make(chan struct{})}
		s.handle = h
		go s.initialize(h)
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}
	if h.err != nil {
		return nil, httperr.Unavailable("agent service is not available", h.err)
	}
	return h.agent, nil
}

// initialize runs one build attempt. Initialization is deliberately detached
// from any single request's context: a caller giving up must not cancel the
// attempt other callers are awaiting.
func (s *Service) initialize(h *initHandle) {
	logger.L.Info("initializing agent service")
	h.agent, h.store, h.err = s.build(context.Background())
	if h.err != nil {
		logger.L.Error("agent service initialization failed", "error", h.err)
		// Reset so a later call retries from a clean slate.
		s.mu.Lock()
		if s.handle == h {
			s.handle = nil
		}
		s.mu.Unlock()
	} else {
		logger.L.Info("agent service initialized")
	}
	close(h.done)
}

// SendMessage submits a prompt on a thread and returns the agent's final
// textual answer.
func (s *Service) SendMessage(ctx context.Context, prompt, threadID string) (string, error) {
	a, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	return a.Process(ctx, threadID, prompt)
}

// Close tears the service down: MCP connections and the history store are
// released and the service returns to its uninitialized state.
func (s *Service) Close() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	<-h.done
	if h.err != nil {
		return nil
	}
	var errs []error
	if err := h.agent.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := h.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
