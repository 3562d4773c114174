// Package server exposes Kurt evaluation over connect (HTTP/JSON), gRPC
// and the Language Server Protocol.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"github.com/chazu/kurt/store"
	"github.com/chazu/kurt/vm"
)

var log = commonlog.GetLogger("kurt.server")

// Server serves the evaluation service over connect and gRPC.
type Server struct {
	svc      *EvalService
	sessions *SessionStore
	mux      *http.ServeMux
	grpc     *grpc.Server

	mu      sync.Mutex
	httpSrv *http.Server

	stopSweeper func()
}

// Option configures a Server.
type Option func(*config)

type config struct {
	timeout    time.Duration
	vmOpts     []vm.Option
	store      *store.Store
	sessionTTL time.Duration
}

// WithTimeout bounds every evaluation; zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVMOptions configures the VMs created for evaluations and sessions.
func WithVMOptions(opts ...vm.Option) Option {
	return func(c *config) { c.vmOpts = append(c.vmOpts, opts...) }
}

// WithStore caches compiled programs in st.
func WithStore(st *store.Store) Option {
	return func(c *config) { c.store = st }
}

// WithSessionTTL destroys sessions idle for longer than ttl.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *config) { c.sessionTTL = ttl }
}

// New creates a Server.
func New(opts ...Option) *Server {
	cfg := &config{
		timeout:    5 * time.Second,
		sessionTTL: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	sessions := NewSessionStore(cfg.vmOpts...)
	s := &Server{
		svc:      NewEvalService(sessions, cfg.store, cfg.timeout, cfg.vmOpts...),
		sessions: sessions,
		mux:      http.NewServeMux(),
		grpc:     grpc.NewServer(),
	}

	s.svc.registerConnect(s.mux)
	s.grpc.RegisterService(s.svc.serviceDesc(), s.svc)

	if cfg.sessionTTL > 0 {
		s.stopSweeper = sessions.StartSweeper(cfg.sessionTTL/6, cfg.sessionTTL)
	}
	return s
}

// Service returns the evaluation service.
func (s *Server) Service() *EvalService { return s.svc }

// Handler returns the connect HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves connect on addr until Stop.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	log.Infof("Kurt server listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, Procedure(MethodEval))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeGRPC serves gRPC on lis until Stop.
func (s *Server) ServeGRPC(lis net.Listener) error {
	log.Infof("Kurt gRPC server listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop shuts down both transports and every session.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
	s.grpc.GracefulStop()
	s.sessions.Close()
}
