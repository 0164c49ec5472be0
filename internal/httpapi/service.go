package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	logx "pushbridge/pkg/logx"
)

const defaultAddr = "127.0.0.1:8080"

// Config controls the API listener.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback address needs Token or AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Pprof PprofConfig
}

// PprofConfig mounts net/http/pprof under Prefix on the same listener.
type PprofConfig struct {
	Enabled              bool
	Prefix               string
	MutexProfileFraction int
	BlockProfileRate     int
}

// Service owns the HTTP server and restarts it when its config changes.
type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	routes func(Config) http.Handler

	ln       net.Listener
	srv      *http.Server
	addr     string
	stopDone chan struct{}
}

// NewService builds a stopped service. routes is called on every (re)start
// with the config the server will run with.
func NewService(routes func(Config) http.Handler, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{routes: routes, log: log.With(logx.Comp("http"))}
}

// Reconfigure applies cfg and starts, stops or restarts the server as needed.
// Safe to call during hot reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	applyRuntimeRates(cfg.Pprof)

	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return nil
	}
	if running && !needsRestart(prev, cfg) {
		return nil
	}
	if running {
		s.Stop(ctx)
	}
	return s.Start(ctx)
}

func needsRestart(a, b Config) bool {
	if strings.TrimSpace(a.Addr) != strings.TrimSpace(b.Addr) || a.Token != b.Token || a.AllowInsecure != b.AllowInsecure {
		return true
	}
	if a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout {
		return true
	}
	return a.Pprof.Enabled != b.Pprof.Enabled || normalizePrefix(a.Pprof.Prefix) != normalizePrefix(b.Pprof.Prefix)
}

// applyRuntimeRates sets profiling knobs; 0 keeps the Go default.
func applyRuntimeRates(cfg PprofConfig) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start listens with the current config. It returns once the listener is
// bound; serving happens in the background.
func (s *Service) Start(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.srv != nil {
			s.mu.Unlock()
			return nil
		}
		// Wait out an in-progress stop so the address is free.
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		cur := s.cfg
		s.mu.Unlock()

		if !cur.Enabled {
			return nil
		}
		addr := strings.TrimSpace(cur.Addr)
		if addr == "" {
			addr = defaultAddr
		}
		if err := checkExposure(addr, cur); err != nil {
			s.log.Error("http refused to start", logx.String("addr", addr), logx.Err(err))
			return err
		}
		if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
			s.log.Warn("http running without token on non-loopback addr (insecure)", logx.String("addr", addr))
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.log.Error("http listen failed", logx.String("addr", addr), logx.Err(err))
			return err
		}
		srv := &http.Server{
			Handler:           s.routes(cur),
			ReadTimeout:       cur.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cur.WriteTimeout,
			IdleTimeout:       cur.IdleTimeout,
		}

		s.mu.Lock()
		s.ln, s.srv, s.addr = ln, srv, ln.Addr().String()
		s.mu.Unlock()

		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("http server stopped with error", logx.Err(err))
			}
		}()
		s.log.Info("http started",
			logx.String("addr", ln.Addr().String()),
			logx.Bool("token_set", cur.Token != ""),
			logx.Bool("pprof", cur.Pprof.Enabled),
		)
		return nil
	}
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.srv == nil {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, ln := s.srv, s.ln
	s.srv, s.ln, s.addr = nil, nil, ""
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if ln != nil {
		_ = ln.Close()
	}
	go func() {
		defer close(done)
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("http stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Addr reports the bound address while running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func checkExposure(addr string, cfg Config) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(addr) {
		return errors.New("non-loopback addr requires token or allow_insecure")
	}
	return nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
