package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netmon/pkg/logx"
)

// Server is a small lifecycle wrapper around one debug listener. Unlike the
// monitor loop it is optional: a failed Start is logged by the caller and the
// process keeps running.
type Server struct {
	name         string
	addr         string
	handler      http.Handler
	loopbackOnly bool
	log          logx.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

// NewMetricsServer serves /metrics and /healthz.
func NewMetricsServer(addr string, log logx.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		name:    "metrics",
		addr:    addr,
		handler: mux,
		log:     log.With(logx.String("component", "metrics")),
	}
}

// NewPprofServer serves the runtime profiles. It has no auth layer, so it
// refuses to bind anywhere but loopback.
func NewPprofServer(addr string, log logx.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return &Server{
		name:         "pprof",
		addr:         addr,
		handler:      mux,
		loopbackOnly: true,
		log:          log.With(logx.String("component", "pprof")),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := strings.TrimSpace(s.addr)
	if addr == "" {
		return errors.New("empty listen address")
	}
	if s.loopbackOnly && !isLoopbackAddr(addr) {
		return errors.New("refusing non-loopback bind without auth: " + addr)
	}
	if !s.loopbackOnly && !isLoopbackAddr(addr) {
		s.log.Warn("debug listener bound beyond loopback", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("debug listener stopped", logx.Err(err))
		}
	}()
	s.log.Info("debug listener started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr reports the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the listener down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
	_ = srv.Close()
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// Empty host means all interfaces.
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
