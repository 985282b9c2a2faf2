package metrics

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Server is the supervisor's local-only metrics+health HTTP endpoint. It is
// bound to loopback only: no part of the client-facing wire protocol should
// ever be reachable through it, it exists purely for an operator or scrape
// target running on the same host.
type Server struct {
	checker *Checker
	srv     *http.Server
	ln      net.Listener
}

// NewServer builds a Server serving /metrics and /health on addr, which
// must resolve to a loopback address (e.g. "127.0.0.1:0" to pick an
// ephemeral port).
func NewServer(addr string, checker *Checker) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.Handle("/health", checker.Handler())

	return &Server{
		checker: checker,
		srv:     &http.Server{Handler: mux},
		ln:      ln,
	}, nil
}

// Addr returns the address the server actually bound, useful when the
// caller requested an ephemeral port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks serving requests until Shutdown is called.
func (s *Server) Serve() error {
	err := s.srv.Serve(s.ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting up to the given timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
