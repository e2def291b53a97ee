package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/peertrack/peertrack/internal/app/system"
	"github.com/peertrack/peertrack/pkg/logger"
)

var _ system.Service = (*Server)(nil)

// Server runs the REST API as a managed service.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// NewServer binds the handler to the given port.
func NewServer(port int, handler http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("http-server")
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Name() string { return "http-server" }

func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server exited")
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
