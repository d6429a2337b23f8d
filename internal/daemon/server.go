package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zapdeskhq/zapdesk/internal/api"
	"github.com/zapdeskhq/zapdesk/internal/config"
)

// Server manages the HTTP listener lifecycle.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, apiSrv *api.Server, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           apiSrv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
