package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/appresence/appresence/internal/config"
	"github.com/appresence/appresence/internal/relay"
)

type Server struct {
	config  *config.Config
	handler *Handler
	server  *http.Server
	log     zerolog.Logger
}

func NewServer(cfg *config.Config, manager *relay.Manager, logger zerolog.Logger) *Server {
	handler := NewHandler(cfg, manager, logger)
	mux := http.NewServeMux()
	handler.SetupRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		config:  cfg,
		handler: handler,
		server:  httpServer,
		log:     logger.With().Str("component", "relay-api").Logger(),
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting relay API")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down relay API")
	return s.server.Shutdown(ctx)
}

func (s *Server) GetAddress() string {
	return s.server.Addr
}
