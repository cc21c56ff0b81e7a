package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/appresence/appresence/internal/config"
	"github.com/appresence/appresence/internal/gate"
	"github.com/appresence/appresence/internal/models"
	"github.com/appresence/appresence/pkg/usage"
)

// Resolver produces one foreground decision per tick.
type Resolver interface {
	Resolve() usage.State
}

// Relay is the transport the reporter publishes through.
type Relay interface {
	Send(appName, pkg, clientID string) error
	Clear() error
	Initialized() bool
}

// Store provides the per-app identity table and error persistence.
type Store interface {
	Identities() (map[string]models.AppIdentity, error)
	CreateErrorLog(errorLog *models.ErrorLog) error
}

// Service is the reporter poll loop. Each tick resolves the foreground
// application, gates it against the configured identities and drives
// the relay. A tick never aborts the loop; failures are logged and
// stored.
type Service struct {
	config   *config.Config
	resolver Resolver
	relay    Relay
	store    Store
	log      zerolog.Logger

	// Stop runs on the signal goroutine while Start owns the loop, so
	// the lifecycle fields are mutex-guarded and the close is one-shot.
	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	running  bool

	// Package whose presence the relay last showed, or "". Only updated
	// after the matching relay call succeeded; the poll goroutine is the
	// single writer.
	previouslyActive string
}

func NewService(cfg *config.Config, resolver Resolver, relay Relay, store Store, logger zerolog.Logger) *Service {
	return &Service{
		config:   cfg,
		resolver: resolver,
		relay:    relay,
		store:    store,
		log:      logger.With().Str("component", "reporter").Logger(),
		stopChan: make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("reporter is already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.log.Info().Dur("poll_interval", s.config.Tracker.PollInterval).Msg("starting reporter")

	ticker := time.NewTicker(s.config.Tracker.PollInterval)
	defer ticker.Stop()

	s.tick()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reporter stopped by context")
			return ctx.Err()

		case <-s.stopChan:
			s.log.Info().Msg("reporter stopped")
			return nil

		case <-ticker.C:
			s.tick()
		}
	}
}

// Stop is safe to call from any goroutine, repeatedly, and before or
// after Start.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// tick runs one resolve/decide/publish round.
func (s *Service) tick() {
	state := s.resolver.Resolve()

	configs, err := s.store.Identities()
	if err != nil {
		s.storeError(fmt.Errorf("failed to load app identities: %w", err))
		return
	}

	steps := gate.Decide(state, configs, s.previouslyActive)
	for _, step := range steps {
		switch step.Kind {
		case gate.StepClear:
			if err := s.relay.Clear(); err != nil {
				s.storeError(fmt.Errorf("presence clear failed: %w", err))
				continue
			}
			s.previouslyActive = ""
			s.log.Debug().Str("was", state.Package).Msg("presence cleared")

		case gate.StepEmit:
			if err := s.relay.Send(step.DisplayName, step.Package, step.ClientID); err != nil {
				s.storeError(fmt.Errorf("presence update for %s failed: %w", step.Package, err))
				continue
			}
			s.previouslyActive = step.Package
			s.log.Debug().
				Str("package", step.Package).
				Str("method", state.Method.String()).
				Msg("presence published")
		}
	}
}

func (s *Service) storeError(err error) {
	s.log.Warn().Err(err).Msg("tick error")

	errorLog := &models.ErrorLog{
		Timestamp: time.Now(),
		ErrorMsg:  err.Error(),
	}
	if dbErr := s.store.CreateErrorLog(errorLog); dbErr != nil {
		s.log.Error().Err(dbErr).Msg("failed to store error in database")
	}
}

// CurrentState resolves the foreground application once, outside the
// poll loop. Used by the status command.
func (s *Service) CurrentState() usage.State {
	return s.resolver.Resolve()
}
