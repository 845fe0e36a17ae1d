package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/notify"
	"github.com/propnest/propnest-backend/internal/storage"
	"github.com/propnest/propnest-backend/pkg/config"
)

// Stores is the storage surface the services run on.
type Stores interface {
	Accounts() storage.AccountStore
	Challenges() storage.ChallengeStore
	Authorizations() storage.AuthorizationStore
}

// Services aggregates all application services
type Services struct {
	Accounts         *AccountService
	Tokens           *TokenIssuer
	Verification     *VerificationService
	Dispatcher       *notify.Dispatcher
	Deliveries       *DeliveryTracker
	ChallengeCleanup *ChallengeCleanupWorker
}

// NewServices creates a new Services instance with the mail providers taken
// from configuration.
func NewServices(stores Stores, cfg *config.Config, logger *zap.Logger) *Services {
	primary := notify.NewSMTPProvider(cfg.Mail.Primary, cfg.Mail.FromAddress, cfg.Mail.FromName)
	var fallback notify.Provider
	if cfg.Mail.Fallback.Enabled {
		fallback = notify.NewHTTPProvider(cfg.Mail.Fallback, cfg.Mail.FromAddress, cfg.Mail.FromName)
	}
	dispatcher := notify.NewDispatcher(cfg.Dispatcher, primary, fallback, logger)
	return NewServicesWithDispatcher(stores, cfg, dispatcher, logger)
}

// NewServicesWithDispatcher wires the services around an existing dispatcher.
func NewServicesWithDispatcher(stores Stores, cfg *config.Config, dispatcher *notify.Dispatcher, logger *zap.Logger) *Services {
	verification := cfg.Verification
	verification.SetDefaults()

	tokens := NewTokenIssuer(cfg.JWT)
	accounts := NewAccountService(stores.Accounts(), tokens, cfg, logger)
	deliveries := NewDeliveryTracker(0, logger)

	return &Services{
		Accounts: accounts,
		Tokens:   tokens,
		Verification: NewVerificationService(
			stores.Challenges(),
			stores.Authorizations(),
			accounts,
			dispatcher,
			verification,
			logger,
			WithDeliveryTracker(deliveries),
		),
		Dispatcher: dispatcher,
		Deliveries: deliveries,
		ChallengeCleanup: NewChallengeCleanupWorker(
			cfg.Security.ChallengeCleanup,
			stores.Challenges(),
			stores.Authorizations(),
			verification.RetentionGrace(),
			logger,
		),
	}
}

// Start starts background workers
func (s *Services) Start() {
	if s.Dispatcher != nil {
		s.Dispatcher.Start()
		s.Deliveries.Follow(s.Dispatcher.Results())
	}
	if s.ChallengeCleanup != nil {
		s.ChallengeCleanup.Start()
	}
}

// Stop gracefully stops background workers. Queued deliveries are drained
// until ctx expires.
func (s *Services) Stop(ctx context.Context) {
	if s.ChallengeCleanup != nil {
		s.ChallengeCleanup.Stop()
	}
	if s.Dispatcher != nil {
		s.Dispatcher.Stop(ctx)
	}
	if s.Deliveries != nil {
		s.Deliveries.Stop()
	}
}
