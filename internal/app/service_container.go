package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"emcp-client/internal/clients"
	"emcp-client/internal/config"
	"emcp-client/internal/credentials"
	"emcp-client/internal/events"
	"emcp-client/internal/services"
	"emcp-client/internal/wallet"

	"github.com/sirupsen/logrus"
)

// ServiceContainer holds the long-lived clients and services of one process
type ServiceContainer struct {
	Config *config.Config

	// Marketplace
	Marketplace *clients.MarketplaceClient
	Store       credentials.Store
	Sessions    *services.CredentialService

	// Payments (both optional)
	Wallet     *wallet.EthereumWallet
	NATSClient *clients.NATSClient
	Events     events.Publisher

	// UI bridge
	WebSocketPushService *services.WebSocketPushService

	pushServiceOnce sync.Once
}

// InitializeContainer wires the container from cfg. The wallet and NATS are optional:
// their failures are logged and the container comes up without them.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*ServiceContainer, error) {
	logrus.Debug("🚀 Initializing Service Container...")

	c := &ServiceContainer{
		Config:      cfg,
		Marketplace: clients.NewMarketplaceClient(cfg.API),
		Events:      events.NoopPublisher{},
	}

	// 1. Credentials
	if err := c.initCredentials(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	// 2. Wallet
	if err := c.initWallet(ctx); err != nil {
		logrus.WithError(err).Warn("⚠️ [ServiceContainer] Wallet unavailable, paid tools cannot be used")
	}

	// 3. Event services
	if err := c.initEventServices(); err != nil {
		logrus.WithError(err).Warn("⚠️ [ServiceContainer] Payment events disabled")
	}

	logrus.Debug("✅ Service Container initialized")
	return c, nil
}

func (c *ServiceContainer) initCredentials(ctx context.Context) error {
	store, err := credentials.New(ctx, c.Config)
	if err != nil {
		return err
	}
	c.Store = store
	c.Sessions = services.NewCredentialService(store, c.Marketplace)

	logrus.WithField("driver", c.Config.Credentials.Driver).Debug("🔑 [ServiceContainer] Credential store ready")
	return nil
}

func (c *ServiceContainer) initWallet(ctx context.Context) error {
	if !c.Config.Wallet.Enabled {
		logrus.Debug("💤 [ServiceContainer] Wallet disabled")
		return nil
	}

	w, err := wallet.NewFromConfig(ctx, c.Config)
	if err != nil {
		return err
	}
	c.Wallet = w

	logrus.WithFields(logrus.Fields{
		"address":  w.Address().Hex(),
		"chain_id": w.ChainID().String(),
	}).Info("✅ [ServiceContainer] Wallet connected")
	return nil
}

func (c *ServiceContainer) initEventServices() error {
	if !c.Config.NATS.Enabled {
		return nil
	}

	natsClient, err := clients.NewNATSClient(c.Config.NATS)
	if err != nil {
		return err
	}
	c.NATSClient = natsClient
	c.Events = events.NewNATSPublisher(natsClient, c.Config.NATS.SubjectPrefix)

	logrus.WithField("prefix", c.Config.NATS.SubjectPrefix).Info("📡 [ServiceContainer] Payment events enabled")
	return nil
}

// HasWallet reports whether a wallet was connected
func (c *ServiceContainer) HasWallet() bool {
	return c.Wallet != nil
}

// NewInvocationService builds the paid invocation flow around confirmer and notifier
func (c *ServiceContainer) NewInvocationService(confirmer services.Confirmer, notifier services.Notifier) *services.InvocationService {
	opts := []services.InvocationOption{services.WithEvents(c.Events)}
	if c.Wallet != nil {
		opts = append(opts, services.WithWallet(c.Wallet))
	}
	return services.NewInvocationService(c.Marketplace, confirmer, notifier, opts...)
}

// GetPushService returns the WebSocket push service, creating it on first use
func (c *ServiceContainer) GetPushService() *services.WebSocketPushService {
	c.pushServiceOnce.Do(func() {
		opts := []services.PushOption{
			services.WithConfirmTimeout(time.Duration(c.Config.Payments.ConfirmTimeout) * time.Second),
		}
		if c.totpMode() {
			opts = append(opts, services.WithTOTPSecret(c.Config.Payments.TOTPSecret))
		}
		c.WebSocketPushService = services.NewWebSocketPushService(opts...)
	})
	return c.WebSocketPushService
}

// BridgeConfirmer confirmation policy for the UI bridge. The push service asks the
// connected browser; in totp mode it collects and checks the code itself.
func (c *ServiceContainer) BridgeConfirmer() (services.Confirmer, error) {
	if c.totpMode() {
		if c.Config.Payments.TOTPSecret == "" {
			return nil, fmt.Errorf("payments.totpSecret is required in totp mode")
		}
		return c.GetPushService(), nil
	}
	push := c.GetPushService()
	return services.BuildConfirmer(c.Config.Payments, push, nil, push)
}

func (c *ServiceContainer) totpMode() bool {
	return strings.EqualFold(c.Config.Payments.ConfirmMode, "totp")
}

// Cleanup releases connections in reverse order of creation
func (c *ServiceContainer) Cleanup() {
	logrus.Debug("🧹 Cleaning up Service Container...")

	if c.WebSocketPushService != nil {
		c.WebSocketPushService.Close()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logrus.WithError(err).Warn("⚠️ [ServiceContainer] Failed to close credential store")
		}
	}
}
