package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/shopnest/api/internal/payments/daraja"
	"github.com/shopnest/api/internal/platform/auth"
	"github.com/shopnest/api/internal/platform/config"
	pfirestore "github.com/shopnest/api/internal/platform/firestore"
	"github.com/shopnest/api/internal/platform/jobs"
	firestoreRepo "github.com/shopnest/api/internal/repositories/firestore"
	"github.com/shopnest/api/internal/services"
)

// Services bundles the service-layer contracts handlers rely upon.
type Services struct {
	Pricing  services.PricingService
	Shipping services.ShippingService
	Orders   services.OrderService
	Payments services.PaymentService
}

// Container wires repositories, services, and platform infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Firestore     *pfirestore.Provider
	Authenticator *auth.Authenticator
	Services      Services

	pubsubClient *pubsub.Client
	orderTopic   *pubsub.Topic
}

// NewContainer assembles the runtime dependency graph from the loaded configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{
		Config:    cfg,
		Firestore: pfirestore.NewProvider(cfg.Firestore),
	}

	if cfg.Security.JWTSecret != "" {
		authn, err := auth.NewAuthenticator(auth.AuthenticatorConfig{
			Secret: cfg.Security.JWTSecret,
			Issuer: cfg.Security.JWTIssuer,
		})
		if err != nil {
			return nil, fmt.Errorf("build authenticator: %w", err)
		}
		c.Authenticator = authn
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(c.Firestore)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	txnRepo, err := firestoreRepo.NewTransactionRepository(c.Firestore)
	if err != nil {
		return nil, fmt.Errorf("build transaction repository: %w", err)
	}
	catalogRepo, err := firestoreRepo.NewCatalogRepository(c.Firestore)
	if err != nil {
		return nil, fmt.Errorf("build catalog repository: %w", err)
	}
	shippingRepo, err := firestoreRepo.NewShippingRateRepository(c.Firestore)
	if err != nil {
		return nil, fmt.Errorf("build shipping repository: %w", err)
	}

	var publisher services.OrderEventPublisher
	if cfg.Events.OrderEventsTopic != "" {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.pubsubClient = client
		c.orderTopic = client.Topic(cfg.Events.OrderEventsTopic)
		publisher, err = jobs.NewPubSubOrderEventPublisher(c.orderTopic)
		if err != nil {
			return nil, fmt.Errorf("build order event publisher: %w", err)
		}
	}

	pricing, err := services.NewPricingService(services.PricingServiceDeps{
		Catalog: catalogRepo,
		Logger:  zapEventLogger(logger.Named("pricing")),
	})
	if err != nil {
		return nil, fmt.Errorf("build pricing service: %w", err)
	}

	shipping, err := services.NewShippingService(services.ShippingServiceDeps{
		Rates:  shippingRepo,
		Logger: zapEventLogger(logger.Named("shipping")),
	})
	if err != nil {
		return nil, fmt.Errorf("build shipping service: %w", err)
	}

	numbers, err := services.NewOrderNumberGenerator(services.OrderNumberGeneratorDeps{
		Orders: orderRepo,
		Clock:  time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build order number generator: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    orderRepo,
		Pricing:   pricing,
		Shipping:  shipping,
		Numbers:   numbers,
		Publisher: publisher,
		Logger:    zapEventLogger(logger.Named("orders")),
		Clock:     time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}

	gateway, err := daraja.NewClient(daraja.ClientConfig{
		BaseURL:        cfg.Daraja.BaseURL,
		ConsumerKey:    cfg.Daraja.ConsumerKey,
		ConsumerSecret: cfg.Daraja.ConsumerSecret,
		ShortCode:      cfg.Daraja.ShortCode,
		Passkey:        cfg.Daraja.Passkey,
		CallbackURL:    cfg.Daraja.CallbackURL,
		HTTPClient:     &http.Client{Timeout: cfg.Daraja.Timeout},
		Logger:         daraja.Logger(zapEventLogger(logger.Named("daraja"))),
		Clock:          time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build daraja client: %w", err)
	}

	payments, err := services.NewPaymentService(services.PaymentServiceDeps{
		Gateway:      gateway,
		Transactions: txnRepo,
		Orders:       orderRepo,
		Publisher:    publisher,
		Logger:       zapEventLogger(logger.Named("payments")),
		Clock:        time.Now,
		PollWindow:   cfg.Payments.PollWindow,
		PollInterval: cfg.Payments.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("build payment service: %w", err)
	}

	c.Services = Services{
		Pricing:  pricing,
		Shipping: shipping,
		Orders:   orders,
		Payments: payments,
	}
	return c, nil
}

// Close releases the Firestore and Pub/Sub clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.orderTopic != nil {
		c.orderTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if c.Firestore != nil {
		if err := c.Firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("firestore close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// zapEventLogger adapts a zap logger to the event-hook signature services consume.
func zapEventLogger(logger *zap.Logger) services.Logger {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}
