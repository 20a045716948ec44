package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/util"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"
	"go.uber.org/zap"
)

// ErrGatewayUnavailable is returned while the circuit breaker is open
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// StripeConfig configures the Stripe gateway
type StripeConfig struct {
	SecretKey string
	// BackendURL overrides the Stripe API base URL, e.g. for stripe-mock.
	BackendURL       string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// StripeGateway creates Stripe Checkout sessions
type StripeGateway struct {
	sessions session.Client
	breaker  *gobreaker.CircuitBreaker[*stripe.CheckoutSession]
	logger   *zap.Logger
}

// NewStripeGateway creates a Stripe gateway guarded by a circuit breaker
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	backend := stripe.GetBackend(stripe.APIBackend)
	if cfg.BackendURL != "" {
		backend = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BackendURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}

	logger := util.ComponentLogger("payment")
	breaker := gobreaker.NewCircuitBreaker[*stripe.CheckoutSession](gobreaker.Settings{
		Name:        "stripe-checkout",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// 4xx answers mean the gateway is healthy and rejected the request.
			var stripeErr *stripe.Error
			if errors.As(err, &stripeErr) {
				return stripeErr.HTTPStatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &StripeGateway{
		sessions: session.Client{B: backend, Key: cfg.SecretKey},
		breaker:  breaker,
		logger:   logger,
	}
}

// CreateSession requests a payment-mode Checkout session for the given lines
func (g *StripeGateway) CreateSession(ctx context.Context, req *SessionRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.CreateSession")
	defer span.End()

	params := buildSessionParams(req)
	params.Context = ctx

	start := time.Now()
	sess, err := g.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		return g.sessions.New(params)
	})
	util.GatewayLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.RecordError(span, err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	g.logger.Info("Checkout session created",
		zap.String("session_id", sess.ID),
		zap.Int("lines", len(req.Lines)))

	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func buildSessionParams(req *SessionRequest) *stripe.CheckoutSessionParams {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines))
	for _, line := range req.Lines {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(line.Name),
		}
		if line.Description != "" {
			productData.Description = stripe.String(line.Description)
		}

		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				UnitAmount:  stripe.Int64(line.UnitAmount),
				ProductData: productData,
			},
			Quantity: stripe.Int64(line.Quantity),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          lineItems,
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	return params
}
