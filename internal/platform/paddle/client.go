// Package paddle adapts the Paddle Billing API to hosted checkout creation
// and webhook signature verification.
package paddle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/metrics"
)

// SignatureHeader carries ts=<unix>;h1=<hex hmac> on every webhook delivery.
const SignatureHeader = "Paddle-Signature"

// Custom data keys attached to hosted checkouts and echoed back on webhooks.
const (
	CustomDataAccountID      = "account_id"
	CustomDataEmail          = "email"
	CustomDataPlanID         = "plan_id"
	CustomDataIsRenewal      = "is_renewal"
	CustomDataPreviousPlan   = "previous_plan"
	CustomDataPreviousStatus = "previous_status"
)

var (
	ErrProcessorDisabled    = errors.New("payment processor is not configured")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from processor")
)

type CheckoutRequest struct {
	PriceID    string
	SuccessURL string
	CustomData map[string]any
}

type CheckoutLink struct {
	URL       string
	SessionID string
}

// Client creates hosted checkouts through a circuit breaker so a failing
// processor does not hold request goroutines.
type Client struct {
	sdk     *paddle.SDK
	breaker *gobreaker.CircuitBreaker[*paddle.Transaction]
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger, m *metrics.Business) (*Client, error) {
	pc := cfg.Processor
	c := &Client{timeout: pc.Timeout, log: log}
	if pc.APIKey == "" {
		log.Warnw("payment processor api key is empty, checkout creation disabled")
		return c, nil
	}

	var err error
	if pc.Sandbox() {
		c.sdk, err = paddle.NewSandbox(pc.APIKey)
	} else {
		c.sdk, err = paddle.New(pc.APIKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	failures := pc.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker[*paddle.Transaction](gobreaker.Settings{
		Name:        "paddle",
		MaxRequests: 1,
		Timeout:     pc.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("processor_breaker_state_change", "name", name, "from", from.String(), "to", to.String())
			m.BreakerStateChange(to.String())
		},
	})
	return c, nil
}

// CreateCheckout opens a hosted checkout for one unit of the given price.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if c.sdk == nil {
		return nil, ErrProcessorDisabled
	}
	if req.PriceID == "" {
		return nil, errors.New("price ID is required")
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData(req.CustomData),
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := c.breaker.Execute(func() (*paddle.Transaction, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.sdk.TransactionsClient.CreateTransaction(callCtx, txReq)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
		}
		logctx.FromCtx(ctx, c.log).Errorw("processor_create_checkout_failed", "price_id", req.PriceID, "err", err)
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}
	return &CheckoutLink{URL: *tx.Checkout.URL, SessionID: tx.ID}, nil
}

// Verifier checks webhook signatures against the shared secret.
type Verifier struct {
	v *paddle.WebhookVerifier
}

func NewVerifier(cfg *config.Config) *Verifier {
	if cfg.Processor.WebhookSecret == "" {
		return &Verifier{}
	}
	return &Verifier{v: paddle.NewWebhookVerifier(cfg.Processor.WebhookSecret)}
}

// Verify reports whether the request body matches its signature header.
// Without a configured secret every delivery is rejected.
func (v *Verifier) Verify(r *http.Request) (bool, error) {
	if v == nil || v.v == nil {
		return false, nil
	}
	return v.v.Verify(r)
}

var Module = fx.Options(
	fx.Provide(NewClient, NewVerifier),
)
