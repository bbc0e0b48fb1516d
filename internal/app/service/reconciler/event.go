package reconciler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/fanpass/internal/models"
	processor "github.com/fatflowers/fanpass/internal/platform/paddle"
	"github.com/fatflowers/fanpass/pkg/types"
)

// Processor event types.
const (
	EventTransactionCompleted        = "transaction.completed"
	EventTransactionPaymentSucceeded = "transaction.payment_succeeded"
	EventTransactionPaymentFailed    = "transaction.payment_failed"
	EventSubscriptionUpdated         = "subscription.updated"
	EventSubscriptionCanceled        = "subscription.canceled"
)

// Transaction origins.
const (
	originWeb       = "web"
	originRecurring = "subscription_recurring"
)

// Envelope is the outer shape of every processor notification.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Payload is the closed set of events the reconciler acts on.
type Payload interface {
	kind() string
}

type CheckoutCompleted struct {
	TransactionID  string
	SubscriptionID string
	PriceID        string
	Amount         decimal.Decimal
	Currency       string
	PaidAt         *time.Time
	AccountID      string
	Email          string
	PlanID         string
	Metadata       *models.SubscriptionMetadata
}

type InvoicePaymentSucceeded struct {
	TransactionID  string
	SubscriptionID string
	Amount         decimal.Decimal
	Currency       string
	PaidAt         *time.Time
}

type InvoicePaymentFailed struct {
	TransactionID  string
	SubscriptionID string
	Amount         decimal.Decimal
	Currency       string
}

type SubscriptionUpdated struct {
	SubscriptionID string
	Status         string
	// ScheduledCancel is set when the processor will cancel at period end.
	ScheduledCancel bool
}

type SubscriptionDeleted struct {
	SubscriptionID string
}

// ErrUnknownEventType marks a delivery whose event type has no handler.
var ErrUnknownEventType = errors.New("unknown event type")

var (
	errNotSubscriptionCharge = errors.New("not a subscription charge")
	errInitialCharge         = errors.New("initial checkout charge")
	errOneOffTransaction     = errors.New("one-off transaction")
)

// Unhandled is acknowledged and ignored.
type Unhandled struct {
	EventType string
	Reason    error
}

func (CheckoutCompleted) kind() string       { return "checkout_completed" }
func (InvoicePaymentSucceeded) kind() string { return "invoice_payment_succeeded" }
func (InvoicePaymentFailed) kind() string    { return "invoice_payment_failed" }
func (SubscriptionUpdated) kind() string     { return "subscription_updated" }
func (SubscriptionDeleted) kind() string     { return "subscription_deleted" }
func (Unhandled) kind() string               { return "unhandled" }

// Kind names the handler a payload is routed to.
func Kind(p Payload) string { return p.kind() }

type transactionData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Origin         string         `json:"origin"`
	SubscriptionID *string        `json:"subscription_id"`
	CurrencyCode   string         `json:"currency_code"`
	BilledAt       *time.Time     `json:"billed_at"`
	CustomData     map[string]any `json:"custom_data"`
	Items          []struct {
		PriceID string `json:"price_id"`
		Price   *struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
	Details struct {
		Totals struct {
			GrandTotal   string `json:"grand_total"`
			CurrencyCode string `json:"currency_code"`
		} `json:"totals"`
	} `json:"details"`
}

type subscriptionData struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ScheduledChange *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
}

// Decode maps an envelope onto one payload variant.
func Decode(env *Envelope) (Payload, error) {
	switch env.EventType {
	case EventTransactionCompleted, EventTransactionPaymentSucceeded, EventTransactionPaymentFailed:
		var d transactionData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.EventType, err)
		}
		if d.ID == "" {
			return nil, fmt.Errorf("decode %s: transaction id missing", env.EventType)
		}
		return decodeTransaction(env.EventType, &d)
	case EventSubscriptionUpdated, EventSubscriptionCanceled:
		var d subscriptionData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.EventType, err)
		}
		if d.ID == "" {
			return nil, fmt.Errorf("decode %s: subscription id missing", env.EventType)
		}
		if env.EventType == EventSubscriptionCanceled {
			return SubscriptionDeleted{SubscriptionID: d.ID}, nil
		}
		return SubscriptionUpdated{
			SubscriptionID:  d.ID,
			Status:          strings.ToLower(d.Status),
			ScheduledCancel: d.ScheduledChange != nil && d.ScheduledChange.Action == "cancel",
		}, nil
	default:
		return Unhandled{EventType: env.EventType, Reason: fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)}, nil
	}
}

func decodeTransaction(eventType string, d *transactionData) (Payload, error) {
	amount, currency, err := d.total()
	if err != nil {
		return nil, err
	}
	subID := ""
	if d.SubscriptionID != nil {
		subID = *d.SubscriptionID
	}

	switch eventType {
	case EventTransactionPaymentFailed:
		if subID == "" {
			return Unhandled{EventType: eventType, Reason: errNotSubscriptionCharge}, nil
		}
		return InvoicePaymentFailed{TransactionID: d.ID, SubscriptionID: subID, Amount: amount, Currency: currency}, nil
	case EventTransactionPaymentSucceeded:
		// the initial charge is applied by the completed checkout
		if d.Origin == originWeb || subID == "" {
			return Unhandled{EventType: eventType, Reason: errInitialCharge}, nil
		}
		return InvoicePaymentSucceeded{TransactionID: d.ID, SubscriptionID: subID, Amount: amount, Currency: currency, PaidAt: d.BilledAt}, nil
	}

	if d.Origin == originRecurring {
		return InvoicePaymentSucceeded{TransactionID: d.ID, SubscriptionID: subID, Amount: amount, Currency: currency, PaidAt: d.BilledAt}, nil
	}
	if subID == "" {
		return Unhandled{EventType: eventType, Reason: errOneOffTransaction}, nil
	}
	return CheckoutCompleted{
		TransactionID:  d.ID,
		SubscriptionID: subID,
		PriceID:        d.priceID(),
		Amount:         amount,
		Currency:       currency,
		PaidAt:         d.BilledAt,
		AccountID:      stringValue(d.CustomData, processor.CustomDataAccountID),
		Email:          strings.ToLower(strings.TrimSpace(stringValue(d.CustomData, processor.CustomDataEmail))),
		PlanID:         stringValue(d.CustomData, processor.CustomDataPlanID),
		Metadata:       metadataFrom(d.CustomData),
	}, nil
}

// total converts the minor-unit grand total into a decimal amount.
func (d *transactionData) total() (decimal.Decimal, string, error) {
	currency := d.Details.Totals.CurrencyCode
	if currency == "" {
		currency = d.CurrencyCode
	}
	if d.Details.Totals.GrandTotal == "" {
		return decimal.Zero, currency, nil
	}
	minor, err := decimal.NewFromString(d.Details.Totals.GrandTotal)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("invalid grand total %q: %w", d.Details.Totals.GrandTotal, err)
	}
	return minor.Shift(-2), currency, nil
}

func (d *transactionData) priceID() string {
	for _, item := range d.Items {
		if item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
		if item.PriceID != "" {
			return item.PriceID
		}
	}
	return ""
}

func metadataFrom(custom map[string]any) *models.SubscriptionMetadata {
	md := &models.SubscriptionMetadata{
		PreviousPlan:   types.PlanType(stringValue(custom, processor.CustomDataPreviousPlan)),
		PreviousStatus: types.SubscriptionStatus(stringValue(custom, processor.CustomDataPreviousStatus)),
	}
	switch v := custom[processor.CustomDataIsRenewal].(type) {
	case bool:
		md.IsRenewal = v
	case string:
		md.IsRenewal = v == "true"
	}
	return md
}

func stringValue(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
