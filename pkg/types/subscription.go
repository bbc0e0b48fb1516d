package types

type SubscriptionStatus string

const (
	// SubscriptionStatusNone is only used on the account snapshot of accounts that never subscribed.
	SubscriptionStatusNone        SubscriptionStatus = "none"
	SubscriptionStatusPending     SubscriptionStatus = "pending"
	SubscriptionStatusActive      SubscriptionStatus = "active"
	SubscriptionStatusGracePeriod SubscriptionStatus = "grace_period"
	SubscriptionStatusCancelled   SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired     SubscriptionStatus = "expired"
)

// LiveSubscriptionStatuses may exist at most once per account.
var LiveSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusGracePeriod,
}

// EntitledSubscriptionStatuses keep the plan's feature bundle.
var EntitledSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusGracePeriod,
	SubscriptionStatusCancelled,
}

// CurrentSubscriptionStatuses identify the subscription the account snapshot is projected from.
var CurrentSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusGracePeriod,
	SubscriptionStatusCancelled,
	SubscriptionStatusPending,
}

func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusGracePeriod
}

func (s SubscriptionStatus) Entitled() bool {
	return s.Live() || s == SubscriptionStatusCancelled
}

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonPurchase      SubscriptionChangeReason = "purchase"
	SubscriptionChangeReasonRenewal       SubscriptionChangeReason = "renewal"
	SubscriptionChangeReasonPaymentFailed SubscriptionChangeReason = "payment_failed"
	SubscriptionChangeReasonTermElapsed   SubscriptionChangeReason = "term_elapsed"
	SubscriptionChangeReasonExpired       SubscriptionChangeReason = "expired"
	SubscriptionChangeReasonCancel        SubscriptionChangeReason = "cancel"
	SubscriptionChangeReasonReactivate    SubscriptionChangeReason = "reactivate"
	SubscriptionChangeReasonSuperseded    SubscriptionChangeReason = "superseded"
	SubscriptionChangeReasonProcessorEnd  SubscriptionChangeReason = "processor_deleted"
	SubscriptionChangeReasonGift          SubscriptionChangeReason = "gift"
)

// Cancellation reasons recorded on terminal subscription rows.
const (
	CancellationReasonNonPayment = "non-payment"
	CancellationReasonSuperseded = "superseded"
	CancellationReasonProcessor  = "processor_cancelled"
	CancellationReasonUser       = "user_requested"
)

type PlanType string

const (
	PlanTypeFree    PlanType = "FREE"
	PlanTypeFan     PlanType = "FAN"
	PlanTypeMegaFan PlanType = "MEGA_FAN"
)

type BillingCycle string

const (
	BillingCycleNone     BillingCycle = "none"
	BillingCycleMonthly  BillingCycle = "monthly"
	BillingCycleAnnually BillingCycle = "annually"
)

type QualityTier string

const (
	QualityTierStandard QualityTier = "standard"
	QualityTierHD       QualityTier = "hd"
	QualityTierUHD      QualityTier = "uhd_4k"
)

var qualityRank = map[QualityTier]int{
	QualityTierStandard: 1,
	QualityTierHD:       2,
	QualityTierUHD:      3,
}

// Valid reports whether q is a known tier.
func (q QualityTier) Valid() bool {
	_, ok := qualityRank[q]
	return ok
}

// AtMost reports whether q does not exceed limit.
func (q QualityTier) AtMost(limit QualityTier) bool {
	return q.Valid() && qualityRank[q] <= qualityRank[limit]
}
