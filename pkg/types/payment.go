package types

type PaymentMethod string

const (
	PaymentMethodProcessor PaymentMethod = "paddle"
	PaymentMethodAdminGift PaymentMethod = "admin_grant"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type PaymentKind string

const (
	PaymentKindInitial       PaymentKind = "initial"
	PaymentKindRenewal       PaymentKind = "renewal"
	PaymentKindFailedRenewal PaymentKind = "failed_renewal"
)

type CheckoutSessionStatus string

const (
	CheckoutSessionStatusPending  CheckoutSessionStatus = "pending"
	CheckoutSessionStatusComplete CheckoutSessionStatus = "complete"
	CheckoutSessionStatusExpired  CheckoutSessionStatus = "expired"
)
