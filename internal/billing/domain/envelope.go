package domain

import "errors"

// Event types accepted by the processor.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// Metadata keys the processor requires to locate the target partition.
const (
	MetaTenantSchema = "tenant_schema"
	MetaTenantID     = "tenant_id"
	MetaPlanCode     = "plan_code"
)

// Envelope is the provider-agnostic webhook event shape. Signature
// verification happens upstream; the processor only sees the decoded body.
type Envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object Object `json:"object"`
	} `json:"data"`
}

// Object is the event payload. Async events carry their partition in
// Metadata because no request-time routing exists for them.
type Object struct {
	ID           string            `json:"id"`
	Subscription string            `json:"subscription"`
	Status       string            `json:"status"`
	Quantity     int               `json:"quantity"`
	AmountDue    int64             `json:"amount_due"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
}

var (
	ErrInvalidEnvelope   = errors.New("invalid event envelope")
	ErrSeatLimitExceeded = errors.New("seat limit exceeded")
)
