// Package domain contains persistence models for plans, subscriptions and
// billing events. Plan, Subscription and Invoice live inside a tenant's
// partition; ExternalEvent lives in the catalog partition.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
)

// Plan defines what a tenant may use. A nil SeatLimit means unbounded.
type Plan struct {
	ID                snowflake.ID                `gorm:"primaryKey" json:"id"`
	Code              string                      `gorm:"type:text;not null;uniqueIndex:ux_plans_code" json:"code"`
	Name              string                      `gorm:"type:text;not null" json:"name"`
	SeatLimit         *int                        `json:"seat_limit"`
	TrialDays         int                         `gorm:"not null;default:0" json:"trial_days"`
	RolesOnActivation datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"roles_on_activation"`
	CreatedAt         time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// Subscription binds the partition's tenant to a plan. Keyed by the
// provider-assigned subscription id; mutated only by the event processor.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey" json:"id"`
	PlanCode               string             `gorm:"type:text;not null" json:"plan_code"`
	ProviderSubscriptionID string             `gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider_id" json:"provider_subscription_id"`
	Status                 SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	Quantity               int                `gorm:"not null;default:1" json:"quantity"`
	CreatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Invoice mirrors a provider invoice inside the tenant partition.
type Invoice struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	ProviderInvoiceID string       `gorm:"type:text;not null;uniqueIndex:ux_invoices_provider_id" json:"provider_invoice_id"`
	SubscriptionID    string       `gorm:"type:text" json:"subscription_id"`
	Status            string       `gorm:"type:text;not null" json:"status"`
	AmountDue         int64        `gorm:"not null;default:0" json:"amount_due"`
	Currency          string       `gorm:"type:text" json:"currency"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// ExternalEvent records one externally-delivered event id in the catalog
// partition. Presence of a row means "already applied"; rows are append-only
// and are the sole idempotency guard for event processing.
type ExternalEvent struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	EventID    string       `gorm:"type:text;not null;uniqueIndex:ux_external_events_event_id" json:"event_id"`
	EventType  string       `gorm:"type:text;not null" json:"event_type"`
	ReceivedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"received_at"`
}

// TableName sets the database table name.
func (ExternalEvent) TableName() string { return "external_events" }
