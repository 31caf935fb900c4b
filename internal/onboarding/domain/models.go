// Package domain contains the provisioning state machine model. It lives in
// the catalog partition, one row per tenant being onboarded.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Onboarding steps, in order. Step 4 may be skipped.
const (
	StepCreateTenant   = 1
	StepSelectModules  = 2
	StepConnectBilling = 3
	StepCustomDomain   = 4
	StepInviteMembers  = 5
)

// Data blob keys.
const (
	DataResumeToken      = "resume_token"
	DataSelectedModules  = "selected_modules"
	DataBillingConnected = "billing_connected"
)

// State tracks one tenant's provisioning. CurrentStep only increases; a step
// is completed at most once; IsComplete is set only after the final step's
// side effects are durably applied.
type State struct {
	ID             snowflake.ID             `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID             `gorm:"not null;uniqueIndex:ux_onboarding_tenant" json:"tenant_id"`
	OwnerEmail     string                   `gorm:"type:text;not null" json:"owner_email"`
	CurrentStep    int                      `gorm:"not null;default:1" json:"current_step"`
	CompletedSteps datatypes.JSONSlice[int] `gorm:"type:jsonb" json:"completed_steps"`
	Data           datatypes.JSONMap        `gorm:"type:jsonb" json:"data"`
	IsComplete     bool                     `gorm:"not null;default:false" json:"is_complete"`
	CreatedAt      time.Time                `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time                `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (State) TableName() string { return "onboarding_states" }

// StepCompleted reports whether the given step is in the completed set.
func (s *State) StepCompleted(step int) bool {
	for _, done := range s.CompletedSteps {
		if done == step {
			return true
		}
	}
	return false
}

var (
	ErrStateNotFound          = errors.New("onboarding state not found")
	ErrInvalidOwnerEmail      = errors.New("invalid owner email")
	ErrProvisioningIncomplete = errors.New("provisioning incomplete, re-run to converge")
)
