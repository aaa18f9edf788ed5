package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanType is the subscription plan of a user.
type PlanType string

const (
	PlanFree PlanType = "FREE"
	PlanPro  PlanType = "PRO"
)

// DefaultMonthlyTokenLimit is granted to new FREE accounts.
const DefaultMonthlyTokenLimit = 5

// User represents a registered thrower.
type User struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Password          string    `json:"-"`
	PlanType          PlanType  `json:"plan_type"`
	MonthlyTokenLimit int       `json:"monthly_token_limit"`
	LastTokenReset    time.Time `json:"last_token_reset"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	PlanType          PlanType  `json:"plan_type"`
	MonthlyTokenLimit int       `json:"monthly_token_limit"`
	CreatedAt         time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:                u.ID,
		Name:              u.Name,
		Email:             u.Email,
		PlanType:          u.PlanType,
		MonthlyTokenLimit: u.MonthlyTokenLimit,
		CreatedAt:         u.CreatedAt,
	}
}
