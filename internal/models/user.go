package models

import "time"

type UserRole string

const (
	RoleClient UserRole = "client"
	RoleExpert UserRole = "expert"
)

type User struct {
	ID           int64    `json:"id"`
	Username     string   `json:"username"`
	PasswordHash string   `json:"-"`
	DisplayName  string   `json:"display_name"`
	Role         UserRole `json:"role"`
	ReferralCode string   `json:"referral_code"`
	// Expert profile fields; empty for clients.
	SupportedFormats  []ResponseFormat         `json:"supported_formats,omitempty"`
	Prices            map[ResponseFormat]int64 `json:"prices,omitempty"`
	QuestionsAnswered int64                    `json:"questions_answered"`
	CreatedAt         time.Time                `json:"created_at"`
}

// Supports reports whether the expert offers the given response format.
func (u *User) Supports(f ResponseFormat) bool {
	for _, s := range u.SupportedFormats {
		if s == f {
			return true
		}
	}
	return false
}

// PriceFor returns the expert's listed price for a format, 0 if unset.
func (u *User) PriceFor(f ResponseFormat) int64 {
	return u.Prices[f]
}
