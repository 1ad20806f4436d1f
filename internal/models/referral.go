package models

import "time"

type ReferralStatus string

const (
	ReferralActive    ReferralStatus = "active"
	ReferralExpired   ReferralStatus = "expired"
	ReferralCompleted ReferralStatus = "completed"
)

// ReferralLink ties a referred user to their referrer for a fixed window.
// Commission is payable only while the link is active and not past ExpiresAt.
type ReferralLink struct {
	ID                int64          `json:"id"`
	ReferrerID        int64          `json:"referrer_id"`
	ReferredID        int64          `json:"referred_id"`
	CommissionRateBps int64          `json:"commission_rate_bps"`
	TotalEarnings     int64          `json:"total_earnings"`
	TotalCommission   int64          `json:"total_commission"`
	Status            ReferralStatus `json:"status"`
	ExpiresAt         time.Time      `json:"expires_at"`
	LastCommissionAt  *time.Time     `json:"last_commission_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Commission computes the referrer's cut of one expert earning, rounded down.
func (l *ReferralLink) Commission(earning int64) int64 {
	return earning * l.CommissionRateBps / 10000
}
