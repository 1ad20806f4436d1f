package models

import "time"

type ResponseFormat string

const (
	FormatText  ResponseFormat = "text"
	FormatVoice ResponseFormat = "voice"
	FormatVideo ResponseFormat = "video"
)

func (f ResponseFormat) Valid() bool {
	return f == FormatText || f == FormatVoice || f == FormatVideo
}

type QuestionStatus string

const (
	StatusPending   QuestionStatus = "pending"
	StatusAccepted  QuestionStatus = "accepted"
	StatusCompleted QuestionStatus = "completed"
	StatusDeclined  QuestionStatus = "declined"
	StatusExpired   QuestionStatus = "expired"
	StatusCancelled QuestionStatus = "cancelled"
)

func (s QuestionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Attachment references media stored by the upload collaborator. Only the URL
// and metadata are recorded; file bytes are never inspected here.
type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size,omitempty"`
}

type Answer struct {
	Text      string `json:"text,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	// Duration in seconds, for voice/video answers.
	Duration int `json:"duration,omitempty"`
}

func (a *Answer) Empty() bool {
	return a == nil || (a.Text == "" && a.MediaURL == "")
}

// Pricing is fixed at submission time. platform commission + expert earning
// always equals the base amount, and client charge = amount + client fee.
type Pricing struct {
	Amount             int64  `json:"amount"`
	ClientFee          int64  `json:"client_fee"`
	ClientCharge       int64  `json:"client_charge"`
	ExpertEarning      int64  `json:"expert_earning"`
	PlatformCommission int64  `json:"platform_commission"`
	Currency           string `json:"currency"`
}

// ComputePricing splits amount using basis-point rates. The commission and fee
// are rounded down and the expert earning is the remainder, so the identity
// holds exactly for any positive amount.
func ComputePricing(amount, feeBps, commissionBps int64, currency string) Pricing {
	commission := amount * commissionBps / 10000
	fee := amount * feeBps / 10000
	return Pricing{
		Amount:             amount,
		ClientFee:          fee,
		ClientCharge:       amount + fee,
		ExpertEarning:      amount - commission,
		PlatformCommission: commission,
		Currency:           currency,
	}
}

type Timeline struct {
	SubmittedAt time.Time  `json:"submitted_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	DeclinedAt  *time.Time `json:"declined_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

type Rating struct {
	Stars    int       `json:"stars"`
	Feedback string    `json:"feedback,omitempty"`
	RatedAt  time.Time `json:"rated_at"`
}

type Question struct {
	ID            int64          `json:"id"`
	ClientID      int64          `json:"client_id"`
	ExpertID      int64          `json:"expert_id"`
	Format        ResponseFormat `json:"format"`
	Text          string         `json:"text"`
	Attachments   []Attachment   `json:"attachments,omitempty"`
	Answer        *Answer        `json:"answer,omitempty"`
	Status        QuestionStatus `json:"status"`
	Pricing       Pricing        `json:"pricing"`
	Timeline      Timeline       `json:"timeline"`
	DeclineReason string         `json:"decline_reason,omitempty"`
	Rating        *Rating        `json:"rating,omitempty"`
	// ExpiredFrom records which pre-terminal status an expired question came
	// from, for audit.
	ExpiredFrom QuestionStatus `json:"expired_from,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (q *Question) ExpiredNow(now time.Time) bool {
	return !q.Timeline.ExpiresAt.IsZero() && now.After(q.Timeline.ExpiresAt)
}
