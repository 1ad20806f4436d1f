package models

import "time"

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

type EntryCategory string

const (
	CategoryQuestionPayment    EntryCategory = "question_payment"
	CategoryExpertEarning      EntryCategory = "expert_earning"
	CategoryRefund             EntryCategory = "refund"
	CategoryWithdrawal         EntryCategory = "withdrawal"
	CategoryDeposit            EntryCategory = "deposit"
	CategoryReferralBonus      EntryCategory = "referral_bonus"
	CategoryPlatformCommission EntryCategory = "platform_commission"
	CategoryPenalty            EntryCategory = "penalty"
)

func (c EntryCategory) Valid() bool {
	switch c {
	case CategoryQuestionPayment, CategoryExpertEarning, CategoryRefund,
		CategoryWithdrawal, CategoryDeposit, CategoryReferralBonus,
		CategoryPlatformCommission, CategoryPenalty:
		return true
	}
	return false
}

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
	EntryStatusCancelled EntryStatus = "cancelled"
)

// LedgerEntry is an immutable record justifying one balance change.
// Reference is a caller-supplied idempotency key; the store rejects a second
// entry with the same reference, which is what makes retries of refunds and
// transfer legs safe.
type LedgerEntry struct {
	ID           int64         `json:"id"`
	UserID       int64         `json:"user_id"`
	Type         EntryType     `json:"type"`
	Category     EntryCategory `json:"category"`
	Amount       int64         `json:"amount"`
	Currency     string        `json:"currency"`
	Description  string        `json:"description"`
	Reference    string        `json:"reference"`
	QuestionID   int64         `json:"question_id,omitempty"`
	RelatedUser  int64         `json:"related_user,omitempty"`
	BalanceAfter int64         `json:"balance_after"`
	Status       EntryStatus   `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Signed returns the entry amount with the sign implied by its direction.
func (e *LedgerEntry) Signed() int64 {
	if e.Type == EntryDebit {
		return -e.Amount
	}
	return e.Amount
}
