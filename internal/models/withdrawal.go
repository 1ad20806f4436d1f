package models

import "time"

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

type WithdrawalMethod string

const (
	MethodBankTransfer WithdrawalMethod = "bank_transfer"
	MethodMobileWallet WithdrawalMethod = "mobile_wallet"
)

// Destination is where a completed withdrawal is paid out.
type Destination struct {
	AccountNumber     string `json:"account_number,omitempty"`
	BankName          string `json:"bank_name,omitempty"`
	AccountHolderName string `json:"account_holder_name,omitempty"`
	PhoneNumber       string `json:"phone_number,omitempty"`
	Provider          string `json:"provider,omitempty"`
}

// WithdrawalRequest reserves part of a wallet balance until an operator
// completes or rejects it. A wallet has at most one pending request.
type WithdrawalRequest struct {
	ID              int64            `json:"id"`
	UserID          int64            `json:"user_id"`
	Amount          int64            `json:"amount"`
	Fee             int64            `json:"fee"`
	NetAmount       int64            `json:"net_amount"`
	Currency        string           `json:"currency"`
	Method          WithdrawalMethod `json:"method"`
	Destination     Destination      `json:"destination"`
	Status          WithdrawalStatus `json:"status"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	ProcessedBy     int64            `json:"processed_by,omitempty"`
	RequestedAt     time.Time        `json:"requested_at"`
	ProcessedAt     *time.Time       `json:"processed_at,omitempty"`
}
