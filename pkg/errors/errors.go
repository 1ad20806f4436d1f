package errors

import "errors"

var (
	ErrValidation         = errors.New("invalid input")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidState       = errors.New("operation not allowed in current status")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletExists       = errors.New("wallet already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("username already exists")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrReferralNotFound   = errors.New("referral link not found")
	ErrWithdrawalNotFound = errors.New("withdrawal request not found")
	ErrWithdrawalPending  = errors.New("another withdrawal is already pending")
	ErrAlreadyRated       = errors.New("question already rated")
	ErrDuplicateEntry     = errors.New("ledger entry already recorded")
	ErrEntryNotFound      = errors.New("ledger entry not found")
	ErrNotOwner           = errors.New("caller does not own this resource")
	ErrUnsupportedFormat  = errors.New("expert does not offer this response format")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
