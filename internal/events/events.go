package events

import "time"

const (
	TopicQuestions = "questions"
	TopicWallets   = "wallets"
)

type Type string

const (
	TypeNewQuestion       Type = "new_question"
	TypeQuestionAccepted  Type = "question_accepted"
	TypeQuestionDeclined  Type = "question_declined"
	TypeQuestionCompleted Type = "question_completed"
	TypeQuestionExpired   Type = "question_expired"
	TypeExpiryWarning     Type = "question_expiry_warning"
	TypeEarningsUpdate    Type = "earnings_update"
)

// QuestionEvent is published on the questions topic for every lifecycle
// transition. The notification collaborator owns delivery and retries.
type QuestionEvent struct {
	Type             Type      `json:"event_type"`
	QuestionID       int64     `json:"question_id"`
	ClientID         int64     `json:"client_id"`
	ExpertID         int64     `json:"expert_id"`
	Amount           int64     `json:"amount,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	MinutesRemaining int       `json:"minutes_remaining,omitempty"`
	At               time.Time `json:"at"`
}

// EarningsEvent is published on the wallets topic when an expert earning or
// referral bonus lands.
type EarningsEvent struct {
	Type          Type      `json:"event_type"`
	UserID        int64     `json:"user_id"`
	Amount        int64     `json:"amount"`
	Balance       int64     `json:"balance"`
	TotalEarnings int64     `json:"total_earnings"`
	QuestionID    int64     `json:"question_id,omitempty"`
	At            time.Time `json:"at"`
}
