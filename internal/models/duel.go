package models

import "time"

const (
	DuelTypeClassic     = "classic"
	DuelTypeMatchCommon = "match_common"

	DuelStatusPending   = "pending"
	DuelStatusCompleted = "completed"
	DuelStatusExpired   = "expired" // set only by the escrow sweeper
)

// QuizPayload is frozen into the duel row at creation time. Both
// participants answer the identical word set; it is never regenerated.
type QuizPayload struct {
	WordIDs  []int64 `json:"word_ids"`
	DuelType string  `json:"duel_type"`
	QuizType string  `json:"quiz_type"`
}

type Duel struct {
	ID              int64        `json:"id" db:"id"`
	ChallengerID    int64        `json:"challenger_id" db:"challenger_id"`
	OpponentID      int64        `json:"opponent_id" db:"opponent_id"`
	DuelType        string       `json:"duel_type" db:"duel_type"`
	QuizType        string       `json:"quiz_type" db:"quiz_type"`
	QuizPayload     QuizPayload  `json:"quiz_payload" db:"quiz_payload"`
	ChallengerScore *int         `json:"challenger_score" db:"challenger_score"`
	OpponentScore   *int         `json:"opponent_score" db:"opponent_score"`
	BetAmount       int64        `json:"bet_amount" db:"bet_amount"`
	Status          string       `json:"status" db:"status"`
	WinnerID        *int64       `json:"winner_id" db:"winner_id"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	ExpiresAt       time.Time    `json:"expires_at" db:"expires_at"`
	CompletedAt     *time.Time   `json:"completed_at" db:"completed_at"`
}

// IsParticipant reports whether accountID is one of the duel's two sides.
func (d *Duel) IsParticipant(accountID int64) bool {
	return d.ChallengerID == accountID || d.OpponentID == accountID
}
