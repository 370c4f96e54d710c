package models

import (
	"time"
)

type Account struct {
	ID        int64     `json:"id" db:"id"`
	Balance   int64     `json:"balance" db:"balance"` // coins, never negative
	PlanTier  string    `json:"plan_tier" db:"plan_tier"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Ledger entry kinds. Every balance change carries exactly one of these.
const (
	EntryCaptureCost = "capture_cost"
	EntryQuizReward  = "quiz_reward"
	EntryBet         = "bet"
	EntryBetRefund   = "bet_refund"
	EntryBetReward   = "bet_reward"
)

type LedgerEntry struct {
	ID          int64     `json:"id" db:"id"`
	AccountID   int64     `json:"account_id" db:"account_id"`
	ReferenceID string    `json:"reference_id" db:"reference_id"`
	Amount      int64     `json:"amount" db:"amount"` // signed
	Kind        string    `json:"kind" db:"kind"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
