package services

import "errors"

// Sentinel errors for the coin ledger and duel engine. Handlers map
// these onto stable JSON error codes; anything unrecognized becomes a
// 500 internal_error after the enclosing transaction has rolled back.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientWordPool = errors.New("insufficient word pool")
	ErrNotFound             = errors.New("not found")
	ErrPlanLimit            = errors.New("plan limit reached")
)

// Stable error codes returned in the JSON envelope.
const (
	CodeInsufficientFunds = "insufficient_funds"
	CodeInsufficientWords = "insufficient_words"
	CodeValidationFailed  = "validation_failed"
	CodePlanLimit         = "plan_limit_reached"
	CodeNotFound          = "not_found"
	CodeOpponentNotFound  = "opponent_not_found"
	CodeDuelNotFound      = "not_found_or_already_completed"
	CodeInternal          = "internal_error"
)
