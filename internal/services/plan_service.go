package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// PlanPolicy is the capability set for one plan tier, checked before
// duel creation and quiz draws instead of scattering tier conditionals.
type PlanPolicy struct {
	MaxDailyDuels   int
	MaxDailyQuizzes int
	MaxWords        int
}

var planPolicies = map[string]PlanPolicy{
	"free":    {MaxDailyDuels: 3, MaxDailyQuizzes: 10, MaxWords: 200},
	"premium": {MaxDailyDuels: 50, MaxDailyQuizzes: 200, MaxWords: 10000},
}

// PlanService enforces per-tier daily limits. Counters live in Redis
// and expire at midnight UTC; without Redis the limits are advisory
// and nothing is enforced.
type PlanService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewPlanService(db *sql.DB, redis *redis.Client) *PlanService {
	return &PlanService{db: db, redis: redis}
}

// PolicyFor returns the policy for a tier, defaulting unknown tiers to
// free.
func (s *PlanService) PolicyFor(tier string) PlanPolicy {
	if p, ok := planPolicies[tier]; ok {
		return p
	}
	return planPolicies["free"]
}

func (s *PlanService) tierFor(accountID int64) (string, error) {
	var tier string
	err := s.db.QueryRow(`SELECT plan_tier FROM accounts WHERE id = $1`, accountID).Scan(&tier)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return tier, err
}

// AllowDuel consumes one unit of the account's daily duel allowance.
func (s *PlanService) AllowDuel(ctx context.Context, accountID int64) error {
	return s.consume(ctx, accountID, "duels", func(p PlanPolicy) int { return p.MaxDailyDuels })
}

// AllowQuiz consumes one unit of the account's daily quiz allowance.
func (s *PlanService) AllowQuiz(ctx context.Context, accountID int64) error {
	return s.consume(ctx, accountID, "quizzes", func(p PlanPolicy) int { return p.MaxDailyQuizzes })
}

func (s *PlanService) consume(ctx context.Context, accountID int64, metric string, limit func(PlanPolicy) int) error {
	tier, err := s.tierFor(accountID)
	if err != nil {
		return err
	}
	max := limit(s.PolicyFor(tier))

	if s.redis == nil {
		return nil
	}

	key := fmt.Sprintf("plan:%s:%d:%s", metric, accountID, time.Now().UTC().Format("2006-01-02"))
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[PLAN] Counter %s unavailable, not enforcing: %v", key, err)
		return nil
	}
	if count == 1 {
		midnight := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		s.redis.ExpireAt(ctx, key, midnight)
	}

	if count > int64(max) {
		return ErrPlanLimit
	}
	return nil
}

// RefundDuel returns one duel unit consumed by AllowDuel, for callers
// whose guarded operation failed after the allowance check.
func (s *PlanService) RefundDuel(ctx context.Context, accountID int64) {
	s.refund(ctx, accountID, "duels")
}

// RefundQuiz returns one quiz unit consumed by AllowQuiz.
func (s *PlanService) RefundQuiz(ctx context.Context, accountID int64) {
	s.refund(ctx, accountID, "quizzes")
}

func (s *PlanService) refund(ctx context.Context, accountID int64, metric string) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf("plan:%s:%d:%s", metric, accountID, time.Now().UTC().Format("2006-01-02"))
	if err := s.redis.Decr(ctx, key).Err(); err != nil {
		log.Printf("[PLAN] Counter %s refund failed: %v", key, err)
	}
}

// CheckWordCap fails when the account already holds its tier's maximum
// number of captured words.
func (s *PlanService) CheckWordCap(accountID int64) error {
	tier, err := s.tierFor(accountID)
	if err != nil {
		return err
	}
	max := s.PolicyFor(tier).MaxWords

	var owned int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM proficiency WHERE account_id = $1`, accountID).Scan(&owned); err != nil {
		return err
	}
	if owned >= max {
		return ErrPlanLimit
	}
	return nil
}
