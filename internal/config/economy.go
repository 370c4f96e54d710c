package config

import (
	"time"

	"github.com/spf13/viper"
)

// EconomyConfig holds the coin economy tunables.
type EconomyConfig struct {
	CaptureCost      int64         // coins debited when acquiring a word
	QuizRewardCoins  int64         // coins credited per correct quiz answer
	MaxBetAmount     int64         // upper bound on duel stakes
	DuelWordsPerSide int           // words drawn per participant (classic)
	DuelExpiry       time.Duration // pending duel lifetime
}

// GetEconomyConfig returns economy configuration with defaults.
func GetEconomyConfig() *EconomyConfig {
	viper.SetDefault("economy.capture_cost", 5)
	viper.SetDefault("economy.quiz_reward_coins", 1)
	viper.SetDefault("economy.max_bet_amount", 500)
	viper.SetDefault("economy.duel_words_per_side", 10)
	viper.SetDefault("economy.duel_expiry", 24*time.Hour)

	return &EconomyConfig{
		CaptureCost:      viper.GetInt64("economy.capture_cost"),
		QuizRewardCoins:  viper.GetInt64("economy.quiz_reward_coins"),
		MaxBetAmount:     viper.GetInt64("economy.max_bet_amount"),
		DuelWordsPerSide: viper.GetInt("economy.duel_words_per_side"),
		DuelExpiry:       viper.GetDuration("economy.duel_expiry"),
	}
}
