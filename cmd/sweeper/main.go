package main

import (
	"log"
	"time"

	"github.com/spf13/viper"

	"github.com/hanyuquiz/backend/internal/database"
	"github.com/hanyuquiz/backend/internal/services"
)

// One-shot escrow sweep for expired duels, intended to run from cron.
func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	sweeper := services.NewSweeperService(db, services.NewLedgerService(db))

	swept, err := sweeper.SweepExpired(time.Now())
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	log.Printf("Sweep complete: %d expired duels refunded", swept)
}
