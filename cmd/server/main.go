package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/hanyuquiz/backend/internal/config"
	"github.com/hanyuquiz/backend/internal/database"
	"github.com/hanyuquiz/backend/internal/handlers"
	mW "github.com/hanyuquiz/backend/internal/middleware"
	"github.com/hanyuquiz/backend/internal/sampler"
	"github.com/hanyuquiz/backend/internal/services"
)

// @title HanyuQuiz Backend API
// @version 1.0
// @description Coin ledger, duel engine and adaptive word sampler for the HanyuQuiz language app
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("app.base_url", "APP_BASE_URL")

	viper.BindEnv("economy.capture_cost", "ECONOMY_CAPTURE_COST")
	viper.BindEnv("economy.quiz_reward_coins", "ECONOMY_QUIZ_REWARD_COINS")
	viper.BindEnv("economy.max_bet_amount", "ECONOMY_MAX_BET_AMOUNT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	economy := config.GetEconomyConfig()
	smp := sampler.New(nil)

	ledgerService := services.NewLedgerService(db)
	planService := services.NewPlanService(db, redisClient)
	proficiencyService := services.NewProficiencyService(db, ledgerService, smp, planService, economy)
	duelService := services.NewDuelService(db, ledgerService, smp, planService, proficiencyService, economy)
	wordService := services.NewWordService(db)
	inviteService := services.NewInviteService(db, redisClient)
	inviteHandler := handlers.NewInviteHandler(inviteService)
	pronunciationService := services.NewPronunciationService(db, proficiencyService)
	defer pronunciationService.Close()

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yaml")
	})

	// Word audio recordings
	r.Handle("/static/word-audio/*", http.StripPrefix("/static/word-audio/",
		mW.StaticFileServer("./static/word-audio")))

	r.Route("/api/v1", func(r chi.Router) {
		// Public catalog
		r.Get("/words", wordService.ListWords)

		// Everything else requires a session token
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/balance", ledgerService.GetBalance)
			r.Get("/ledger", ledgerService.GetLedger)

			r.Post("/words/{wordID}/capture", proficiencyService.CaptureWord)
			r.Get("/quiz-words", proficiencyService.GetQuizWords)
			r.Post("/quiz/results", proficiencyService.SubmitQuizResults)
			r.Post("/quiz/pronounce", pronunciationService.Pronounce)

			r.Post("/duels/create", duelService.CreateDuel)
			r.Get("/duels/pending", duelService.GetPendingDuels)
			r.Get("/duels/history", duelService.GetDuelHistory)
			r.Post("/duels/invites/resolve", inviteHandler.ResolveInvite)
			r.Get("/duels/{duelID}", duelService.GetDuel)
			r.Post("/duels/{duelID}/submit", duelService.SubmitScore)
			r.Post("/duels/{duelID}/invite", inviteHandler.CreateInvite)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
