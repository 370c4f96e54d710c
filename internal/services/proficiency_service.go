package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hanyuquiz/backend/internal/config"
	"github.com/hanyuquiz/backend/internal/models"
	"github.com/hanyuquiz/backend/internal/sampler"
)

// Score adjustment applied by the post-quiz hook. Nothing else writes
// the score column.
const (
	scoreGainCorrect = 10
	scoreLossWrong   = 5
)

// ProficiencyService owns per-(account, word) learning state: word
// capture, quiz word selection, and the post-quiz score hook.
type ProficiencyService struct {
	db        *sql.DB
	ledger    *LedgerService
	sampler   *sampler.Sampler
	plans     *PlanService
	cfg       *config.EconomyConfig
	validator *ValidationHelper
}

func NewProficiencyService(db *sql.DB, ledger *LedgerService, smp *sampler.Sampler, plans *PlanService, cfg *config.EconomyConfig) *ProficiencyService {
	return &ProficiencyService{
		db:        db,
		ledger:    ledger,
		sampler:   smp,
		plans:     plans,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// PoolFor loads an account's proficiency-annotated word pool. hsk is
// "1".."6" for a tier, "street" for untiered vocabulary, or "" for the
// whole pool.
func (s *ProficiencyService) PoolFor(accountID int64, hsk string) ([]sampler.ScoredWord, error) {
	query := `
		SELECT p.word_id, p.score, p.attempt_count
		FROM proficiency p
		JOIN words w ON w.id = p.word_id
		WHERE p.account_id = $1`
	args := []interface{}{accountID}

	switch {
	case hsk == "street":
		query += ` AND w.hsk_level IS NULL`
	case hsk != "":
		level, err := strconv.Atoi(hsk)
		if err != nil || level < 1 || level > 6 {
			return nil, fmt.Errorf("invalid hsk filter %q", hsk)
		}
		query += ` AND w.hsk_level = $2`
		args = append(args, level)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pool := []sampler.ScoredWord{}
	for rows.Next() {
		var w sampler.ScoredWord
		if err := rows.Scan(&w.WordID, &w.Score, &w.AttemptCount); err != nil {
			return nil, err
		}
		pool = append(pool, w)
	}
	return pool, rows.Err()
}

// UpdateOnAnswerTx is the single proficiency-update hook: +10 on a
// correct answer, -5 on a wrong one, clamped to [0,100], with the
// attempt counters bumped, all inside the caller's transaction.
func (s *ProficiencyService) UpdateOnAnswerTx(tx *sql.Tx, accountID, wordID int64, correct bool) error {
	delta := -scoreLossWrong
	correctInc := 0
	if correct {
		delta = scoreGainCorrect
		correctInc = 1
	}

	result, err := tx.Exec(`
		UPDATE proficiency
		SET score = LEAST(100, GREATEST(0, score + $1)),
		    attempt_count = attempt_count + 1,
		    correct_count = correct_count + $2,
		    updated_at = $3
		WHERE account_id = $4 AND word_id = $5`,
		delta, correctInc, time.Now(), accountID, wordID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CaptureWord acquires a word for the caller
// @Summary Capture a word
// @Description Debit the capture cost and start tracking proficiency for a word
// @Tags words
// @Produce json
// @Security BearerAuth
// @Param wordID path int true "Word ID"
// @Success 201 {object} models.Proficiency
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /words/{wordID}/capture [post]
func (s *ProficiencyService) CaptureWord(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	wordID, err := strconv.ParseInt(chi.URLParam(r, "wordID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, nil)
		return
	}

	if err := s.plans.CheckWordCap(accountID); err == ErrPlanLimit {
		SendErrorResponse(w, CodePlanLimit, http.StatusForbidden, nil)
		return
	} else if err != nil {
		log.Printf("[CAPTURE] Word cap check failed for account %d: %v", accountID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	var word models.Word
	err = s.db.QueryRow(`SELECT id, chinese, pinyin, english FROM words WHERE id = $1`, wordID).
		Scan(&word.ID, &word.Chinese, &word.Pinyin, &word.English)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, CodeNotFound, http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(`
		INSERT INTO proficiency (account_id, word_id, score, attempt_count, correct_count, updated_at)
		VALUES ($1, $2, 0, 0, 0, $3)`,
		accountID, wordID, now); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, fmt.Errorf("word already captured"))
			return
		}
		log.Printf("[CAPTURE] Insert failed for account %d word %d: %v", accountID, wordID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	if s.cfg.CaptureCost > 0 {
		ref := uuid.NewString()
		desc := fmt.Sprintf("Captured word %s (%s)", word.Chinese, word.Pinyin)
		err := s.ledger.DebitTx(tx, accountID, ref, s.cfg.CaptureCost, models.EntryCaptureCost, desc)
		if err == ErrInsufficientFunds {
			SendErrorResponse(w, CodeInsufficientFunds, http.StatusBadRequest, nil)
			return
		}
		if err != nil {
			log.Printf("[CAPTURE] Debit failed for account %d word %d: %v", accountID, wordID, err)
			SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[CAPTURE] Commit failed for account %d word %d: %v", accountID, wordID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(models.Proficiency{
		AccountID: accountID,
		WordID:    wordID,
		UpdatedAt: now,
	})
}

// GetQuizWords returns a stratified practice set
// @Summary Get quiz words
// @Description Difficulty-stratified word selection from the caller's pool
// @Tags quiz
// @Produce json
// @Security BearerAuth
// @Param count query int false "Number of words (default 10, max 50)"
// @Param hsk query string false "HSK level 1-6 or 'street'"
// @Success 200 {object} object{words=[]models.Word,count=int}
// @Failure 403 {object} ErrorResponse
// @Router /quiz-words [get]
func (s *ProficiencyService) GetQuizWords(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	count := 10
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		if c, err := strconv.Atoi(countStr); err == nil && c > 0 && c <= 50 {
			count = c
		}
	}

	if err := s.plans.AllowQuiz(r.Context(), accountID); err == ErrPlanLimit {
		SendErrorResponse(w, CodePlanLimit, http.StatusForbidden, nil)
		return
	} else if err != nil {
		log.Printf("[QUIZ] Plan check failed for account %d: %v", accountID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	served := false
	defer func() {
		if !served {
			s.plans.RefundQuiz(r.Context(), accountID)
		}
	}()

	pool, err := s.PoolFor(accountID, r.URL.Query().Get("hsk"))
	if err != nil {
		SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, err)
		return
	}

	ids := s.sampler.Sample(pool, count)
	words, err := s.wordsByID(ids)
	if err != nil {
		log.Printf("[QUIZ] Word load failed for account %d: %v", accountID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	served = true
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"words": words,
		"count": len(words),
	})
}

type quizResult struct {
	WordID  int64 `json:"word_id" validate:"required"`
	Correct bool  `json:"correct"`
}

// SubmitQuizResults applies the proficiency hook and quiz reward
// @Summary Submit quiz results
// @Description Record per-word answers, adjust proficiency and credit the quiz reward
// @Tags quiz
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param results body object{results=[]quizResult} true "Per-word answers"
// @Success 200 {object} object{updated=int,correct=int,reward=int64}
// @Failure 400 {object} ErrorResponse
// @Router /quiz/results [post]
func (s *ProficiencyService) SubmitQuizResults(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Results []quizResult `json:"results" validate:"required,min=1,max=100,dive"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	correct := 0
	for _, res := range req.Results {
		if err := s.UpdateOnAnswerTx(tx, accountID, res.WordID, res.Correct); err == ErrNotFound {
			SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, fmt.Errorf("word %d not in pool", res.WordID))
			return
		} else if err != nil {
			log.Printf("[QUIZ] Proficiency update failed for account %d word %d: %v", accountID, res.WordID, err)
			SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
			return
		}
		if res.Correct {
			correct++
		}
	}

	reward := int64(correct) * s.cfg.QuizRewardCoins
	if reward > 0 {
		ref := uuid.NewString()
		desc := fmt.Sprintf("Quiz reward: %d correct answers", correct)
		if err := s.ledger.CreditTx(tx, accountID, ref, reward, models.EntryQuizReward, desc); err != nil {
			log.Printf("[QUIZ] Reward credit failed for account %d: %v", accountID, err)
			SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[QUIZ] Commit failed for account %d: %v", accountID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"updated": len(req.Results),
		"correct": correct,
		"reward":  reward,
	})
}

func (s *ProficiencyService) wordsByID(ids []int64) ([]models.Word, error) {
	if len(ids) == 0 {
		return []models.Word{}, nil
	}

	rows, err := s.db.Query(`
		SELECT id, chinese, pinyin, english, COALESCE(description, ''), hsk_level
		FROM words
		WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]models.Word, len(ids))
	for rows.Next() {
		var word models.Word
		if err := rows.Scan(&word.ID, &word.Chinese, &word.Pinyin, &word.English, &word.Description, &word.HSKLevel); err != nil {
			return nil, err
		}
		byID[word.ID] = word
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the sampler's shuffled order.
	words := make([]models.Word, 0, len(ids))
	for _, id := range ids {
		if word, ok := byID[id]; ok {
			words = append(words, word)
		}
	}
	return words, nil
}
