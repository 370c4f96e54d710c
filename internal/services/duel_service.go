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

	"github.com/hanyuquiz/backend/internal/config"
	"github.com/hanyuquiz/backend/internal/models"
	"github.com/hanyuquiz/backend/internal/sampler"
)

// DuelService orchestrates two-account asynchronous matches: escrow of
// both stakes at creation, frozen quiz payloads, and exactly-once
// settlement when the second score lands.
type DuelService struct {
	db          *sql.DB
	ledger      *LedgerService
	sampler     *sampler.Sampler
	plans       *PlanService
	proficiency *ProficiencyService
	cfg         *config.EconomyConfig
	validator   *ValidationHelper
}

func NewDuelService(db *sql.DB, ledger *LedgerService, smp *sampler.Sampler, plans *PlanService, proficiency *ProficiencyService, cfg *config.EconomyConfig) *DuelService {
	return &DuelService{
		db:          db,
		ledger:      ledger,
		sampler:     smp,
		plans:       plans,
		proficiency: proficiency,
		cfg:         cfg,
		validator:   NewValidationHelper(),
	}
}

// CreateDuel creates a duel with both stakes escrowed
// @Summary Create a duel
// @Description Challenge another account: freeze the quiz payload and escrow both bets in one transaction
// @Tags duels
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param duel body object{opponent_id=int64,duel_type=string,quiz_type=string,bet_amount=int64} true "Duel parameters"
// @Success 201 {object} models.Duel
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /duels/create [post]
func (s *DuelService) CreateDuel(w http.ResponseWriter, r *http.Request) {
	challengerID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		OpponentID int64  `json:"opponent_id" validate:"required"`
		DuelType   string `json:"duel_type" validate:"required,oneof=classic match_common"`
		QuizType   string `json:"quiz_type" validate:"required,oneof=multiple_choice pinyin_input listening"`
		BetAmount  int64  `json:"bet_amount" validate:"gte=0"`
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

	if req.OpponentID == challengerID {
		SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, fmt.Errorf("cannot challenge yourself"))
		return
	}
	if req.BetAmount > s.cfg.MaxBetAmount {
		SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, fmt.Errorf("bet exceeds maximum of %d", s.cfg.MaxBetAmount))
		return
	}

	var opponentExists bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, req.OpponentID).Scan(&opponentExists); err != nil {
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	if !opponentExists {
		SendErrorResponse(w, CodeOpponentNotFound, http.StatusNotFound, nil)
		return
	}

	if err := s.plans.AllowDuel(r.Context(), challengerID); err == ErrPlanLimit {
		SendErrorResponse(w, CodePlanLimit, http.StatusForbidden, nil)
		return
	} else if err != nil {
		log.Printf("[DUEL] Plan check failed for account %d: %v", challengerID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	// The allowance unit is consumed up front; hand it back if no duel
	// comes out of this request.
	created := false
	defer func() {
		if !created {
			s.plans.RefundDuel(r.Context(), challengerID)
		}
	}()

	payload, err := s.generatePayload(challengerID, req.OpponentID, req.DuelType, req.QuizType)
	if err == sampler.ErrInsufficientPool {
		SendErrorResponse(w, CodeInsufficientWords, http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		log.Printf("[DUEL] Payload generation failed for %d vs %d: %v", challengerID, req.OpponentID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// Both stakes are escrowed at creation; there is no accept step.
	// Account rows are locked ascending by id before either debit.
	if req.BetAmount > 0 {
		if err := s.ledger.LockAccounts(tx, challengerID, req.OpponentID); err != nil {
			log.Printf("[DUEL] Account lock failed for %d vs %d: %v", challengerID, req.OpponentID, err)
			SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
			return
		}

		ref := uuid.NewString()
		for _, accountID := range []int64{challengerID, req.OpponentID} {
			desc := fmt.Sprintf("Duel stake vs account %d", otherParticipant(accountID, challengerID, req.OpponentID))
			err := s.ledger.DebitTx(tx, accountID, ref, req.BetAmount, models.EntryBet, desc)
			if err == ErrInsufficientFunds {
				SendErrorResponse(w, CodeInsufficientFunds, http.StatusBadRequest, nil)
				return
			}
			if err != nil {
				log.Printf("[DUEL] Escrow debit failed for account %d: %v", accountID, err)
				SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
				return
			}
		}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	now := time.Now()
	duel := models.Duel{
		ChallengerID: challengerID,
		OpponentID:   req.OpponentID,
		DuelType:     req.DuelType,
		QuizType:     req.QuizType,
		QuizPayload:  payload,
		BetAmount:    req.BetAmount,
		Status:       models.DuelStatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.DuelExpiry),
	}

	err = tx.QueryRow(`
		INSERT INTO duels (challenger_id, opponent_id, duel_type, quiz_type, quiz_payload, bet_amount, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		duel.ChallengerID, duel.OpponentID, duel.DuelType, duel.QuizType, payloadJSON,
		duel.BetAmount, duel.Status, duel.CreatedAt, duel.ExpiresAt).Scan(&duel.ID)
	if err != nil {
		log.Printf("[DUEL] Insert failed for %d vs %d: %v", challengerID, req.OpponentID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[DUEL] Commit failed for duel %d: %v", duel.ID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	created = true

	log.Printf("[DUEL] Created duel %d: %d vs %d, stake %d", duel.ID, challengerID, req.OpponentID, req.BetAmount)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(duel)
}

func (s *DuelService) generatePayload(challengerID, opponentID int64, duelType, quizType string) (models.QuizPayload, error) {
	challengerPool, err := s.proficiency.PoolFor(challengerID, "")
	if err != nil {
		return models.QuizPayload{}, err
	}
	opponentPool, err := s.proficiency.PoolFor(opponentID, "")
	if err != nil {
		return models.QuizPayload{}, err
	}

	var wordIDs []int64
	switch duelType {
	case models.DuelTypeClassic:
		wordIDs, err = s.sampler.DrawClassic(challengerPool, opponentPool, s.cfg.DuelWordsPerSide)
	case models.DuelTypeMatchCommon:
		wordIDs, err = s.sampler.DrawMatchCommon(challengerPool, opponentPool, s.cfg.DuelWordsPerSide)
	default:
		err = fmt.Errorf("unknown duel type %q", duelType)
	}
	if err != nil {
		return models.QuizPayload{}, err
	}

	return models.QuizPayload{WordIDs: wordIDs, DuelType: duelType, QuizType: quizType}, nil
}

// SubmitScore records a participant's score and settles when both are in
// @Summary Submit a duel score
// @Description Write the caller's score; when both scores are present the duel settles in the same transaction
// @Tags duels
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param duelID path int true "Duel ID"
// @Param score body object{score=int,results=[]quizResult} true "Score and optional per-word answers"
// @Success 200 {object} object{duel_completed=bool,winner_id=int64}
// @Failure 404 {object} ErrorResponse
// @Router /duels/{duelID}/submit [post]
func (s *DuelService) SubmitScore(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	duelID, err := strconv.ParseInt(chi.URLParam(r, "duelID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, CodeDuelNotFound, http.StatusNotFound, nil)
		return
	}

	var req struct {
		Score   int          `json:"score" validate:"gte=0"`
		Results []quizResult `json:"results" validate:"omitempty,max=100,dive"`
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

	// The row lock plus the status guard on the score update serialize
	// concurrent submits; a second submit for the same slot, or against
	// a settled duel, affects zero rows.
	duel, err := s.lockPendingDuel(tx, duelID)
	if err == ErrNotFound {
		SendErrorResponse(w, CodeDuelNotFound, http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[DUEL] Lock failed for duel %d: %v", duelID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	if !duel.IsParticipant(accountID) {
		SendErrorResponse(w, CodeDuelNotFound, http.StatusNotFound, nil)
		return
	}

	scoreColumn := "challenger_score"
	if accountID == duel.OpponentID {
		scoreColumn = "opponent_score"
	}

	result, err := tx.Exec(fmt.Sprintf(`
		UPDATE duels SET %s = $1
		WHERE id = $2 AND status = 'pending' AND %s IS NULL`, scoreColumn, scoreColumn),
		req.Score, duelID)
	if err != nil {
		log.Printf("[DUEL] Score write failed for duel %d: %v", duelID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, CodeDuelNotFound, http.StatusNotFound, nil)
		return
	}

	if accountID == duel.ChallengerID {
		duel.ChallengerScore = &req.Score
	} else {
		duel.OpponentScore = &req.Score
	}

	// Per-word answers feed the same proficiency hook as solo quizzes.
	for _, res := range req.Results {
		if err := s.proficiency.UpdateOnAnswerTx(tx, accountID, res.WordID, res.Correct); err != nil && err != ErrNotFound {
			log.Printf("[DUEL] Proficiency update failed for duel %d word %d: %v", duelID, res.WordID, err)
			SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
			return
		}
	}

	completed := duel.ChallengerScore != nil && duel.OpponentScore != nil
	if completed {
		if err := s.settleTx(tx, duel); err != nil {
			log.Printf("[DUEL] Settlement failed for duel %d: %v", duelID, err)
			SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[DUEL] Commit failed for duel %d: %v", duelID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	resp := map[string]any{"duel_completed": completed}
	if completed {
		resp["winner_id"] = duel.WinnerID
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// settleTx pays out exactly once, inside the submit transaction. The
// duel row is already locked; the status guard on the final UPDATE is
// the last line of defense against a double settlement.
func (s *DuelService) settleTx(tx *sql.Tx, duel *models.Duel) error {
	challengerScore := *duel.ChallengerScore
	opponentScore := *duel.OpponentScore

	switch {
	case challengerScore > opponentScore:
		duel.WinnerID = &duel.ChallengerID
	case opponentScore > challengerScore:
		duel.WinnerID = &duel.OpponentID
	}

	if duel.BetAmount > 0 {
		if err := s.ledger.LockAccounts(tx, duel.ChallengerID, duel.OpponentID); err != nil {
			return err
		}

		ref := uuid.NewString()
		if duel.WinnerID != nil {
			desc := fmt.Sprintf("Duel %d won %d-%d", duel.ID, challengerScore, opponentScore)
			if err := s.ledger.CreditTx(tx, *duel.WinnerID, ref, 2*duel.BetAmount, models.EntryBetReward, desc); err != nil {
				return err
			}
		} else {
			desc := fmt.Sprintf("Duel %d tied %d-%d, stake returned", duel.ID, challengerScore, opponentScore)
			for _, accountID := range []int64{duel.ChallengerID, duel.OpponentID} {
				if err := s.ledger.CreditTx(tx, accountID, ref, duel.BetAmount, models.EntryBetRefund, desc); err != nil {
					return err
				}
			}
		}
	}

	now := time.Now()
	result, err := tx.Exec(`
		UPDATE duels
		SET status = 'completed', winner_id = $1, completed_at = $2
		WHERE id = $3 AND status = 'pending'`,
		duel.WinnerID, now, duel.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("duel %d no longer pending at settlement", duel.ID)
	}

	duel.Status = models.DuelStatusCompleted
	duel.CompletedAt = &now
	return nil
}

func (s *DuelService) lockPendingDuel(tx *sql.Tx, duelID int64) (*models.Duel, error) {
	var duel models.Duel
	var payloadJSON []byte
	err := tx.QueryRow(`
		SELECT id, challenger_id, opponent_id, duel_type, quiz_type, quiz_payload,
		       challenger_score, opponent_score, bet_amount, status, winner_id,
		       created_at, expires_at, completed_at
		FROM duels
		WHERE id = $1 AND status = 'pending'
		FOR UPDATE`, duelID).Scan(
		&duel.ID, &duel.ChallengerID, &duel.OpponentID, &duel.DuelType, &duel.QuizType, &payloadJSON,
		&duel.ChallengerScore, &duel.OpponentScore, &duel.BetAmount, &duel.Status, &duel.WinnerID,
		&duel.CreatedAt, &duel.ExpiresAt, &duel.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payloadJSON, &duel.QuizPayload); err != nil {
		return nil, err
	}
	return &duel, nil
}

// GetPendingDuels lists the caller's open duels
// @Summary List pending duels
// @Description Open duels for the caller, expired ones excluded
// @Tags duels
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{duels=[]models.Duel,count=int}
// @Router /duels/pending [get]
func (s *DuelService) GetPendingDuels(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	s.listDuels(w, accountID, `
		WHERE (challenger_id = $1 OR opponent_id = $1)
		  AND status = 'pending' AND expires_at > $2
		ORDER BY created_at DESC`, accountID, time.Now())
}

// GetDuelHistory lists the caller's finished duels
// @Summary List duel history
// @Description Completed and expired duels for the caller
// @Tags duels
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{duels=[]models.Duel,count=int}
// @Router /duels/history [get]
func (s *DuelService) GetDuelHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	s.listDuels(w, accountID, `
		WHERE (challenger_id = $1 OR opponent_id = $1)
		  AND status <> 'pending'
		ORDER BY created_at DESC
		LIMIT 50`, accountID)
}

// GetDuel returns one duel the caller participates in
// @Summary Get a duel
// @Tags duels
// @Produce json
// @Security BearerAuth
// @Param duelID path int true "Duel ID"
// @Success 200 {object} models.Duel
// @Failure 404 {object} ErrorResponse
// @Router /duels/{duelID} [get]
func (s *DuelService) GetDuel(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	duelID, err := strconv.ParseInt(chi.URLParam(r, "duelID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, CodeNotFound, http.StatusNotFound, nil)
		return
	}

	duel, err := s.fetchDuel(duelID)
	if err == ErrNotFound {
		SendErrorResponse(w, CodeNotFound, http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[DUEL] Fetch failed for duel %d: %v", duelID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	if !duel.IsParticipant(accountID) {
		SendErrorResponse(w, CodeNotFound, http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(duel)
}

func (s *DuelService) fetchDuel(duelID int64) (*models.Duel, error) {
	var duel models.Duel
	var payloadJSON []byte
	err := s.db.QueryRow(`
		SELECT id, challenger_id, opponent_id, duel_type, quiz_type, quiz_payload,
		       challenger_score, opponent_score, bet_amount, status, winner_id,
		       created_at, expires_at, completed_at
		FROM duels
		WHERE id = $1`, duelID).Scan(
		&duel.ID, &duel.ChallengerID, &duel.OpponentID, &duel.DuelType, &duel.QuizType, &payloadJSON,
		&duel.ChallengerScore, &duel.OpponentScore, &duel.BetAmount, &duel.Status, &duel.WinnerID,
		&duel.CreatedAt, &duel.ExpiresAt, &duel.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payloadJSON, &duel.QuizPayload); err != nil {
		return nil, err
	}
	return &duel, nil
}

func (s *DuelService) listDuels(w http.ResponseWriter, accountID int64, whereClause string, args ...interface{}) {
	query := `
		SELECT id, challenger_id, opponent_id, duel_type, quiz_type, quiz_payload,
		       challenger_score, opponent_score, bet_amount, status, winner_id,
		       created_at, expires_at, completed_at
		FROM duels ` + whereClause

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[DUEL] Listing failed for account %d: %v", accountID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	duels := []models.Duel{}
	for rows.Next() {
		var duel models.Duel
		var payloadJSON []byte
		if err := rows.Scan(
			&duel.ID, &duel.ChallengerID, &duel.OpponentID, &duel.DuelType, &duel.QuizType, &payloadJSON,
			&duel.ChallengerScore, &duel.OpponentScore, &duel.BetAmount, &duel.Status, &duel.WinnerID,
			&duel.CreatedAt, &duel.ExpiresAt, &duel.CompletedAt); err != nil {
			SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
			return
		}
		if err := json.Unmarshal(payloadJSON, &duel.QuizPayload); err != nil {
			SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
			return
		}
		duels = append(duels, duel)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"duels": duels,
		"count": len(duels),
	})
}

func otherParticipant(accountID, challengerID, opponentID int64) int64 {
	if accountID == challengerID {
		return opponentID
	}
	return challengerID
}
