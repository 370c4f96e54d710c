package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hanyuquiz/backend/internal/models"
)

// SweeperService returns escrowed coins from duels that expired without
// a second score. It runs outside the request path (cmd/sweeper); the
// HTTP core only ever treats expiry as advisory.
type SweeperService struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewSweeperService(db *sql.DB, ledger *LedgerService) *SweeperService {
	return &SweeperService{db: db, ledger: ledger}
}

// SweepExpired refunds every pending duel whose expiry has passed and
// moves it to the terminal expired status. Each duel is handled in its
// own transaction so one failure does not block the rest.
func (s *SweeperService) SweepExpired(now time.Time) (int, error) {
	rows, err := s.db.Query(`
		SELECT id FROM duels
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY id`, now)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		if err := s.sweepOne(id, now); err != nil {
			log.Printf("[SWEEP] Duel %d refund failed: %v", id, err)
			continue
		}
		swept++
	}
	return swept, nil
}

func (s *SweeperService) sweepOne(duelID int64, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Recheck under the row lock: a submit may have settled the duel
	// between the listing and this transaction.
	var challengerID, opponentID, betAmount int64
	err = tx.QueryRow(`
		SELECT challenger_id, opponent_id, bet_amount FROM duels
		WHERE id = $1 AND status = 'pending' AND expires_at < $2
		FOR UPDATE`, duelID, now).Scan(&challengerID, &opponentID, &betAmount)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if betAmount > 0 {
		if err := s.ledger.LockAccounts(tx, challengerID, opponentID); err != nil {
			return err
		}

		ref := uuid.NewString()
		desc := fmt.Sprintf("Duel %d expired, stake returned", duelID)
		for _, accountID := range []int64{challengerID, opponentID} {
			if err := s.ledger.CreditTx(tx, accountID, ref, betAmount, models.EntryBetRefund, desc); err != nil {
				return err
			}
		}
	}

	result, err := tx.Exec(`
		UPDATE duels
		SET status = 'expired', completed_at = $1
		WHERE id = $2 AND status = 'pending'`,
		now, duelID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("duel %d no longer pending", duelID)
	}

	return tx.Commit()
}
