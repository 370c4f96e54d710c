package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/hanyuquiz/backend/internal/models"
)

// LedgerService is the only component that mutates account balances.
// Every change appends exactly one ledger entry in the same transaction
// as the balance write, under an exclusive row lock.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// DebitTx removes amount coins from an account inside an existing
// transaction. The account row is locked before the balance check so
// two concurrent debits cannot both pass on a stale read. Returns
// ErrInsufficientFunds without writing anything when the balance is
// short.
func (s *LedgerService) DebitTx(tx *sql.Tx, accountID int64, referenceID string, amount int64, kind, description string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return err
	}

	if account.Balance < amount {
		return ErrInsufficientFunds
	}

	if err := s.appendEntry(tx, accountID, referenceID, -amount, kind, description); err != nil {
		return err
	}

	return s.writeBalance(tx, accountID, account.Balance-amount)
}

// CreditTx adds amount coins to an account inside an existing
// transaction.
func (s *LedgerService) CreditTx(tx *sql.Tx, accountID int64, referenceID string, amount int64, kind, description string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return err
	}

	if err := s.appendEntry(tx, accountID, referenceID, amount, kind, description); err != nil {
		return err
	}

	return s.writeBalance(tx, accountID, account.Balance+amount)
}

// Debit opens its own transaction around DebitTx.
func (s *LedgerService) Debit(accountID int64, referenceID string, amount int64, kind, description string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.DebitTx(tx, accountID, referenceID, amount, kind, description); err != nil {
		return err
	}
	return tx.Commit()
}

// Credit opens its own transaction around CreditTx.
func (s *LedgerService) Credit(accountID int64, referenceID string, amount int64, kind, description string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.CreditTx(tx, accountID, referenceID, amount, kind, description); err != nil {
		return err
	}
	return tx.Commit()
}

// LockAccounts locks two account rows in ascending-id order regardless
// of role, so concurrent operations on the same pair cannot deadlock.
func (s *LedgerService) LockAccounts(tx *sql.Tx, idA, idB int64) error {
	first, second := idA, idB
	if first > second {
		first, second = second, first
	}

	if _, err := s.lockAccount(tx, first); err != nil {
		return err
	}
	_, err := s.lockAccount(tx, second)
	return err
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID int64) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, balance FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) appendEntry(tx *sql.Tx, accountID int64, referenceID string, amount int64, kind, description string) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (account_id, reference_id, amount, kind, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		accountID, referenceID, amount, kind, description, time.Now())
	return err
}

func (s *LedgerService) writeBalance(tx *sql.Tx, accountID, newBalance int64) error {
	_, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, updated_at = $2
		WHERE id = $3`,
		newBalance, time.Now(), accountID)
	return err
}

// Balance reads the current balance outside any lock.
func (s *LedgerService) Balance(accountID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return balance, err
}

// Entries returns the account's most recent ledger entries.
func (s *LedgerService) Entries(accountID int64, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, reference_id, amount, kind, description, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.ReferenceID, &e.Amount, &e.Kind, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBalance returns the caller's coin balance
// @Summary Get coin balance
// @Description Current coin balance for the authenticated account
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64}
// @Failure 404 {object} ErrorResponse
// @Router /balance [get]
func (s *LedgerService) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.Balance(accountID)
	if err == ErrNotFound {
		SendErrorResponse(w, CodeNotFound, http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[LEDGER] Balance read failed for account %d: %v", accountID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"balance": balance})
}

// GetLedger returns the caller's recent ledger entries
// @Summary List ledger entries
// @Description Recent coin movements for the authenticated account
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of entries (default 50, max 200)"
// @Success 200 {object} object{entries=[]models.LedgerEntry,count=int}
// @Router /ledger [get]
func (s *LedgerService) GetLedger(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r)
	if !ok {
		SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	entries, err := s.Entries(accountID, limit)
	if err != nil {
		log.Printf("[LEDGER] Entry listing failed for account %d: %v", accountID, err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
