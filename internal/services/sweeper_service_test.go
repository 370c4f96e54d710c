package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/hanyuquiz/backend/internal/models"
)

func TestSweeperService_SweepExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	svc := NewSweeperService(db, NewLedgerService(db))
	now := time.Now()

	t.Run("refunds both stakes and expires the duel", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM duels").
			WithArgs(now).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT challenger_id, opponent_id, bet_amount FROM duels").
			WithArgs(int64(3), now).
			WillReturnRows(sqlmock.NewRows([]string{"challenger_id", "opponent_id", "bet_amount"}).
				AddRow(1, 2, 50))

		expectAccountLock(mock, 1, 50)
		expectAccountLock(mock, 2, 50)

		expectAccountLock(mock, 1, 50)
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(int64(1), sqlmock.AnyArg(), int64(50), models.EntryBetRefund, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(100), sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		expectAccountLock(mock, 2, 50)
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(int64(2), sqlmock.AnyArg(), int64(50), models.EntryBetRefund, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(100), sqlmock.AnyArg(), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("SET status = 'expired'").
			WithArgs(now, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		swept, err := svc.SweepExpired(now)
		assert.NoError(t, err)
		assert.Equal(t, 1, swept)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero bet duel expires without ledger writes", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM duels").
			WithArgs(now).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT challenger_id, opponent_id, bet_amount FROM duels").
			WithArgs(int64(4), now).
			WillReturnRows(sqlmock.NewRows([]string{"challenger_id", "opponent_id", "bet_amount"}).
				AddRow(1, 2, 0))
		mock.ExpectExec("SET status = 'expired'").
			WithArgs(now, int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		swept, err := svc.SweepExpired(now)
		assert.NoError(t, err)
		assert.Equal(t, 1, swept)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duel settled between listing and lock is skipped", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM duels").
			WithArgs(now).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT challenger_id, opponent_id, bet_amount FROM duels").
			WithArgs(int64(5), now).
			WillReturnRows(sqlmock.NewRows([]string{"challenger_id", "opponent_id", "bet_amount"}))
		mock.ExpectRollback()

		swept, err := svc.SweepExpired(now)
		assert.NoError(t, err)
		assert.Equal(t, 1, swept)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing pending", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM duels").
			WithArgs(now).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		swept, err := svc.SweepExpired(now)
		assert.NoError(t, err)
		assert.Equal(t, 0, swept)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
