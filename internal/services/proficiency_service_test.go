package services

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/hanyuquiz/backend/internal/models"
	"github.com/hanyuquiz/backend/internal/sampler"
)

func newProficiencyFixture(t *testing.T) (*ProficiencyService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db)
	smp := sampler.New(rand.New(rand.NewSource(1)))
	plans := NewPlanService(db, nil)
	svc := NewProficiencyService(db, ledger, smp, plans, testEconomyConfig())
	return svc, mock, func() { db.Close() }
}

func TestProficiencyService_UpdateOnAnswerTx(t *testing.T) {
	svc, mock, cleanup := newProficiencyFixture(t)
	defer cleanup()

	db := svc.db

	t.Run("correct answer gains ten", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE proficiency").
			WithArgs(10, 1, sqlmock.AnyArg(), int64(1), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, svc.UpdateOnAnswerTx(tx, 1, 5, true))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong answer loses five", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE proficiency").
			WithArgs(-5, 0, sqlmock.AnyArg(), int64(1), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, svc.UpdateOnAnswerTx(tx, 1, 5, false))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("word outside the pool", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE proficiency").
			WithArgs(10, 1, sqlmock.AnyArg(), int64(1), int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, svc.UpdateOnAnswerTx(tx, 1, 99, true), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestProficiencyService_CaptureWord(t *testing.T) {
	svc, mock, cleanup := newProficiencyFixture(t)
	defer cleanup()

	router := chi.NewRouter()
	router.Post("/words/{wordID}/capture", svc.CaptureWord)

	expectWordCapOK := func() {
		mock.ExpectQuery("SELECT plan_tier FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"plan_tier"}).AddRow("free"))
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	}

	t.Run("capture debits the cost once", func(t *testing.T) {
		expectWordCapOK()
		mock.ExpectQuery("SELECT id, chinese, pinyin, english FROM words").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "chinese", "pinyin", "english"}).
				AddRow(5, "水", "shuǐ", "water"))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO proficiency").
			WithArgs(int64(1), int64(5), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		expectAccountLock(mock, 1, 100)
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(int64(1), sqlmock.AnyArg(), int64(-5), models.EntryCaptureCost, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(95), sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("POST", "/words/5/capture", "", 1))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already captured", func(t *testing.T) {
		expectWordCapOK()
		mock.ExpectQuery("SELECT id, chinese, pinyin, english FROM words").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "chinese", "pinyin", "english"}).
				AddRow(5, "水", "shuǐ", "water"))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO proficiency").
			WithArgs(int64(1), int64(5), sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("POST", "/words/5/capture", "", 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "already captured")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cannot afford the capture cost", func(t *testing.T) {
		expectWordCapOK()
		mock.ExpectQuery("SELECT id, chinese, pinyin, english FROM words").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "chinese", "pinyin", "english"}).
				AddRow(5, "水", "shuǐ", "water"))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO proficiency").
			WithArgs(int64(1), int64(5), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectAccountLock(mock, 1, 2)
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("POST", "/words/5/capture", "", 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), CodeInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("word cap reached", func(t *testing.T) {
		mock.ExpectQuery("SELECT plan_tier FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"plan_tier"}).AddRow("free"))
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(200))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("POST", "/words/5/capture", "", 1))

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), CodePlanLimit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown word", func(t *testing.T) {
		expectWordCapOK()
		mock.ExpectQuery("SELECT id, chinese, pinyin, english FROM words").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "chinese", "pinyin", "english"}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest("POST", "/words/99/capture", "", 1))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestProficiencyService_SubmitQuizResults(t *testing.T) {
	svc, mock, cleanup := newProficiencyFixture(t)
	defer cleanup()

	t.Run("rewards one coin per correct answer", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE proficiency").
			WithArgs(10, 1, sqlmock.AnyArg(), int64(1), int64(11)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE proficiency").
			WithArgs(-5, 0, sqlmock.AnyArg(), int64(1), int64(12)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE proficiency").
			WithArgs(10, 1, sqlmock.AnyArg(), int64(1), int64(13)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		expectAccountLock(mock, 1, 100)
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(int64(1), sqlmock.AnyArg(), int64(2), models.EntryQuizReward, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(102), sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body := `{"results":[{"word_id":11,"correct":true},{"word_id":12,"correct":false},{"word_id":13,"correct":true}]}`
		w := httptest.NewRecorder()
		req := authedRequest("POST", "/quiz/results", body, 1)
		svc.SubmitQuizResults(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, float64(3), resp["updated"])
		assert.Equal(t, float64(2), resp["correct"])
		assert.Equal(t, float64(2), resp["reward"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("all wrong earns nothing", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE proficiency").
			WithArgs(-5, 0, sqlmock.AnyArg(), int64(1), int64(11)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body := `{"results":[{"word_id":11,"correct":false}]}`
		w := httptest.NewRecorder()
		svc.SubmitQuizResults(w, authedRequest("POST", "/quiz/results", body, 1))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, float64(0), resp["reward"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("uncaptured word rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE proficiency").
			WithArgs(10, 1, sqlmock.AnyArg(), int64(1), int64(77)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		body := `{"results":[{"word_id":77,"correct":true}]}`
		w := httptest.NewRecorder()
		svc.SubmitQuizResults(w, authedRequest("POST", "/quiz/results", body, 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), CodeValidationFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty results rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		svc.SubmitQuizResults(w, authedRequest("POST", "/quiz/results", `{"results":[]}`, 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), CodeValidationFailed)
	})
}

func TestProficiencyService_GetQuizWords(t *testing.T) {
	svc, mock, cleanup := newProficiencyFixture(t)
	defer cleanup()

	t.Run("returns a stratified selection", func(t *testing.T) {
		mock.ExpectQuery("SELECT plan_tier FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"plan_tier"}).AddRow("free"))
		expectPoolQuery(mock, 1, 12)

		wordRows := sqlmock.NewRows([]string{"id", "chinese", "pinyin", "english", "description", "hsk_level"})
		for i := 1; i <= 12; i++ {
			wordRows.AddRow(int64(i), "字", "zì", "character", "", 1)
		}
		mock.ExpectQuery("FROM words").
			WillReturnRows(wordRows)

		w := httptest.NewRecorder()
		svc.GetQuizWords(w, authedRequest("GET", "/quiz-words?count=10", "", 1))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Words []models.Word `json:"words"`
			Count int           `json:"count"`
		}
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 10, resp.Count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid hsk filter", func(t *testing.T) {
		mock.ExpectQuery("SELECT plan_tier FROM accounts").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"plan_tier"}).AddRow("free"))

		w := httptest.NewRecorder()
		svc.GetQuizWords(w, authedRequest("GET", "/quiz-words?hsk=9", "", 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
