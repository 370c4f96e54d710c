package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/hanyuquiz/backend/internal/sampler"
)

func newPronunciationFixture(t *testing.T) (*PronunciationService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db)
	smp := sampler.New(rand.New(rand.NewSource(1)))
	plans := NewPlanService(db, nil)
	proficiency := NewProficiencyService(db, ledger, smp, plans, testEconomyConfig())

	// No speech client wired; Transcribe falls back to the mock.
	svc := &PronunciationService{db: db, proficiency: proficiency}
	return svc, mock, func() { db.Close() }
}

func TestNormalizeMandarin(t *testing.T) {
	assert.Equal(t, "你好", normalizeMandarin("你好。"))
	assert.Equal(t, "你好", normalizeMandarin(" 你 好 ！"))
	assert.Equal(t, "水", normalizeMandarin("水"))
	assert.Equal(t, normalizeMandarin("谢谢！"), normalizeMandarin("谢谢"))
}

func TestParseEncoding(t *testing.T) {
	for _, name := range []string{"LINEAR16", "flac", "OGG_OPUS", "webm_opus"} {
		_, err := parseEncoding(name)
		assert.NoError(t, err, name)
	}

	_, err := parseEncoding("MP3")
	assert.Error(t, err)
}

func TestPronunciationService_Transcribe(t *testing.T) {
	svc, _, cleanup := newPronunciationFixture(t)
	defer cleanup()

	t.Run("mock fallback without a speech client", func(t *testing.T) {
		req := PronounceRequest{Audio: base64.StdEncoding.EncodeToString([]byte("pcm data"))}
		transcript, confidence, err := svc.Transcribe(context.Background(), req)
		assert.NoError(t, err)
		assert.Equal(t, "[mock transcript 8 bytes]", transcript)
		assert.Equal(t, float32(0), confidence)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, _, err := svc.Transcribe(context.Background(), PronounceRequest{Audio: "not base64!!"})
		assert.Error(t, err)
	})

	t.Run("empty audio", func(t *testing.T) {
		_, _, err := svc.Transcribe(context.Background(), PronounceRequest{Audio: ""})
		assert.Error(t, err)
	})
}

func TestPronunciationService_Pronounce(t *testing.T) {
	svc, mock, cleanup := newPronunciationFixture(t)
	defer cleanup()

	audio := base64.StdEncoding.EncodeToString([]byte("pcm data"))
	body := fmt.Sprintf(`{"word_id":5,"audio":"%s"}`, audio)

	t.Run("non-matching attempt counts as a wrong answer", func(t *testing.T) {
		mock.ExpectQuery("SELECT chinese, pinyin FROM words").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"chinese", "pinyin"}).AddRow("水", "shuǐ"))

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE proficiency").
			WithArgs(-5, 0, sqlmock.AnyArg(), int64(1), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		svc.Pronounce(w, authedRequest("POST", "/quiz/pronounce", body, 1))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp PronounceResponse
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.False(t, resp.Matched)
		assert.Equal(t, "水", resp.Expected)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown word", func(t *testing.T) {
		mock.ExpectQuery("SELECT chinese, pinyin FROM words").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"chinese", "pinyin"}))

		w := httptest.NewRecorder()
		svc.Pronounce(w, authedRequest("POST", "/quiz/pronounce", body, 1))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("word not in the caller's pool", func(t *testing.T) {
		mock.ExpectQuery("SELECT chinese, pinyin FROM words").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"chinese", "pinyin"}).AddRow("水", "shuǐ"))

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE proficiency").
			WithArgs(-5, 0, sqlmock.AnyArg(), int64(1), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		svc.Pronounce(w, authedRequest("POST", "/quiz/pronounce", body, 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing audio rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		svc.Pronounce(w, authedRequest("POST", "/quiz/pronounce", `{"word_id":5}`, 1))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
