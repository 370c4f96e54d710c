package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/hanyuquiz/backend/internal/models"
)

func TestWordService_ListWords(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	svc := NewWordService(db)
	columns := []string{"id", "chinese", "pinyin", "english", "description", "hsk_level", "created_at"}

	t.Run("lists catalog words", func(t *testing.T) {
		mock.ExpectQuery("FROM words").
			WithArgs(50).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(1, "水", "shuǐ", "water", "", 1, time.Now()).
				AddRow(2, "咖啡", "kāfēi", "coffee", "loanword", 2, time.Now()))

		w := httptest.NewRecorder()
		svc.ListWords(w, httptest.NewRequest("GET", "/words", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Words []models.Word `json:"words"`
			Count int           `json:"count"`
		}
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, "水", resp.Words[0].Chinese)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("street filter selects untiered words", func(t *testing.T) {
		mock.ExpectQuery("WHERE hsk_level IS NULL").
			WithArgs(50).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(3, "牛", "niú", "awesome", "slang", nil, time.Now()))

		w := httptest.NewRecorder()
		svc.ListWords(w, httptest.NewRequest("GET", "/words?hsk=street", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Words []models.Word `json:"words"`
		}
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Nil(t, resp.Words[0].HSKLevel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("hsk filter binds the level", func(t *testing.T) {
		mock.ExpectQuery("WHERE hsk_level = ").
			WithArgs(3, 20).
			WillReturnRows(sqlmock.NewRows(columns))

		w := httptest.NewRecorder()
		svc.ListWords(w, httptest.NewRequest("GET", "/words?hsk=3&limit=20", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid hsk filter", func(t *testing.T) {
		w := httptest.NewRecorder()
		svc.ListWords(w, httptest.NewRequest("GET", "/words?hsk=banana", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
