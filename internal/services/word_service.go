package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/hanyuquiz/backend/internal/models"
)

// WordService serves the global vocabulary catalog, read-only.
type WordService struct {
	db *sql.DB
}

func NewWordService(db *sql.DB) *WordService {
	return &WordService{db: db}
}

// ListWords lists catalog words
// @Summary List catalog words
// @Description Vocabulary catalog, optionally filtered by HSK level or 'street'
// @Tags words
// @Produce json
// @Param hsk query string false "HSK level 1-6 or 'street'"
// @Param limit query int false "Number of words (default 50, max 200)"
// @Success 200 {object} object{words=[]models.Word,count=int}
// @Router /words [get]
func (s *WordService) ListWords(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	query := `
		SELECT id, chinese, pinyin, english, COALESCE(description, ''), hsk_level, created_at
		FROM words`
	args := []interface{}{}

	switch hsk := r.URL.Query().Get("hsk"); {
	case hsk == "street":
		query += ` WHERE hsk_level IS NULL`
	case hsk != "":
		level, err := strconv.Atoi(hsk)
		if err != nil || level < 1 || level > 6 {
			SendErrorResponse(w, CodeValidationFailed, http.StatusBadRequest, nil)
			return
		}
		query += ` WHERE hsk_level = $1`
		args = append(args, level)
	}

	query += ` ORDER BY id LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[WORDS] Catalog listing failed: %v", err)
		SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	words := []models.Word{}
	for rows.Next() {
		var word models.Word
		if err := rows.Scan(&word.ID, &word.Chinese, &word.Pinyin, &word.English, &word.Description, &word.HSKLevel, &word.CreatedAt); err != nil {
			SendErrorResponse(w, CodeInternal, http.StatusInternalServerError, nil)
			return
		}
		words = append(words, word)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"words": words,
		"count": len(words),
	})
}
