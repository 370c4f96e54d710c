package models

import "time"

// Word is one entry in the global vocabulary catalog. HSKLevel is 1-6,
// or nil for untiered "street" vocabulary.
type Word struct {
	ID          int64     `json:"id" db:"id"`
	Chinese     string    `json:"chinese" db:"chinese"`
	Pinyin      string    `json:"pinyin" db:"pinyin"`
	English     string    `json:"english" db:"english"`
	Description string    `json:"description,omitempty" db:"description"`
	HSKLevel    *int      `json:"hsk_level" db:"hsk_level"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Proficiency tracks one account's history with one word. Score stays
// in [0,100] and is only ever moved by the post-quiz update hook.
type Proficiency struct {
	AccountID    int64     `json:"account_id" db:"account_id"`
	WordID       int64     `json:"word_id" db:"word_id"`
	Score        int       `json:"score" db:"score"`
	AttemptCount int       `json:"attempt_count" db:"attempt_count"`
	CorrectCount int       `json:"correct_count" db:"correct_count"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
