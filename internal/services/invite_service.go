package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/viper"
)

// ErrInvitesUnavailable is returned when Redis is down; invites are the
// only feature that hard-requires it.
var ErrInvitesUnavailable = errors.New("invites unavailable")

const inviteTTL = 24 * time.Hour

// InviteService issues shareable duel invite codes with QR images.
// Codes live in Redis for the duel's lifetime.
type InviteService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewInviteService(db *sql.DB, redis *redis.Client) *InviteService {
	return &InviteService{db: db, redis: redis}
}

type invitePayload struct {
	DuelID       int64 `json:"duel_id"`
	ChallengerID int64 `json:"challenger_id"`
}

// CreateInvite issues a code and QR image for a pending duel the caller
// created.
func (s *InviteService) CreateInvite(ctx context.Context, duelID, accountID int64) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrInvitesUnavailable
	}

	var challengerID int64
	var status string
	err := s.db.QueryRow(`SELECT challenger_id, status FROM duels WHERE id = $1`, duelID).
		Scan(&challengerID, &status)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	if challengerID != accountID || status != "pending" {
		return "", "", ErrNotFound
	}

	code := s.generateCode()
	data, err := json.Marshal(invitePayload{DuelID: duelID, ChallengerID: challengerID})
	if err != nil {
		return "", "", err
	}

	key := fmt.Sprintf("invite:%s", code)
	if err := s.redis.Set(ctx, key, data, inviteTTL).Err(); err != nil {
		return "", "", err
	}

	viper.SetDefault("app.base_url", "http://localhost:8080")
	link := fmt.Sprintf("%s/duels/join?code=%s", viper.GetString("app.base_url"), code)

	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ResolveInvite returns the duel id for a live invite code.
func (s *InviteService) ResolveInvite(ctx context.Context, code string) (int64, error) {
	if s.redis == nil {
		return 0, ErrInvitesUnavailable
	}

	key := fmt.Sprintf("invite:%s", code)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	var payload invitePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, err
	}
	return payload.DuelID, nil
}

func (s *InviteService) generateCode() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
