package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/openbank/ledger/internal/models"
	"github.com/skip2/go-qrcode"
)

var ErrInvalidCode = errors.New("invalid or expired QR code")

// QRPayload is what a request debit presentation code resolves to.
type QRPayload struct {
	LedgerID  string `json:"ledger_id"`
	Reference string `json:"reference"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// QRService turns request debit references into scannable codes. With a
// Redis client codes are one-shot and expire after ttl; without one they
// are self-contained and never expire.
type QRService struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

func NewQRService(redis *redis.Client, ttl time.Duration) *QRService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QRService{
		redis: redis,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *QRService) GenerateRequestDebitCode(ctx context.Context, ledgerID string, ref uint64) (string, string, error) {
	qrData := QRPayload{
		LedgerID:  ledgerID,
		Reference: models.FormatReference(ref),
		Timestamp: s.now().Unix(),
		Nonce:     s.generateNonce(),
	}

	jsonData, err := json.Marshal(qrData)
	if err != nil {
		return "", "", err
	}

	qrCode := base64.URLEncoding.EncodeToString(jsonData)

	if s.redis != nil {
		key := fmt.Sprintf("qr:%s", qrCode)
		if err := s.redis.Set(ctx, key, jsonData, s.ttl).Err(); err != nil {
			return "", "", err
		}
	}

	qr, err := qrcode.New(qrCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return qrCode, qrImage, nil
}

// ResolveCode returns the payload behind a code. A stored code is deleted
// once resolved.
func (s *QRService) ResolveCode(ctx context.Context, qrCode string) (QRPayload, error) {
	var data []byte
	if s.redis == nil {
		decoded, err := base64.URLEncoding.DecodeString(qrCode)
		if err != nil {
			return QRPayload{}, ErrInvalidCode
		}
		data = decoded
	} else {
		key := fmt.Sprintf("qr:%s", qrCode)
		stored, err := s.redis.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return QRPayload{}, ErrInvalidCode
		}
		if err != nil {
			return QRPayload{}, err
		}
		s.redis.Del(ctx, key)
		data = stored
	}

	var result QRPayload
	if err := json.Unmarshal(data, &result); err != nil {
		return QRPayload{}, ErrInvalidCode
	}
	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
