package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/openbank/ledger/internal/models"
	"github.com/spf13/viper"
)

// AttachmentHeader carries the signed proof of the value a caller attached
// to a payable call. The host or payment gateway that received the funds
// issues it with jwt.attachment_key; callers cannot mint their own.
const AttachmentHeader = "X-Attachment"

var (
	ErrNoAttachment      = errors.New("verified attachment required")
	ErrInvalidAttachment = errors.New("invalid attachment")
)

// Attachment is the verified value attached to one payable call.
type Attachment struct {
	AccountID string
	Operation string
	Amount    models.Amount
	Nonce     uint64
}

type attachmentClaims struct {
	AccountID string        `json:"account_id"`
	Operation string        `json:"op"`
	Amount    models.Amount `json:"amount"`
	Nonce     uint64        `json:"nonce"`
	jwt.RegisteredClaims
}

func attachmentKey() ([]byte, error) {
	key := viper.GetString("jwt.attachment_key")
	if key == "" {
		return nil, errors.New("jwt.attachment_key is not set")
	}
	return []byte(key), nil
}

// VerifyAttachment reads and verifies the attachment of a request. A request
// without one is refused with ErrNoAttachment.
func VerifyAttachment(r *http.Request) (Attachment, error) {
	tokenString := r.Header.Get(AttachmentHeader)
	if tokenString == "" {
		return Attachment{}, ErrNoAttachment
	}

	key, err := attachmentKey()
	if err != nil {
		return Attachment{}, fmt.Errorf("%w: %v", ErrInvalidAttachment, err)
	}

	var claims attachmentClaims
	_, err = jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Attachment{}, fmt.Errorf("%w: %v", ErrInvalidAttachment, err)
	}
	if claims.AccountID == "" || claims.Operation == "" {
		return Attachment{}, fmt.Errorf("%w: account_id and op claims required", ErrInvalidAttachment)
	}

	return Attachment{
		AccountID: claims.AccountID,
		Operation: claims.Operation,
		Amount:    claims.Amount,
		Nonce:     claims.Nonce,
	}, nil
}

// Matches reports whether the attachment was issued for this caller,
// operation and nonce.
func (a Attachment) Matches(caller, operation string, nonce uint64) error {
	if a.AccountID != caller {
		return fmt.Errorf("%w: issued to %s", ErrInvalidAttachment, a.AccountID)
	}
	if a.Operation != operation {
		return fmt.Errorf("%w: issued for %s", ErrInvalidAttachment, a.Operation)
	}
	if a.Nonce != nonce {
		return fmt.Errorf("%w: issued for nonce %d", ErrInvalidAttachment, a.Nonce)
	}
	return nil
}

// GenerateAttachment signs an attachment. It expires after
// jwt.attachment_ttl.
func GenerateAttachment(a Attachment) (string, error) {
	key, err := attachmentKey()
	if err != nil {
		return "", err
	}
	viper.SetDefault("jwt.attachment_ttl", 5*time.Minute)

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, attachmentClaims{
		AccountID: a.AccountID,
		Operation: a.Operation,
		Amount:    a.Amount,
		Nonce:     a.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(viper.GetDuration("jwt.attachment_ttl"))),
		},
	})
	return token.SignedString(key)
}
