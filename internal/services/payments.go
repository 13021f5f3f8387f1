package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/openbank/ledger/internal/models"
)

// PaymentRecorder keeps every Payment in insertion order and by reference.
// Recorded payments are never changed or removed.
type PaymentRecorder struct {
	payments    []models.Payment
	byReference map[uint64]int
}

func NewPaymentRecorder() *PaymentRecorder {
	return &PaymentRecorder{byReference: make(map[uint64]int)}
}

func (r *PaymentRecorder) Record(p models.Payment) models.Payment {
	r.byReference[p.Reference] = len(r.payments)
	r.payments = append(r.payments, p)
	return p
}

func (r *PaymentRecorder) Find(op string, ref uint64) (models.Payment, error) {
	i, ok := r.byReference[ref]
	if !ok {
		return models.Payment{}, newError(op, ErrNotFound, "payment %d", ref)
	}
	return r.payments[i], nil
}

func (r *PaymentRecorder) Exists(ref uint64) bool {
	_, ok := r.byReference[ref]
	return ok
}

func (r *PaymentRecorder) Len() int {
	return len(r.payments)
}

func (r *PaymentRecorder) snapshot() []models.Payment {
	out := make([]models.Payment, len(r.payments))
	copy(out, r.payments)
	return out
}

func (r *PaymentRecorder) restore(payments []models.Payment) {
	r.payments = make([]models.Payment, 0, len(payments))
	r.byReference = make(map[uint64]int, len(payments))
	for _, p := range payments {
		r.Record(p)
	}
}

// PaymentFeed publishes recorded payments to downstream consumers.
type PaymentFeed interface {
	Publish(ctx context.Context, p models.Payment) error
}

// RedisPaymentFeed appends each payment to a Redis list per ledger.
type RedisPaymentFeed struct {
	redis *redis.Client
	key   string
}

func NewRedisPaymentFeed(client *redis.Client, ledgerID string) *RedisPaymentFeed {
	return &RedisPaymentFeed{
		redis: client,
		key:   PaymentFeedKey(ledgerID),
	}
}

func PaymentFeedKey(ledgerID string) string {
	return fmt.Sprintf("ledger:%s:payments", ledgerID)
}

func (f *RedisPaymentFeed) Publish(ctx context.Context, p models.Payment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return f.redis.RPush(ctx, f.key, data).Err()
}
