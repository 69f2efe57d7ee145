package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/saunamo/configurator-api/internal/platform/firestore"
)

const (
	requestKeysCollection = "quoteRequestKeys"
	defaultRequestKeyTTL  = 24 * time.Hour
)

type requestKeyDocument struct {
	QuoteID   string    `firestore:"quoteId"`
	CreatedAt time.Time `firestore:"createdAt"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

// IdempotencyRepository records request keys in Firestore so retried quote
// creations resolve to the quote written the first time.
type IdempotencyRepository struct {
	provider *pfirestore.Provider
	keys     *pfirestore.BaseRepository[requestKeyDocument]
	now      func() time.Time
}

// IdempotencyRepositoryOption customises the repository.
type IdempotencyRepositoryOption func(*IdempotencyRepository)

// WithIdempotencyClock injects a custom clock primarily for tests.
func WithIdempotencyClock(clock func() time.Time) IdempotencyRepositoryOption {
	return func(r *IdempotencyRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewIdempotencyRepository constructs a Firestore-backed idempotency repository.
func NewIdempotencyRepository(provider *pfirestore.Provider, opts ...IdempotencyRepositoryOption) (*IdempotencyRepository, error) {
	if provider == nil {
		return nil, errors.New("idempotency repository requires firestore provider")
	}
	repo := &IdempotencyRepository{
		provider: provider,
		keys:     pfirestore.NewBaseRepository[requestKeyDocument](provider, requestKeysCollection, nil, nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Remember associates the request key with quoteID. When the key is already
// held by an unexpired record, the stored quote ID wins and created is false.
// Expired records are claimed by the caller as if the key were fresh.
func (r *IdempotencyRepository) Remember(ctx context.Context, key string, quoteID string, ttl time.Duration) (string, bool, error) {
	if r == nil || r.provider == nil {
		return "", false, errors.New("idempotency repository not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, errors.New("idempotency repository: request key is required")
	}
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return "", false, errors.New("idempotency repository: quote id is required")
	}
	if ttl <= 0 {
		ttl = defaultRequestKeyTTL
	}

	now := r.now().UTC()
	var (
		storedID string
		created  bool
	)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.keys.DocumentRef(ctx, key)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			record := requestKeyDocument{
				QuoteID:   quoteID,
				CreatedAt: now,
				ExpiresAt: now.Add(ttl),
			}
			if err := tx.Create(ref, record); err != nil {
				return err
			}
			storedID = quoteID
			created = true
			return nil
		}

		var record requestKeyDocument
		if err := snapshot.DataTo(&record); err != nil {
			return err
		}

		if !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt) {
			record = requestKeyDocument{
				QuoteID:   quoteID,
				CreatedAt: now,
				ExpiresAt: now.Add(ttl),
			}
			if err := tx.Set(ref, record); err != nil {
				return err
			}
			storedID = quoteID
			created = true
			return nil
		}

		storedID = record.QuoteID
		created = false
		return nil
	})
	if err != nil {
		return "", false, pfirestore.WrapError("quoteRequestKeys.remember", err)
	}
	return storedID, created, nil
}

// Forget deletes the request key so a retried create can reserve it again.
// Deleting an absent key succeeds.
func (r *IdempotencyRepository) Forget(ctx context.Context, key string) error {
	if r == nil || r.provider == nil {
		return errors.New("idempotency repository not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("idempotency repository: request key is required")
	}
	return r.keys.Delete(ctx, key)
}
