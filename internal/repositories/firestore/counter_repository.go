package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/saunamo/configurator-api/internal/platform/firestore"
	"github.com/saunamo/configurator-api/internal/repositories"
)

const sequenceCollection = "quoteSequences"

// sequenceDocument tracks one monotonically increasing sequence, used for
// quote numbering. Ceiling, when set, caps the sequence.
type sequenceDocument struct {
	Value     int64     `firestore:"value"`
	Step      int64     `firestore:"step"`
	Ceiling   *int64    `firestore:"ceiling,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository issues sequence numbers through Firestore transactions.
// Numbers are dense under the transaction but a quote creation that fails
// after numbering leaves a gap, which is acceptable.
type CounterRepository struct {
	provider  *pfirestore.Provider
	sequences *pfirestore.BaseRepository[sequenceDocument]
}

// NewCounterRepository builds the Firestore-backed sequence repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider:  provider,
		sequences: pfirestore.NewBaseRepository[sequenceDocument](provider, sequenceCollection, nil, nil),
	}, nil
}

// Next increments the sequence named by counterID and returns the new value.
// A missing sequence starts at step. Step values below 1 reuse the step
// stored on the document, defaulting to 1.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.sequences.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			next, err = r.seed(tx, ref, step)
			return err
		}
		if err != nil {
			return err
		}

		var doc sequenceDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("quote sequence decode %s: %w", id, err)
		}
		next, err = r.advance(tx, ref, id, doc, step)
		return err
	})
	if err != nil {
		var seqErr *repositories.CounterError
		if errors.As(err, &seqErr) {
			return 0, seqErr
		}
		return 0, pfirestore.WrapError("quoteSequences.next", err)
	}
	return next, nil
}

func (r *CounterRepository) seed(tx *firestore.Transaction, ref *firestore.DocumentRef, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	doc := sequenceDocument{
		Value:     step,
		Step:      step,
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.Create(ref, doc); err != nil {
		return 0, err
	}
	return doc.Value, nil
}

func (r *CounterRepository) advance(tx *firestore.Transaction, ref *firestore.DocumentRef, id string, doc sequenceDocument, step int64) (int64, error) {
	if step <= 0 {
		step = doc.Step
	}
	if step <= 0 {
		step = 1
	}

	value := doc.Value + step
	if doc.Ceiling != nil && value > *doc.Ceiling {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted,
			fmt.Sprintf("sequence %s exceeded ceiling %d", id, *doc.Ceiling), nil)
	}

	doc.Value = value
	doc.Step = step
	doc.UpdatedAt = time.Now().UTC()
	if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
		return 0, err
	}
	return value, nil
}
