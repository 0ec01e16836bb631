package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/repositories"
)

const (
	defaultSequenceAttempts = 5
	maxSequenceBackoff      = 200 * time.Millisecond
)

// ErrSequenceExhausted indicates every bounded reservation attempt lost to a concurrent writer.
var ErrSequenceExhausted = errors.New("order sequence: retries exhausted")

// orderSequencer reserves per-tenant order numbers inside the same store transaction that writes the
// order, retrying the whole transaction when the store reports contention.
type orderSequencer struct {
	store       repositories.OrderStore
	maxAttempts int
	backoff     func(attempt int) time.Duration
	logger      func(context.Context, string, map[string]any)
}

func newOrderSequencer(store repositories.OrderStore, maxAttempts int, logger func(context.Context, string, map[string]any)) *orderSequencer {
	if maxAttempts <= 0 {
		maxAttempts = defaultSequenceAttempts
	}
	return &orderSequencer{
		store:       store,
		maxAttempts: maxAttempts,
		backoff:     sequenceBackoff,
		logger:      logger,
	}
}

// CreateNumbered reserves the next number for tenantID, builds the order with it and inserts it. The
// reservation and insert commit together; a failed attempt leaves neither behind.
func (s *orderSequencer) CreateNumbered(ctx context.Context, tenantID string, build func(number int64) (domain.Order, error)) (domain.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var created domain.Order
		err := s.store.RunOrderTx(ctx, tenantID, func(txCtx context.Context, tx repositories.OrderTx) error {
			number, err := tx.NextOrderNumber(txCtx)
			if err != nil {
				return err
			}
			if number <= 0 {
				return repositories.NewSequenceError("order sequence", repositories.SequenceErrorUnknown,
					fmt.Sprintf("store returned non-positive order number %d", number), nil)
			}
			order, err := build(number)
			if err != nil {
				return err
			}
			if err := tx.InsertOrder(txCtx, order); err != nil {
				return err
			}
			created = order
			return nil
		})
		if err == nil {
			return created, nil
		}
		if !isSequenceContention(err) {
			return domain.Order{}, err
		}

		lastErr = err
		s.logger(ctx, "order.sequence.retry", map[string]any{
			"tenantId": tenantID,
			"attempt":  attempt,
			"error":    err.Error(),
		})
		if attempt == s.maxAttempts {
			break
		}
		if err := sleepContext(ctx, s.backoff(attempt)); err != nil {
			return domain.Order{}, err
		}
	}

	seqErr := repositories.NewSequenceError("order sequence", repositories.SequenceErrorExhausted,
		fmt.Sprintf("no order number reserved after %d attempts", s.maxAttempts), lastErr)
	seqErr.TenantID = tenantID
	return domain.Order{}, fmt.Errorf("%w: %w", ErrSequenceExhausted, seqErr)
}

func isSequenceContention(err error) bool {
	var seqErr *repositories.SequenceError
	if errors.As(err, &seqErr) {
		return seqErr.Code == repositories.SequenceErrorContention
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func sequenceBackoff(attempt int) time.Duration {
	delay := time.Duration(attempt*attempt) * 10 * time.Millisecond
	if delay > maxSequenceBackoff {
		return maxSequenceBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
