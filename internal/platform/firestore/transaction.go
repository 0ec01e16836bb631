package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is a transaction body. Firestore reruns it when the transaction is contended, so it must
// not keep state across calls.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption adjusts a single RunTransaction call.
type TxOption func(*txPolicy)

type txPolicy struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts bounds the number of runs of a contended transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(p *txPolicy) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

// WithTxTimeout caps the transaction including retries. A tighter caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(p *txPolicy) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

var (
	errNilClient = errors.New("firestore: nil client")
	errNilTxFunc = errors.New("firestore: nil transaction body")
)

// RunTransaction runs fn in a read-write transaction on client. Without options it allows five
// attempts within fifteen seconds. The result goes through WrapError.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	const op = "transaction"
	if client == nil {
		return WrapError(op, errNilClient)
	}
	if fn == nil {
		return WrapError(op, errNilTxFunc)
	}

	policy := txPolicy{attempts: 5, timeout: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&policy)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > policy.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.timeout)
		defer cancel()
	}
	return WrapError(op, client.RunTransaction(ctx, fn, firestore.MaxAttempts(policy.attempts)))
}
