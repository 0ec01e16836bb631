package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/tableorder/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps entries in a top-level collection so every API instance sees the same claims.
// Document ids are digests of the scoped key, which keeps client input out of document paths.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

// FirestoreOption customises a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries for a contended key.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{client: client, collection: defaultCollection, attempts: 5}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type entryDocument struct {
	Fingerprint    string              `firestore:"fingerprint"`
	Done           bool                `firestore:"done"`
	ResponseStatus int                 `firestore:"response_status,omitempty"`
	ResponseHeader map[string][]string `firestore:"response_header,omitempty"`
	ResponseBody   []byte              `firestore:"response_body,omitempty"`
	ClaimedAt      time.Time           `firestore:"claimed_at"`
	ExpiresAt      time.Time           `firestore:"expires_at"`
}

func toDocument(e entry) entryDocument {
	return entryDocument{
		Fingerprint:    e.Fingerprint,
		Done:           e.Done,
		ResponseStatus: e.Response.Status,
		ResponseHeader: e.Response.Header,
		ResponseBody:   e.Response.Body,
		ClaimedAt:      e.ClaimedAt,
		ExpiresAt:      e.ExpiresAt,
	}
}

func (d entryDocument) entry() entry {
	return entry{
		Fingerprint: d.Fingerprint,
		Done:        d.Done,
		Response:    Response{Status: d.ResponseStatus, Header: d.ResponseHeader, Body: d.ResponseBody},
		ClaimedAt:   d.ClaimedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(digest([]byte(key)))
}

// load reads the entry inside tx; a missing document yields nil.
func load(tx *firestore.Transaction, ref *firestore.DocumentRef) (*entry, error) {
	snap, err := tx.Get(ref)
	if pfirestore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc entryDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	e := doc.entry()
	return &e, nil
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	ref := s.doc(key)
	var claim Claim
	err := pfirestore.RunTransaction(ctx, s.client, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := load(tx, ref)
		if err != nil {
			return err
		}
		var take bool
		claim, take, err = decide(current, fingerprint, now)
		if err != nil || !take {
			return err
		}
		return tx.Set(ref, toDocument(pending(fingerprint, now, ttl)))
	}, pfirestore.WithTxAttempts(s.attempts))
	if err != nil {
		return Claim{}, unwrapReused(err)
	}
	return claim, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref := s.doc(key)
	err := pfirestore.RunTransaction(ctx, s.client, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := load(tx, ref)
		if err != nil {
			return err
		}
		if current != nil && current.Fingerprint != fingerprint {
			return ErrKeyReused
		}
		e := pending(fingerprint, now, ttl)
		if current != nil {
			e.ClaimedAt = current.ClaimedAt
		}
		e.Done = true
		e.Response = Response{Status: resp.Status, Header: keepHeaders(resp.Header), Body: resp.Body}
		return tx.Set(ref, toDocument(e))
	}, pfirestore.WithTxAttempts(s.attempts))
	return unwrapReused(err)
}

func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if pfirestore.IsNotFound(err) {
		return nil
	}
	return pfirestore.WrapError("idempotency.abandon", err)
}

// Purge deletes up to limit expired entries in one batch.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	return len(docs), nil
}

// unwrapReused strips the transaction wrapping so callers can compare against ErrKeyReused directly.
func unwrapReused(err error) error {
	if errors.Is(err, ErrKeyReused) {
		return ErrKeyReused
	}
	return err
}
