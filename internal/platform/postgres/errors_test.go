package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapErrorClassifiesSQLState(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, notFound: true},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, conflict: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, conflict: true},
		{name: "unique", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), conflict: true},
		{name: "shutdown", err: &pgconn.PgError{Code: "57P01"}, unavailable: true},
		{name: "syntax", err: &pgconn.PgError{Code: "42601"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var repoErr *Error
			if !errors.As(WrapError("op", tc.err), &repoErr) {
				t.Fatalf("expected *Error")
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification %+v", repoErr)
			}
		})
	}
}

func TestWrapErrorPassThrough(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
	if err := WrapError("op", context.Canceled); err != context.Canceled {
		t.Fatalf("expected context.Canceled unchanged, got %v", err)
	}
	nf := NotFound("orders.find", "order %s", "x")
	if WrapError("other", nf) != nf {
		t.Fatalf("expected repository error unchanged")
	}
}
