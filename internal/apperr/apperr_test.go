package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestFromDB(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil", in: nil, want: nil},
		{name: "no rows", in: pgx.ErrNoRows, want: ErrNotFound},
		{name: "wrapped no rows", in: fmt.Errorf("getting user: %w", pgx.ErrNoRows), want: ErrNotFound},
		{name: "unique violation", in: &pgconn.PgError{Code: "23505"}, want: ErrConflict},
		{name: "invalid text representation", in: &pgconn.PgError{Code: "22P02"}, want: ErrValidation},
		{name: "other pg error", in: &pgconn.PgError{Code: "42P01"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromDB(tt.in)
			if tt.in == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if k := Kind(got); k != tt.want {
				t.Errorf("Kind(FromDB(%v)) = %v, want %v", tt.in, k, tt.want)
			}
			if !errors.Is(got, tt.in) {
				t.Errorf("original error should remain reachable")
			}
		})
	}
}

func TestKindWrapped(t *testing.T) {
	err := fmt.Errorf("%w: role with this name already exists", ErrConflict)
	if Kind(err) != ErrConflict {
		t.Errorf("expected conflict kind, got %v", Kind(err))
	}
	if Kind(errors.New("boom")) != nil {
		t.Error("plain errors have no kind")
	}
}

func TestCheckID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"3f1c6a52-9d8e-4b7a-a1f0-2c4d5e6f7a8b", false},
		{"abc", true},
		{"", true},
		{"3f1c6a52-9d8e-4b7a-a1f0", true},
		{"1; DROP TABLE users", true},
	}

	for _, tt := range tests {
		err := CheckID("getting user", tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
		if err != nil && Kind(err) != ErrNotFound {
			t.Errorf("CheckID(%q) kind = %v, want ErrNotFound", tt.id, Kind(err))
		}
	}
}
