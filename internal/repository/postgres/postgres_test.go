package postgres

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/repository"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", pgx.ErrNoRows, repository.ErrNotFound},
		{"foreign key", &pgconn.PgError{Code: "23503"}, repository.ErrNotFound},
		{"unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), repository.ErrConflict},
		{"check", &pgconn.PgError{Code: "23514"}, repository.ErrInvalidArgument},
		{"bad text", &pgconn.PgError{Code: "22P02"}, repository.ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapError(tc.in); !errors.Is(got, tc.want) {
				t.Fatalf("mapError(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	other := errors.New("connection reset")
	if got := mapError(other); got != other {
		t.Fatalf("unexpected passthrough %v", got)
	}
}

func TestEncodeSettings(t *testing.T) {
	raw, err := encodeSettings(nil)
	if err != nil || string(raw) != "{}" {
		t.Fatalf("expected empty object, got %q (%v)", raw, err)
	}
	raw, err = encodeSettings(map[string]any{"replicas": 2})
	if err != nil || string(raw) != `{"replicas":2}` {
		t.Fatalf("unexpected encoding %q (%v)", raw, err)
	}
	if _, err := encodeSettings(map[string]any{"bad": make(chan int)}); err == nil {
		t.Fatal("expected error for unencodable value")
	}
}

func TestEmptyToNil(t *testing.T) {
	if emptyToNil("  ") != nil {
		t.Fatal("expected nil for blank")
	}
	if v := emptyToNil(" ns "); v == nil || *v != "ns" {
		t.Fatalf("unexpected value %v", v)
	}
}

func TestKeepNamespace(t *testing.T) {
	stored := "eu-west"

	got, err := keepNamespace("region", "eu", "", &stored)
	if err != nil || got != "eu-west" {
		t.Fatalf("expected stored namespace to be kept, got %q err=%v", got, err)
	}
	got, err = keepNamespace("region", "eu", " eu-west ", &stored)
	if err != nil || got != "eu-west" {
		t.Fatalf("expected matching namespace to pass, got %q err=%v", got, err)
	}
	if _, err := keepNamespace("region", "eu", "eu-central", &stored); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict when moving a region, got %v", err)
	}
	if _, err := keepNamespace("org", "acme", "acme-ns", nil); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict when adding a namespace to an existing org, got %v", err)
	}
	got, err = keepNamespace("org", "acme", "", nil)
	if err != nil || got != "" {
		t.Fatalf("expected empty namespace, got %q err=%v", got, err)
	}
}

func TestMigrationStatusCheckMatchesDomain(t *testing.T) {
	raw, err := os.ReadFile("../../../db/migrations/00001_services.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	check := regexp.MustCompile(`(?s)services_status_check CHECK \(status IN \((.*?)\)\)`).FindSubmatch(raw)
	if check == nil {
		t.Fatalf("services_status_check not found")
	}
	var inSchema []string
	for _, m := range regexp.MustCompile(`'([A-Z_]+)'`).FindAllSubmatch(check[1], -1) {
		inSchema = append(inSchema, string(m[1]))
	}
	var declared []string
	for _, status := range domain.AllStatuses() {
		declared = append(declared, string(status))
	}
	sort.Strings(inSchema)
	sort.Strings(declared)
	if fmt.Sprint(inSchema) != fmt.Sprint(declared) {
		t.Fatalf("schema statuses %v do not match declared statuses %v", inSchema, declared)
	}
}
