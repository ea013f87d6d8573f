package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRequired(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid string", "test", false},
		{"empty string", "", true},
		{"whitespace only", "   ", true},
		{"tab only", "\t", true},
		{"valid with spaces", " test ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Required("name", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Required() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrRequired) {
				t.Errorf("Required() error should wrap ErrRequired")
			}
		})
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("name", "日本語", 3); err != nil {
		t.Errorf("MaxLength() should count runes, got %v", err)
	}
	if err := MaxLength("name", "testing", 4); !errors.Is(err, ErrTooLong) {
		t.Errorf("MaxLength() error = %v, want ErrTooLong", err)
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{"simple", "cache", nil},
		{"dashes and dots", "orders-db.east_1", nil},
		{"empty", "", ErrRequired},
		{"leading digit", "1cache", ErrInvalidFormat},
		{"space", "orders db", ErrInvalidFormat},
		{"quote", `db"`, ErrInvalidFormat},
		{"too long", "a" + strings.Repeat("b", MaxNameLength), ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Name("pool.name", tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Name(%q) unexpected error: %v", tt.value, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Name(%q) error = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestOneOf(t *testing.T) {
	if err := OneOf("log.level", "warn", "debug", "info", "warn"); err != nil {
		t.Errorf("OneOf() unexpected error: %v", err)
	}
	err := OneOf("log.level", "verbose", "debug", "info")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("OneOf() error = %v, want ErrInvalidFormat", err)
	}
	if !strings.Contains(err.Error(), "debug, info") {
		t.Errorf("error should list allowed values: %v", err)
	}
}

func TestIntChecks(t *testing.T) {
	if err := IntRange("n", 5, 1, 10); err != nil {
		t.Errorf("IntRange() unexpected error: %v", err)
	}
	if err := IntRange("n", 11, 1, 10); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("IntRange() error = %v, want ErrOutOfRange", err)
	}
	if err := Positive("n", 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Positive(0) error = %v, want ErrOutOfRange", err)
	}
	if err := NonNegative("n", 0); err != nil {
		t.Errorf("NonNegative(0) unexpected error: %v", err)
	}
	if err := NonNegative("n", -1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("NonNegative(-1) error = %v, want ErrOutOfRange", err)
	}
}

func TestNonNegativeDuration(t *testing.T) {
	if err := NonNegativeDuration("d", 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := NonNegativeDuration("d", -time.Second); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("error = %v, want ErrOutOfRange", err)
	}
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"127.0.0.1:6379", false},
		{"cache.internal:6380", false},
		{"[::1]:9400", false},
		{"", true},
		{"localhost", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := HostPort("addr", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("HostPort(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseURI(t *testing.T) {
	tests := []struct {
		value   string
		wantErr error
	}{
		{"mongodb://127.0.0.1:27017", nil},
		{"mongodb+srv://cluster.example.net/rx", nil},
		{"", ErrRequired},
		{"postgres://localhost/rx", ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := DatabaseURI("database.uri", tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("DatabaseURI(%q) unexpected error: %v", tt.value, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DatabaseURI(%q) error = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestAll(t *testing.T) {
	calls := 0
	err := All(
		func() error { calls++; return nil },
		func() error { calls++; return Required("x", "") },
		func() error { calls++; return nil },
	)
	if !errors.Is(err, ErrRequired) {
		t.Errorf("All() error = %v, want ErrRequired", err)
	}
	if calls != 2 {
		t.Errorf("All() should stop at the first error, ran %d validators", calls)
	}
}

func TestErrors(t *testing.T) {
	var errs Errors
	if errs.HasErrors() {
		t.Error("empty collection should have no errors")
	}

	errs.Add(nil)
	errs.Add(Required("service.name", ""))
	errs.Add(Positive("cache.pool.max_connections", 0))

	if !errs.HasErrors() || len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if !errors.Is(errs[0], ErrRequired) {
		t.Errorf("first error = %v", errs[0])
	}

	var err error = errs
	if !errors.Is(err, ErrRequired) || !errors.Is(err, ErrOutOfRange) {
		t.Errorf("collection should unwrap to both sentinels: %v", err)
	}
	if !strings.HasPrefix(err.Error(), "multiple validation errors: ") {
		t.Errorf("unexpected message %q", err.Error())
	}

	var r *Result
	if !errors.As(err, &r) || r.Field != "service.name" {
		t.Errorf("errors.As should find the first Result, got %+v", r)
	}
}
