package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "lots")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="lots" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvListTrims(t *testing.T) {
	t.Setenv("TEST_LIST", " critical, high ,,")
	got := envList("TEST_LIST", nil)
	if len(got) != 2 || got[0] != "critical" || got[1] != "high" {
		t.Fatalf("unexpected list: %q", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("KANRI_PORT", "not-a-number")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid KANRI_PORT, got nil")
	}
	if !strings.Contains(err.Error(), "KANRI_PORT") {
		t.Fatalf("error should mention KANRI_PORT: %v", err)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("KANRI_PORT", "abc")
	t.Setenv("KANRI_AUTO_ANALYZE", "nope")
	t.Setenv("KANRI_TREND_WINDOW", "forever")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for multiple invalid vars, got nil")
	}
	for _, key := range []string{"KANRI_PORT", "KANRI_AUTO_ANALYZE", "KANRI_TREND_WINDOW"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.StorageDriver != StorageMemory {
		t.Fatalf("expected memory storage by default, got %q", cfg.StorageDriver)
	}
	if cfg.SuccessWeight != 0.1 {
		t.Fatalf("expected success weight 0.1, got %v", cfg.SuccessWeight)
	}
	if !cfg.AutoAnalyze {
		t.Fatal("expected auto analysis on by default")
	}
}

func TestValidateRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("KANRI_STORAGE", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("KANRI_STORAGE", "mongo")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestValidateSuccessWeightRange(t *testing.T) {
	t.Setenv("KANRI_SUCCESS_WEIGHT", "1.5")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for success weight above 1")
	}
}
