package testutil

import (
	"testing"
	"time"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
)

const (
	testDBDefaultUser     = "agentops"
	testDBDefaultPassword = "agentops"
	testDBDefaultName     = "agentops"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("defaults to local test database port 55432", func(t *testing.T) {
		for _, k := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
			t.Setenv(k, "")
		}
		cfg := DefaultTestDBConfig()

		if cfg.Host != "localhost" {
			t.Errorf("expected Host=localhost, got %s", cfg.Host)
		}
		if cfg.Port != "55432" {
			t.Errorf("expected Port=55432 (test DB), got %s", cfg.Port)
		}
		if cfg.User != testDBDefaultUser || cfg.Password != testDBDefaultPassword || cfg.DBName != testDBDefaultName {
			t.Errorf("unexpected credentials: %+v", cfg)
		}
	})

	t.Run("respects TEST_DB_PORT environment variable", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")

		cfg := DefaultTestDBConfig()
		if cfg.Host != "postgres" {
			t.Errorf("expected Host=postgres, got %s", cfg.Host)
		}
		if cfg.Port != "5432" {
			t.Errorf("expected Port=5432 (CI DB), got %s", cfg.Port)
		}
	})
}

func TestDSN_EscapesCredentials(t *testing.T) {
	t.Setenv("DB_SSL_MODE", "")
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss/word", DBName: "agentops"}
	want := "postgres://u:p%40ss%2Fword@db:5432/agentops?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %s, want %s", got, want)
	}
}

func TestClock(t *testing.T) {
	c := NewClock(TestTime())
	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(TestTime().Add(90 * time.Second)) {
		t.Errorf("Now() = %v", got)
	}
	c.Set(TestTime())
	if !c.Now().Equal(TestTime()) {
		t.Errorf("Set did not move the clock")
	}
}

func TestSessionBuilder(t *testing.T) {
	b := NewSession().WithVerifiedFactor("f-1").WithAAL(domainauth.AAL2)
	s := b.Build()
	if !s.User.HasVerifiedFactor() || s.AAL != domainauth.AAL2 {
		t.Fatalf("unexpected session: %+v", s)
	}
	// Built sessions do not share the factor slice.
	s.User.Factors[0].ID = "changed"
	if b.Build().User.Factors[0].ID != "f-1" {
		t.Error("builder factors were mutated through a built session")
	}
}
