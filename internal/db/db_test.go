package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/state"
)

// Set TAGWATCH_TEST_DATABASE_URL to run against a disposable database.
func testPool(t *testing.T) *Pool {
	t.Helper()
	dsn := os.Getenv("TAGWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TAGWATCH_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := New(ctx, &config.Config{
		DatabaseURL:    dsn,
		DBPoolMinConns: 1,
		DBPoolMaxConns: 2,
		DBPoolMaxLife:  time.Minute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPoolBackend(t *testing.T) {
	p := testPool(t)
	ctx := context.Background()
	user := "db-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		for _, k := range state.Kinds {
			_ = p.Delete(ctx, user, k)
		}
	})

	if err := p.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	data, err := p.Get(ctx, user, state.KindCooldowns)
	if err != nil || data != nil {
		t.Fatalf("expected (nil, nil), got (%q, %v)", data, err)
	}
	if err := p.Put(ctx, user, state.KindCooldowns, []byte(`{"d::battery_low": 1.5}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := p.Put(ctx, user, state.KindCooldowns, []byte(`{"d::battery_low": 2.5}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	data, err = p.Get(ctx, user, state.KindCooldowns)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"d::battery_low": 2.5}` {
		t.Fatalf("unexpected document %q", data)
	}

	users, err := p.Users(ctx)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	found := false
	for _, u := range users {
		found = found || u == user
	}
	if !found {
		t.Fatalf("expected %q in %v", user, users)
	}
}
