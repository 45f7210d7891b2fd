package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func openRedisForIntegrationTest(t *testing.T) *goredis.Client {
	t.Helper()

	addr := os.Getenv("SHOP_REDIS_TEST_ADDR")
	if addr == "" {
		addr = os.Getenv("SHOP_REDIS_ADDR")
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis is not available for integration tests: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisIdempotencyRepository_CreateAndReplay(t *testing.T) {
	repo := NewIdempotencyRepository(openRedisForIntegrationTest(t))
	ctx := context.Background()
	key := "it-" + uuid.NewString()

	record, err := repo.CreateProcessing(ctx, key, "hash-1", time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("create processing: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing, got %s", record.Status)
	}

	existing, err := repo.CreateProcessing(ctx, key, "hash-1", time.Now().UTC().Add(time.Minute))
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.Key != key {
		t.Fatalf("expected existing record, got %+v", existing)
	}

	if _, err := repo.CreateProcessing(ctx, key, "hash-2", time.Now().UTC().Add(time.Minute)); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}

	if err := repo.MarkDone(ctx, key, []byte(`{"id":"order-1"}`), 201); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	done, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != domain.IdempotencyStatusDone || done.HTTPStatus != 201 {
		t.Fatalf("unexpected record: %+v", done)
	}
	if string(done.ResponseBody) != `{"id":"order-1"}` {
		t.Fatalf("unexpected response body: %s", done.ResponseBody)
	}
}

func TestRedisIdempotencyRepository_Validation(t *testing.T) {
	repo := NewIdempotencyRepository(openRedisForIntegrationTest(t))
	ctx := context.Background()

	if _, err := repo.CreateProcessing(ctx, " ", "hash", time.Time{}); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "key", " ", time.Time{}); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
	if _, err := repo.Get(ctx, "missing-"+uuid.NewString()); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestRedisIdempotencyRepository_TTLExpiry(t *testing.T) {
	repo := NewIdempotencyRepository(openRedisForIntegrationTest(t))
	ctx := context.Background()
	key := "ttl-" + uuid.NewString()

	if _, err := repo.CreateProcessing(ctx, key, "hash", time.Now().UTC().Add(time.Second)); err != nil {
		t.Fatalf("create processing: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := repo.Get(ctx, key); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected key to expire, got %v", err)
	}
}
