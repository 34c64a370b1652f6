package httpx

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterSharedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	limiter := NewRedisRateLimiterWithClient(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer limiter.Close()

	key := "/services/{id}/{transition}|ip:10.0.0.1|svc-1|restart"
	for i := 1; i <= 2; i++ {
		if d := limiter.Allow(key, 2, time.Minute); !d.allowed || d.count != i {
			t.Fatalf("request %d: unexpected decision %+v", i, d)
		}
	}
	denied := limiter.Allow(key, 2, time.Minute)
	if denied.allowed || denied.count != 3 {
		t.Fatalf("expected third request to be denied, got %+v", denied)
	}
	if ttl := mr.TTL(redisRatePrefix + key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected window expiry on key, got %s", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if d := limiter.Allow(key, 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("expected a fresh window, got %+v", d)
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	limiter := NewRedisRateLimiterWithClient(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mr.Close()
	if d := limiter.Allow("k", 1, time.Minute); !d.allowed {
		t.Fatalf("expected requests to pass while redis is down, got %+v", d)
	}
}
