package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := NewRedisWithClient(client, ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	locker.poll = 10 * time.Millisecond
	return locker, mr
}

func TestRedisSerializesSameKey(t *testing.T) {
	locker, _ := newTestRedis(t, time.Minute)
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			release, err := locker.Acquire(ctx, "service:svc-1")
			if err != nil {
				t.Errorf("Acquire returned error: %v", err)
				return
			}
			defer release()
			now := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if now <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxActive)
	}
}

func TestRedisAcquireHonoursContext(t *testing.T) {
	locker, mr := newTestRedis(t, time.Minute)
	release, err := locker.Acquire(context.Background(), "service:svc-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "service:svc-1"); !errors.Is(err, ErrNotAcquired) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrNotAcquired wrapping deadline, got %v", err)
	}

	release()
	release()
	if mr.Exists("usop:lock:service:svc-1") {
		t.Fatalf("expected key to be deleted on release")
	}
	again, err := locker.Acquire(context.Background(), "service:svc-1")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newTestRedis(t, time.Minute)
	release, err := locker.Acquire(context.Background(), "service:svc-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// the hold expired and another replica took the record.
	if err := mr.Set("usop:lock:service:svc-1", "other-replica"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	release()

	got, err := mr.Get("usop:lock:service:svc-1")
	if err != nil || got != "other-replica" {
		t.Fatalf("release removed another holder's key: value=%q err=%v", got, err)
	}
}

func TestRedisRenewsWhileHeld(t *testing.T) {
	locker, mr := newTestRedis(t, 300*time.Millisecond)
	release, err := locker.Acquire(context.Background(), "service:svc-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	mr.FastForward(200 * time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	mr.FastForward(200 * time.Millisecond)

	if !mr.Exists("usop:lock:service:svc-1") {
		t.Fatalf("hold expired while still held")
	}
}
