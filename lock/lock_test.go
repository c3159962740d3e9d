package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-sentinel/logging"
)

func testLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "train:idle")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.TryLock(ctx, "train:idle"); !errors.Is(err, ErrLocked) {
		t.Fatalf("second TryLock err = %v, want ErrLocked", err)
	}

	other, err := l.TryLock(ctx, "train:fast")
	if err != nil {
		t.Fatalf("independent name blocked: %v", err)
	}
	defer other()

	if err := unlock(); err != nil {
		t.Fatal(err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("second unlock: %v", err)
	}

	again, err := l.TryLock(ctx, "train:idle")
	if err != nil {
		t.Fatalf("TryLock after unlock: %v", err)
	}
	again()
}

func TestLocal(t *testing.T) {
	testLocker(t, NewLocal())
}

func TestLocalExclusive(t *testing.T) {
	l := NewLocal()
	var wg sync.WaitGroup
	var winners atomic.Int32
	start := make(chan struct{})

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.TryLock(context.Background(), "mode"); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("%d goroutines acquired the lock", winners.Load())
	}
}

// Set SONIDO_TEST_REDIS=host:port to run against a live server.
func TestRedis(t *testing.T) {
	addr := os.Getenv("SONIDO_TEST_REDIS")
	if addr == "" {
		t.Skip("SONIDO_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.Prefix = "sonido:test:" + t.Name() + ":"
	cfg.TTL = time.Minute

	r, err := NewRedis(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	testLocker(t, r)
}

func TestRedisConnectError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	if _, err := NewRedis(ctx, cfg); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestKeepAliveRefreshesUntilStopped(t *testing.T) {
	stop := make(chan struct{})
	done := make(chan struct{})
	var calls atomic.Int32
	go func() {
		defer close(done)
		keepAlive(stop, time.Millisecond, func() (bool, error) {
			calls.Add(1)
			return true, nil
		}, &logging.NoOpLogger{})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("refresh called %d times", calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
	close(stop)
	<-done
}

func TestKeepAliveStopsWhenLost(t *testing.T) {
	done := make(chan struct{})
	var calls atomic.Int32
	go func() {
		defer close(done)
		keepAlive(make(chan struct{}), time.Millisecond, func() (bool, error) {
			if calls.Add(1) == 1 {
				return false, errors.New("timeout")
			}
			return false, nil
		}, &logging.NoOpLogger{})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("keepAlive kept running after the lock was lost")
	}
	if calls.Load() != 2 {
		t.Fatalf("refresh called %d times, want 2", calls.Load())
	}
}

// A lock held longer than its TTL must stay held.
func TestRedisOutlivesTTL(t *testing.T) {
	addr := os.Getenv("SONIDO_TEST_REDIS")
	if addr == "" {
		t.Skip("SONIDO_TEST_REDIS not set")
	}
	ctx := context.Background()

	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.Prefix = "sonido:test:" + t.Name() + ":"
	cfg.TTL = 300 * time.Millisecond

	r, err := NewRedis(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	unlock, err := r.TryLock(ctx, "train:idle")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(3 * cfg.TTL)
	if _, err := r.TryLock(ctx, "train:idle"); !errors.Is(err, ErrLocked) {
		t.Fatalf("TryLock after TTL err = %v, want ErrLocked", err)
	}
	if err := unlock(); err != nil {
		t.Fatal(err)
	}
}
