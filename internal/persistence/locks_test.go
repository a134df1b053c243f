package persistence_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/example/gym-backoffice/internal/persistence"
)

func TestNormalizeLockKeys(t *testing.T) {
	t.Parallel()

	got := persistence.NormalizeLockKeys([]string{"trainer:t-1", "", "client:c-1", "trainer:t-1"})
	want := []string{"client:c-1", "trainer:t-1"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestKeyedLocker(t *testing.T) {
	t.Parallel()

	t.Run("blocks a second holder until release", func(t *testing.T) {
		t.Parallel()
		locker := persistence.NewKeyedLocker()

		release, err := locker.Acquire(context.Background(), []string{"trainer:t-1"})
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}

		acquired := make(chan struct{})
		go func() {
			second, err := locker.Acquire(context.Background(), []string{"client:c-1", "trainer:t-1"})
			if err != nil {
				return
			}
			close(acquired)
			second()
		}()

		select {
		case <-acquired:
			t.Fatal("second holder acquired a held key")
		case <-time.After(20 * time.Millisecond):
		}

		release()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("second holder never acquired the key")
		}
	})

	t.Run("context cancellation releases partial locks", func(t *testing.T) {
		t.Parallel()
		locker := persistence.NewKeyedLocker()

		release, err := locker.Acquire(context.Background(), []string{"trainer:t-1"})
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := locker.Acquire(ctx, []string{"client:c-1", "trainer:t-1"}); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}

		other, err := locker.Acquire(context.Background(), []string{"client:c-1"})
		if err != nil {
			t.Fatalf("client key should be free: %v", err)
		}
		other()
		release()
	})

	t.Run("disjoint keys do not block", func(t *testing.T) {
		t.Parallel()
		locker := persistence.NewKeyedLocker()

		first, err := locker.Acquire(context.Background(), []string{"trainer:t-1"})
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		defer first()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		second, err := locker.Acquire(ctx, []string{"trainer:t-2"})
		if err != nil {
			t.Fatalf("disjoint Acquire failed: %v", err)
		}
		second()
	})
}
