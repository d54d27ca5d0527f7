//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/finwise/authcore/session"
)

// Two concurrent rotations presenting the same hash can never both succeed:
// the Lua script rotates for exactly one caller, and every other caller
// observes either the replay (family revoked) or the revoked session.
func TestRefreshRaceSingleWinner(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newIntegrationStore(t)
	defer cleanup()

	current := hashByte(1)
	sess := makeSession("u1", "sid-race", "fam-race", current)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		next := hashByte(byte(i + 2))
		go func(nextHash [32]byte) {
			defer wg.Done()
			<-start
			_, err := store.Rotate(ctx, "sid-race", current, nextHash, "csrf-next", time.Hour)
			results <- err
		}(next)
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, session.ErrReplayed), errors.Is(err, session.ErrNotFound):
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}

	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}
