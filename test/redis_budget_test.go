//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/finwise/authcore/session"
)

// tripRecorder is a go-redis Hook that records network round-trips: one
// per command, one per pipeline regardless of its command count. Command
// names are kept for failure diagnostics.
type tripRecorder struct {
	mu    sync.Mutex
	trips int
	cmds  []string
}

func (r *tripRecorder) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (r *tripRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		r.record(cmd.Name())
		return next(ctx, cmd)
	}
}

func (r *tripRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		names := make([]string, len(cmds))
		for i, cmd := range cmds {
			names[i] = cmd.Name()
		}
		r.record("pipeline(" + strings.Join(names, ",") + ")")
		return next(ctx, cmds)
	}
}

func (r *tripRecorder) record(name string) {
	r.mu.Lock()
	r.trips++
	r.cmds = append(r.cmds, name)
	r.mu.Unlock()
}

func (r *tripRecorder) reset() {
	r.mu.Lock()
	r.trips = 0
	r.cmds = nil
	r.mu.Unlock()
}

func (r *tripRecorder) report() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trips, strings.Join(r.cmds, " ")
}

// newCountedStore backs a session.Store with miniredis and a tripRecorder.
// The connection is warmed before the recorder starts so handshake
// commands never count against a budget.
func newCountedStore(t *testing.T) (*session.Store, *tripRecorder) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rec := &tripRecorder{}
	rdb.AddHook(rec)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	rec.reset()

	return session.NewStore(rdb, "it"), rec
}

// A successful rotation is one Lua script: at most two round-trips even
// when the first EVALSHA misses the script cache.
func TestRotationRedisBudget(t *testing.T) {
	store, rec := newCountedStore(t)

	ctx := context.Background()
	current := hashByte(0x01)
	next := hashByte(0x02)

	sess := makeSession("u1", "sid-budget", "fam-budget", current)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec.reset()
	if _, err := store.Rotate(ctx, "sid-budget", current, next, "csrf-next", time.Hour); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if trips, cmds := rec.report(); trips > 2 {
		t.Fatalf("rotation took %d round-trips [%s], budget is 2 (EVALSHA + SCRIPT LOAD fallback)", trips, cmds)
	}
}

// Save must stay a single pipeline so login latency does not scale with
// the number of index keys it maintains.
func TestSaveRedisBudget(t *testing.T) {
	store, rec := newCountedStore(t)

	ctx := context.Background()
	sess := makeSession("u1", "sid-save", "fam-save", hashByte(0x03))

	rec.reset()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if trips, cmds := rec.report(); trips > 1 {
		t.Fatalf("Save took %d round-trips [%s], budget is 1 pipeline", trips, cmds)
	}
}
