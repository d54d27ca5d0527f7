package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockoutUnavailable wraps Redis failures on the lockout path.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// State is the derived lockout state for one identifier.
type State uint8

const (
	// StateClear means no recorded failures.
	StateClear State = iota
	// StateWarning means at least one failure below the threshold.
	StateWarning
	// StateLocked means login is gated until the cooldown elapses.
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateWarning:
		return "warning"
	case StateLocked:
		return "locked"
	default:
		return "clear"
	}
}

// Config tunes the lockout machine.
type Config struct {
	// Threshold is the failure count that trips the lock.
	Threshold int
	// Window bounds how long failures keep counting without new activity.
	Window time.Duration
	// Cooldown is how long a tripped lock holds.
	Cooldown time.Duration
}

// Status is a point-in-time view of one identifier's lockout record.
type Status struct {
	State    State
	Failures int64
	// RetryAfter is the remaining cooldown. Zero unless State is StateLocked.
	RetryAfter time.Duration
}

// Machine tracks failures and lock state in Redis. All cross-request state
// lives in the store; Machine itself is stateless and safe to share.
type Machine struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a lockout [Machine].
func New(redisClient redis.UniversalClient, cfg Config) *Machine {
	return &Machine{redis: redisClient, config: cfg}
}

func failKey(identifier string) string { return "lo:fail:" + identifier }
func lockKey(identifier string) string { return "lo:lock:" + identifier }

// recordFailureScript is the single atomic read-modify-write of the
// machine: it refuses to count while locked, increments the failure
// counter, arms the counting window on the first failure, and trips the
// lock the moment the counter reaches the threshold. The counter is folded
// into the lock key so an expired lock lazily reads back as Clear.
//
// Returns {failures, retry_after_ms, locked(0|1)}.
var recordFailureScript = redis.NewScript(`
local lock_ttl = redis.call("PTTL", KEYS[2])
if lock_ttl > 0 then
  local held = tonumber(redis.call("GET", KEYS[2]) or "0")
  return {held, lock_ttl, 1}
end

local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[2]))
end
if count >= tonumber(ARGV[1]) then
  redis.call("SET", KEYS[2], count, "PX", tonumber(ARGV[3]))
  redis.call("DEL", KEYS[1])
  return {count, tonumber(ARGV[3]), 1}
end
return {count, 0, 0}
`)

// RecordFailure counts one failed authentication attempt and reports the
// resulting state. The transition to StateLocked happens inside the store,
// never in a separate read-then-write.
func (m *Machine) RecordFailure(ctx context.Context, identifier string) (Status, error) {
	raw, err := recordFailureScript.Run(
		ctx,
		m.redis,
		[]string{failKey(identifier), lockKey(identifier)},
		m.config.Threshold,
		m.config.Window.Milliseconds(),
		m.config.Cooldown.Milliseconds(),
	).Slice()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	return statusFromScript(raw)
}

// Check derives the current state without mutating it. Locked identifiers
// must be rejected by the caller before any credential comparison runs.
func (m *Machine) Check(ctx context.Context, identifier string) (Status, error) {
	lockTTL, err := m.redis.PTTL(ctx, lockKey(identifier)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if lockTTL > 0 {
		failures, err := m.redis.Get(ctx, lockKey(identifier)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		return Status{State: StateLocked, Failures: failures, RetryAfter: lockTTL}, nil
	}

	failures, err := m.redis.Get(ctx, failKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{State: StateClear}, nil
		}
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if failures <= 0 {
		return Status{State: StateClear}, nil
	}
	return Status{State: StateWarning, Failures: failures}, nil
}

// Reset returns the identifier to Clear after a successful authentication
// or a manual unlock.
func (m *Machine) Reset(ctx context.Context, identifier string) error {
	if err := m.redis.Del(ctx, failKey(identifier), lockKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func statusFromScript(raw []interface{}) (Status, error) {
	if len(raw) != 3 {
		return Status{}, fmt.Errorf("%w: malformed script reply", ErrLockoutUnavailable)
	}

	failures, ok1 := raw[0].(int64)
	retryMs, ok2 := raw[1].(int64)
	locked, ok3 := raw[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return Status{}, fmt.Errorf("%w: malformed script reply", ErrLockoutUnavailable)
	}

	st := Status{Failures: failures}
	switch {
	case locked == 1:
		st.State = StateLocked
		st.RetryAfter = time.Duration(retryMs) * time.Millisecond
	case failures > 0:
		st.State = StateWarning
	default:
		st.State = StateClear
	}
	return st, nil
}
