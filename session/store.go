package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound means the session does not exist or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrReplayed means a superseded refresh token was presented. The whole
	// family has already been revoked by the time this is returned.
	ErrReplayed = errors.New("refresh token replayed")
	// ErrStoreUnavailable wraps Redis failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

const (
	rotateStatusNotFound = "not_found"
	rotateStatusExpired  = "expired"
	rotateStatusReplayed = "replayed"
	rotateStatusRotated  = "rotated"
)

// Store persists sessions and their user/family indexes in Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store]. prefix namespaces every key.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ac"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) sessionKey(sessionID string) string { return s.prefix + ":s:" + sessionID }
func (s *Store) userKey(userID string) string       { return s.prefix + ":u:" + userID }
func (s *Store) familyKey(familyID string) string   { return s.prefix + ":f:" + familyID }
func (s *Store) tombKey(familyID string) string     { return s.prefix + ":ft:" + familyID }
func (s *Store) deviceKey(userID string) string     { return s.prefix + ":d:" + userID }

// rotateScript is the compare-and-rotate step of the refresh chain. The
// presented hash is compared against the stored one inside the store, so
// two concurrent rotations can never both succeed and a stale token can
// never rotate. A hash mismatch on a live session is replay: every session
// in the family is deleted and the family is tombstoned for the remaining
// session lifetime.
//
// KEYS[1] session hash key. ARGV: sessionID, providedHash, nextHash,
// nextCSRF, nowUnix, ttlMillis, sessionPrefix, userPrefix, familyPrefix,
// tombstonePrefix, tombstoneTTLMillis.
var rotateScript = redis.NewScript(`
local skey = KEYS[1]
local sid = ARGV[1]
local now = tonumber(ARGV[5])
local ttl_ms = tonumber(ARGV[6])

local data = redis.call("HGETALL", skey)
if #data == 0 then
  return {"not_found"}
end
local rec = {}
for i = 1, #data, 2 do
  rec[data[i]] = data[i + 1]
end

local user_key = ARGV[8] .. rec["user_id"]
local family_key = ARGV[9] .. rec["family_id"]
local tomb_key = ARGV[10] .. rec["family_id"]

if tonumber(rec["expires_at"]) <= now then
  redis.call("DEL", skey)
  redis.call("SREM", user_key, sid)
  redis.call("SREM", family_key, sid)
  return {"expired"}
end

if redis.call("EXISTS", tomb_key) == 1 or rec["refresh_hash"] ~= ARGV[2] then
  local members = redis.call("SMEMBERS", family_key)
  for i = 1, #members do
    redis.call("DEL", ARGV[7] .. members[i])
    redis.call("SREM", user_key, members[i])
  end
  redis.call("DEL", family_key)
  redis.call("SET", tomb_key, "1", "PX", tonumber(ARGV[11]))
  return {"replayed"}
end

local new_expires = now + math.floor(ttl_ms / 1000)
redis.call("HSET", skey, "refresh_hash", ARGV[3], "csrf", ARGV[4], "expires_at", tostring(new_expires))
redis.call("PEXPIRE", skey, ttl_ms)
return {"rotated", rec["user_id"], rec["family_id"], rec["device"], rec["role"], rec["created_at"], tostring(new_expires)}
`)

// deleteScript removes one session and its index entries in a single step
// so a crash between deletes cannot leave a dangling current token.
var deleteScript = redis.NewScript(`
local skey = KEYS[1]
local sid = ARGV[1]

local data = redis.call("HGETALL", skey)
if #data == 0 then
  return 0
end
local rec = {}
for i = 1, #data, 2 do
  rec[data[i]] = data[i + 1]
end

redis.call("DEL", skey)
redis.call("SREM", ARGV[2] .. rec["user_id"], sid)
redis.call("SREM", ARGV[3] .. rec["family_id"], sid)
return 1
`)

// Save persists a new or reissued session with the given lifetime.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, s.sessionKey(sess.SessionID), map[string]interface{}{
		"user_id":      sess.UserID,
		"family_id":    sess.FamilyID,
		"device":       sess.DeviceFingerprint,
		"role":         sess.Role,
		"refresh_hash": hex.EncodeToString(sess.RefreshHash[:]),
		"csrf":         sess.CSRFToken,
		"created_at":   sess.CreatedAt,
		"expires_at":   sess.ExpiresAt,
	})
	pipe.PExpire(ctx, s.sessionKey(sess.SessionID), ttl)
	pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
	pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
	pipe.SAdd(ctx, s.familyKey(sess.FamilyID), sess.SessionID)
	pipe.Expire(ctx, s.familyKey(sess.FamilyID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get loads a session snapshot. Expired records report [ErrNotFound].
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	sess, err := sessionFromFields(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt <= time.Now().Unix() {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Rotate advances the refresh chain: the presented hash must match the
// current one, in which case the successor hash and CSRF token are swapped
// in and the lifetime renewed. A mismatch revokes the entire family and
// returns [ErrReplayed].
func (s *Store) Rotate(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
	nextCSRF string,
	ttl time.Duration,
) (*Session, error) {
	raw, err := rotateScript.Run(
		ctx,
		s.redis,
		[]string{s.sessionKey(sessionID)},
		sessionID,
		hex.EncodeToString(providedHash[:]),
		hex.EncodeToString(nextHash[:]),
		nextCSRF,
		time.Now().Unix(),
		ttl.Milliseconds(),
		s.prefix+":s:",
		s.prefix+":u:",
		s.prefix+":f:",
		s.prefix+":ft:",
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty script reply", ErrStoreUnavailable)
	}

	status, _ := raw[0].(string)
	switch status {
	case rotateStatusRotated:
		if len(raw) != 7 {
			return nil, fmt.Errorf("%w: malformed script reply", ErrStoreUnavailable)
		}
		sess := &Session{
			SessionID:         sessionID,
			UserID:            stringAt(raw, 1),
			FamilyID:          stringAt(raw, 2),
			DeviceFingerprint: stringAt(raw, 3),
			Role:              stringAt(raw, 4),
			RefreshHash:       nextHash,
			CSRFToken:         nextCSRF,
		}
		sess.CreatedAt, _ = strconv.ParseInt(stringAt(raw, 5), 10, 64)
		sess.ExpiresAt, _ = strconv.ParseInt(stringAt(raw, 6), 10, 64)
		return sess, nil
	case rotateStatusReplayed:
		return nil, ErrReplayed
	case rotateStatusNotFound, rotateStatusExpired:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: unknown rotate status %q", ErrStoreUnavailable, status)
	}
}

// Delete revokes one session. Deleting an absent session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	err := deleteScript.Run(
		ctx,
		s.redis,
		[]string{s.sessionKey(sessionID)},
		sessionID,
		s.prefix+":u:",
		s.prefix+":f:",
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAllForUser revokes every session of one user (logout-everywhere,
// password change). Returns the number of revoked sessions.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	members, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	revoked := 0
	for _, sid := range members {
		if err := s.Delete(ctx, sid); err != nil {
			return revoked, err
		}
		revoked++
	}

	if err := s.redis.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return revoked, nil
}

// RecordDevice marks a device fingerprint as seen for a user and reports
// whether this is its first appearance. Only a hash of the fingerprint is
// stored. The set expires ttl after the most recent login, so a
// long-dormant device counts as new again.
func (s *Store) RecordDevice(ctx context.Context, userID, fingerprint string, ttl time.Duration) (bool, error) {
	sum := sha256.Sum256([]byte(fingerprint))
	member := hex.EncodeToString(sum[:])

	pipe := s.redis.TxPipeline()
	added := pipe.SAdd(ctx, s.deviceKey(userID), member)
	pipe.Expire(ctx, s.deviceKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return added.Val() == 1, nil
}

// IsFamilyRevoked reports whether a family tombstone is present.
func (s *Store) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.tombKey(familyID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func sessionFromFields(sessionID string, fields map[string]string) (*Session, error) {
	hashHex, ok := fields["refresh_hash"]
	if !ok {
		return nil, fmt.Errorf("%w: missing refresh hash", ErrStoreUnavailable)
	}
	hashRaw, err := hex.DecodeString(hashHex)
	if err != nil || len(hashRaw) != 32 {
		return nil, fmt.Errorf("%w: corrupt refresh hash", ErrStoreUnavailable)
	}

	sess := &Session{
		SessionID:         sessionID,
		UserID:            fields["user_id"],
		FamilyID:          fields["family_id"],
		DeviceFingerprint: fields["device"],
		Role:              fields["role"],
		CSRFToken:         fields["csrf"],
	}
	copy(sess.RefreshHash[:], hashRaw)
	sess.CreatedAt, _ = strconv.ParseInt(fields["created_at"], 10, 64)
	sess.ExpiresAt, _ = strconv.ParseInt(fields["expires_at"], 10, 64)
	return sess, nil
}

func stringAt(raw []interface{}, i int) string {
	v, _ := raw[i].(string)
	return v
}
