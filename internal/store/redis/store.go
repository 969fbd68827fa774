// Package redis implements the session and cache store on Redis.
//
// Three key families live here: `session:{call_sid}` holds live call state,
// `customer:{phone}` holds the cached customer snapshot, and `vin:{vin}`
// holds decoded VIN results. Session updates go through a Lua script so
// concurrent patches from the media and turn goroutines never lose writes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driveline-ai/driveline/internal/config"
	"github.com/driveline-ai/driveline/internal/domain"
)

const (
	// opTimeout bounds every single Redis round trip. A call must never
	// stall on the store.
	opTimeout = 2 * time.Second

	// SessionTTL is the hard lifetime cap of a session key. Update patches
	// preserve the remaining TTL but never extend it past this.
	SessionTTL = time.Hour

	// customerTTL keeps cached customer snapshots short-lived; every write
	// that affects the customer invalidates the key anyway.
	customerTTL = 5 * time.Minute

	// vinTTL matches the stability of VIN decode data, which never changes
	// for a given vehicle.
	vinTTL = 7 * 24 * time.Hour
)

// ErrNotFound is returned when a requested session key does not exist or has
// expired.
var ErrNotFound = errors.New("redis: session not found")

// updateScript merges a JSON patch into the stored session document
// atomically. It sets last_updated and preserves the key's remaining TTL,
// capped at the session lifetime; a key that somehow lost its TTL gets the
// full lifetime again rather than becoming immortal.
var updateScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local doc = cjson.decode(raw)
local patch = cjson.decode(ARGV[1])
for k, v in pairs(patch) do
  doc[k] = v
end
doc['last_updated'] = ARGV[2]
local ttl = redis.call('PTTL', KEYS[1])
local cap = tonumber(ARGV[3])
if ttl <= 0 or ttl > cap then
  ttl = cap
end
redis.call('SET', KEYS[1], cjson.encode(doc), 'PX', ttl)
return 1
`)

// Store is the Redis-backed session and cache store. Safe for concurrent use.
type Store struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection with a ping. The store
// refuses to start against an unreachable Redis; sessions cannot be tracked
// without it.
func New(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	slog.Info("connected to redis", "addr", opts.Addr, "pool_size", opts.PoolSize)
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client. Used by tests running against
// miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func sessionKey(sid string) string    { return "session:" + sid }
func customerKey(phone string) string { return "customer:" + phone }
func vinKey(vin string) string        { return "vin:" + vin }

// SetSession writes the full session document with the full lifetime TTL.
// The record is keyed by the call SID; every later patch must use the same
// identifier. Called once at call setup; everything after goes through
// UpdateSession.
func (s *Store) SetSession(ctx context.Context, sess *domain.Session) error {
	if sess.CallSID == "" {
		return errors.New("redis: session without call sid")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redis: marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.CallSID), data, SessionTTL).Err(); err != nil {
		return fmt.Errorf("redis: set session %s: %w", sess.CallSID, err)
	}
	return nil
}

// GetSession loads the session document for sid. Returns ErrNotFound for a
// missing or expired key.
func (s *Store) GetSession(ctx context.Context, sid string) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, sessionKey(sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get session %s: %w", sid, err)
	}

	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("redis: unmarshal session %s: %w", sid, err)
	}
	return &sess, nil
}

// UpdateSession merges patch into the stored session document atomically.
// Field names in patch are the session's JSON keys. Returns ErrNotFound when
// the session has already expired.
func (s *Store) UpdateSession(ctx context.Context, sid string, patch map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	encoded, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("redis: marshal patch: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := updateScript.Run(ctx, s.client,
		[]string{sessionKey(sid)},
		string(encoded), now, SessionTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: update session %s: %w", sid, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes the session key. Deleting a missing key is not an
// error.
func (s *Store) DeleteSession(ctx context.Context, sid string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, sessionKey(sid)).Err(); err != nil {
		return fmt.Errorf("redis: delete session %s: %w", sid, err)
	}
	return nil
}

// CacheCustomer stores a customer snapshot under the caller's phone number.
func (s *Store) CacheCustomer(ctx context.Context, phone string, snap *domain.CustomerSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, customerKey(phone), data, customerTTL).Err(); err != nil {
		return fmt.Errorf("redis: cache customer: %w", err)
	}
	return nil
}

// GetCachedCustomer loads the snapshot for phone. The boolean reports a hit;
// a miss is not an error.
func (s *Store) GetCachedCustomer(ctx context.Context, phone string) (*domain.CustomerSnapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, customerKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get cached customer: %w", err)
	}

	var snap domain.CustomerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("redis: unmarshal snapshot: %w", err)
	}
	return &snap, true, nil
}

// InvalidateCustomer drops the cached snapshot after any write that affects
// the customer's record, vehicles, or appointments.
func (s *Store) InvalidateCustomer(ctx context.Context, phone string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, customerKey(phone)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate customer: %w", err)
	}
	return nil
}

// CacheVIN stores a decoded VIN result.
func (s *Store) CacheVIN(ctx context.Context, vin string, decoded json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, vinKey(vin), []byte(decoded), vinTTL).Err(); err != nil {
		return fmt.Errorf("redis: cache vin: %w", err)
	}
	return nil
}

// GetCachedVIN loads a decoded VIN result. The boolean reports a hit.
func (s *Store) GetCachedVIN(ctx context.Context, vin string) (json.RawMessage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, vinKey(vin)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get cached vin: %w", err)
	}
	return json.RawMessage(raw), true, nil
}

// Health reports whether Redis answers a ping.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
