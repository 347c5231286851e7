package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld is returned by AcquireLock when another holder owns the lock.
var ErrLockHeld = errors.New("lock held")

// decrFloor decrements a counter but never below zero. A missing key stays missing.
var decrFloor = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// incrBy adds to a counter and gives it a TTL when it has none, so a counter
// recreated mid-window still expires with the window.
var incrBy = redis.NewScript(`
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
if redis.call('TTL', KEYS[1]) < 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return n
`)

var releaseLock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Store wraps the fast counter store: per-app counters, voter markers, the
// eligibility set and advisory locks.
type Store struct {
	rdb  redis.UniversalClient
	keys Keys
}

func New(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, keys: Keys{Prefix: prefix}}
}

// Dial parses a redis:// URL, connects and pings.
func Dial(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	s := New(redis.NewClient(opts), prefix)
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Keys() Keys {
	return s.keys
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Counts reads every counter in one MGET. Missing keys resolve to 0.
func (s *Store) Counts(ctx context.Context, appIDs []string) (map[string]int64, error) {
	if len(appIDs) == 0 {
		return map[string]int64{}, nil
	}
	vals, err := s.rdb.MGet(ctx, s.counterKeys(appIDs)...).Result()
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	return parseCounts(appIDs, vals)
}

func (s *Store) counterKeys(appIDs []string) []string {
	keys := make([]string, len(appIDs))
	for i, id := range appIDs {
		keys[i] = s.keys.Counter(id)
	}
	return keys
}

func parseCounts(appIDs []string, vals []interface{}) (map[string]int64, error) {
	out := make(map[string]int64, len(appIDs))
	for i, id := range appIDs {
		out[id] = 0
		str, ok := vals[i].(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s holds %q: %w", id, str, err)
		}
		out[id] = n
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, appID string) (int64, error) {
	n, err := s.rdb.Get(ctx, s.keys.Counter(appID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", appID, err)
	}
	return n, nil
}

// Incr adds one vote. A counter without a TTL gets ttl.
func (s *Store) Incr(ctx context.Context, appID string, ttl time.Duration) (int64, error) {
	n, err := s.incrBy(ctx, appID, 1, ttl)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", appID, err)
	}
	return n, nil
}

func (s *Store) incrBy(ctx context.Context, appID string, delta int64, ttl time.Duration) (int64, error) {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return incrBy.Run(ctx, s.rdb, []string{s.keys.Counter(appID)}, delta, secs).Int64()
}

// DecrFloor decrements the counter, clamping at zero.
func (s *Store) DecrFloor(ctx context.Context, appID string) (int64, error) {
	n, err := decrFloor.Run(ctx, s.rdb, []string{s.keys.Counter(appID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("decrement counter %s: %w", appID, err)
	}
	return n, nil
}

// MarkVoted sets the voter marker if absent. It reports false when the
// marker already existed.
func (s *Store) MarkVoted(ctx context.Context, voterID, appID string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keys.Marker(voterID, appID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set voter marker: %w", err)
	}
	return ok, nil
}

// Unmark deletes the voter marker and reports whether one existed.
func (s *Store) Unmark(ctx context.Context, voterID, appID string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.keys.Marker(voterID, appID)).Result()
	if err != nil {
		return false, fmt.Errorf("delete voter marker: %w", err)
	}
	return n > 0, nil
}

// VotedFor returns the subset of appIDs that voterID holds a marker for, in
// input order.
func (s *Store) VotedFor(ctx context.Context, voterID string, appIDs []string) ([]string, error) {
	if len(appIDs) == 0 {
		return []string{}, nil
	}
	cmds := make([]*redis.IntCmd, len(appIDs))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range appIDs {
			cmds[i] = pipe.Exists(ctx, s.keys.Marker(voterID, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check voter markers: %w", err)
	}
	voted := []string{}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			voted = append(voted, appIDs[i])
		}
	}
	return voted, nil
}

func (s *Store) IsEligible(ctx context.Context, appID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.keys.Eligible(), appID).Result()
	if err != nil {
		return false, fmt.Errorf("check eligibility: %w", err)
	}
	return ok, nil
}

// EligibleApps returns the eligibility set sorted.
func (s *Store) EligibleApps(ctx context.Context) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.keys.Eligible()).Result()
	if err != nil {
		return nil, fmt.Errorf("read eligibility set: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

// InitWindow replaces the eligibility set with appIDs and prepares each
// app's counter in one MULTI/EXEC batch. Counters are reset to zero unless
// preserveCounts is set, in which case only missing counters are created.
func (s *Store) InitWindow(ctx context.Context, appIDs []string, ttl time.Duration, preserveCounts bool) error {
	set := s.keys.Eligible()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, set)
		if len(appIDs) == 0 {
			return nil
		}
		members := make([]interface{}, len(appIDs))
		for i, id := range appIDs {
			members[i] = id
		}
		pipe.SAdd(ctx, set, members...)
		pipe.Expire(ctx, set, ttl)
		for _, id := range appIDs {
			if preserveCounts {
				pipe.SetNX(ctx, s.keys.Counter(id), 0, ttl)
			} else {
				pipe.Set(ctx, s.keys.Counter(id), 0, ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("init voting window: %w", err)
	}
	return nil
}

// DrainCounters reads and deletes the given counters in one MULTI/EXEC, so
// every vote is returned by exactly one drain. With closeWindow the
// eligibility set is deleted in the same batch.
func (s *Store) DrainCounters(ctx context.Context, appIDs []string, closeWindow bool) (map[string]int64, error) {
	keys := s.counterKeys(appIDs)
	del := keys
	if closeWindow {
		del = append([]string{s.keys.Eligible()}, keys...)
	}
	if len(del) == 0 {
		return map[string]int64{}, nil
	}
	var mget *redis.SliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			mget = pipe.MGet(ctx, keys...)
		}
		pipe.Del(ctx, del...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain counters: %w", err)
	}
	if mget == nil {
		return map[string]int64{}, nil
	}
	return parseCounts(appIDs, mget.Val())
}

// RestoreCounters adds drained counts back, recreating missing counters with ttl.
func (s *Store) RestoreCounters(ctx context.Context, counts map[string]int64, ttl time.Duration) error {
	for appID, n := range counts {
		if n <= 0 {
			continue
		}
		if _, err := s.incrBy(ctx, appID, n, ttl); err != nil {
			return fmt.Errorf("restore counter %s: %w", appID, err)
		}
	}
	return nil
}

// DeleteVoterMarkers removes every marker for appID. It walks the keyspace
// with SCAN, deleting at most batch keys per round trip, so the cost is one
// SCAN page plus one DEL per batch rather than a blocking KEYS call.
func (s *Store) DeleteVoterMarkers(ctx context.Context, appID string, batch int64) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	pattern := s.keys.MarkerPattern(appID)
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, batch).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan voter markers %s: %w", appID, err)
		}
		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("delete voter markers %s: %w", appID, err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// AcquireLock takes the advisory lock at key and returns the token needed
// to release it. ErrLockHeld means someone else holds it.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// ReleaseLock deletes the lock only if token still owns it.
func (s *Store) ReleaseLock(ctx context.Context, key, token string) error {
	if err := releaseLock.Run(ctx, s.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
