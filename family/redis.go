package family

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusCompromised int64 = 1
	rotateStatusReuse       int64 = 2
	rotateStatusRotated     int64 = 3
)

const rotateScript = `
local fam = redis.call("HMGET", KEYS[1], "user", "email", "role", "device", "current", "state", "created")
if not fam[1] then
  return {0}
end

local state = fam[6]
if state == "compromised" then
  return {1}
end

local rec_prefix = ARGV[3]

if state ~= "active" or fam[5] ~= ARGV[1] then
  redis.call("HSET", KEYS[1], "state", "compromised")
  local ids = redis.call("SMEMBERS", KEYS[2])
  for _, id in ipairs(ids) do
    redis.call("HSET", rec_prefix .. id, "revoked", "1")
  end
  redis.call("PEXPIRE", KEYS[1], ARGV[6])
  redis.call("PEXPIRE", KEYS[2], ARGV[6])
  return {2}
end

local ids = redis.call("SMEMBERS", KEYS[2])
for _, id in ipairs(ids) do
  redis.call("HSET", rec_prefix .. id, "revoked", "1")
end
redis.call("HSET", rec_prefix .. ARGV[2],
  "family", ARGV[7],
  "user", fam[1],
  "email", fam[2],
  "device", fam[4],
  "issued", ARGV[4],
  "revoked", "0")
redis.call("PEXPIRE", rec_prefix .. ARGV[2], ARGV[6])
redis.call("SADD", KEYS[2], ARGV[2])
redis.call("HSET", KEYS[1], "current", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
redis.call("PEXPIRE", KEYS[2], ARGV[6])

return {3, fam[1], fam[2], fam[3], fam[4], fam[7]}
`

var rotateLua = redis.NewScript(rotateScript)

const endFamilyScript = `
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  return {0, 0}
end

local revoked = 0
local ids = redis.call("SMEMBERS", KEYS[2])
for _, id in ipairs(ids) do
  local rec_key = ARGV[1] .. id
  if redis.call("HGET", rec_key, "revoked") == "0" then
    redis.call("HSET", rec_key, "revoked", "1")
    revoked = revoked + 1
  end
end

if state ~= "compromised" then
  redis.call("HSET", KEYS[1], "state", ARGV[2])
end

return {1, revoked}
`

var endFamilyLua = redis.NewScript(endFamilyScript)

const revokeRecordScript = `
local fid = redis.call("HGET", KEYS[1], "family")
if not fid then
  return {0}
end

local already = redis.call("HGET", KEYS[1], "revoked")
redis.call("HSET", KEYS[1], "revoked", "1")

local fam_key = ARGV[2] .. fid
local state = redis.call("HGET", fam_key, "state")
if state == "active" and redis.call("HGET", fam_key, "current") == ARGV[1] then
  redis.call("HSET", fam_key, "state", "revoked")
end

if already == "1" then
  return {2}
end
return {1}
`

var revokeRecordLua = redis.NewScript(revokeRecordScript)

const revokeAllScript = `
local ended = 0
local fids = redis.call("SMEMBERS", KEYS[1])
for _, fid in ipairs(fids) do
  local fam_key = ARGV[1] .. fid
  local state = redis.call("HGET", fam_key, "state")
  if state then
    if state == "active" then
      redis.call("HSET", fam_key, "state", "revoked")
      ended = ended + 1
    end
    local ids = redis.call("SMEMBERS", ARGV[2] .. fid)
    for _, id in ipairs(ids) do
      redis.call("HSET", ARGV[3] .. id, "revoked", "1")
    end
  end
end
return ended
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// RedisConfig tunes key naming and retention for [RedisStore].
type RedisConfig struct {
	// Prefix namespaces all registry keys. Defaults to "tk".
	Prefix string
	// RefreshTTL bounds family lifetime; families expire out of Redis
	// when their refresh tokens could no longer verify anyway.
	RefreshTTL time.Duration
	// RetentionGrace keeps revoked records around past RefreshTTL so
	// reuse of a recently retired token is still observable.
	RetentionGrace time.Duration
}

// RedisStore is the Redis-backed [Store]. All multi-step transitions run as
// Lua scripts, so concurrent rotations against the same family serialize
// inside Redis.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string

	familyTTL time.Duration
	recordTTL time.Duration
}

// NewRedisStore creates a registry store on the given Redis client.
func NewRedisStore(redisClient redis.UniversalClient, cfg RedisConfig) (*RedisStore, error) {
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("refresh TTL must be positive")
	}
	if cfg.RetentionGrace < 0 {
		return nil, errors.New("retention grace must not be negative")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tk"
	}

	return &RedisStore{
		redis:     redisClient,
		prefix:    prefix,
		familyTTL: cfg.RefreshTTL,
		recordTTL: cfg.RefreshTTL + cfg.RetentionGrace,
	}, nil
}

func (s *RedisStore) famKey(familyID string) string { return s.prefix + ":fam:" + familyID }
func (s *RedisStore) recKey(tokenID string) string  { return s.prefix + ":rec:" + tokenID }
func (s *RedisStore) idxKey(familyID string) string { return s.prefix + ":idx:" + familyID }
func (s *RedisStore) usrKey(userID string) string   { return s.prefix + ":usr:" + userID }

func (s *RedisStore) recPrefix() string { return s.prefix + ":rec:" }
func (s *RedisStore) famPrefix() string { return s.prefix + ":fam:" }
func (s *RedisStore) idxPrefix() string { return s.prefix + ":idx:" }

// CreateFamily persists the family, its first token record, and both index
// entries in one transaction.
func (s *RedisStore) CreateFamily(ctx context.Context, fam *Family) error {
	if fam.FamilyID == "" || fam.UserID == "" || fam.CurrentTokenID == "" {
		return errors.New("family requires family, user, and token IDs")
	}

	createdAt := fam.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.famKey(fam.FamilyID),
			"user", fam.UserID,
			"email", fam.Email,
			"role", fam.Role,
			"device", fam.Device,
			"current", fam.CurrentTokenID,
			"state", string(StateActive),
			"created", strconv.FormatInt(createdAt.Unix(), 10),
		)
		pipe.PExpire(ctx, s.famKey(fam.FamilyID), s.familyTTL)

		pipe.HSet(ctx, s.recKey(fam.CurrentTokenID),
			"family", fam.FamilyID,
			"user", fam.UserID,
			"email", fam.Email,
			"device", fam.Device,
			"issued", strconv.FormatInt(createdAt.Unix(), 10),
			"revoked", "0",
		)
		pipe.PExpire(ctx, s.recKey(fam.CurrentTokenID), s.recordTTL)

		pipe.SAdd(ctx, s.idxKey(fam.FamilyID), fam.CurrentTokenID)
		pipe.PExpire(ctx, s.idxKey(fam.FamilyID), s.recordTTL)

		pipe.SAdd(ctx, s.usrKey(fam.UserID), fam.FamilyID)
		pipe.PExpire(ctx, s.usrKey(fam.UserID), s.recordTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Rotate runs the verify-and-swap script. See [Store] for semantics.
func (s *RedisStore) Rotate(ctx context.Context, familyID, presentedID, nextID string) (*Family, error) {
	now := time.Now()
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.famKey(familyID), s.idxKey(familyID)},
		presentedID,
		nextID,
		s.recPrefix(),
		strconv.FormatInt(now.Unix(), 10),
		s.familyTTL.Milliseconds(),
		s.recordTTL.Milliseconds(),
		familyID,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrFamilyNotFound
	case rotateStatusCompromised:
		return nil, ErrFamilyCompromised
	case rotateStatusReuse:
		return nil, ErrReuseDetected
	case rotateStatusRotated:
		if len(parts) < 6 {
			return nil, fmt.Errorf("%w: short rotate script response", ErrStoreUnavailable)
		}
		created, _ := strconv.ParseInt(scriptString(parts[5]), 10, 64)
		return &Family{
			FamilyID:       familyID,
			UserID:         scriptString(parts[1]),
			Email:          scriptString(parts[2]),
			Role:           scriptString(parts[3]),
			Device:         scriptString(parts[4]),
			CurrentTokenID: nextID,
			State:          StateActive,
			CreatedAt:      time.Unix(created, 0),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrStoreUnavailable)
	}
}

// GetFamily loads a family snapshot.
func (s *RedisStore) GetFamily(ctx context.Context, familyID string) (*Family, error) {
	fields, err := s.redis.HGetAll(ctx, s.famKey(familyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrFamilyNotFound
	}

	state, err := ParseState(fields["state"])
	if err != nil {
		return nil, err
	}
	created, _ := strconv.ParseInt(fields["created"], 10, 64)

	return &Family{
		FamilyID:       familyID,
		UserID:         fields["user"],
		Email:          fields["email"],
		Role:           fields["role"],
		Device:         fields["device"],
		CurrentTokenID: fields["current"],
		State:          state,
		CreatedAt:      time.Unix(created, 0),
	}, nil
}

// GetRecord loads a single token record.
func (s *RedisStore) GetRecord(ctx context.Context, tokenID string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrRecordNotFound
	}

	issued, _ := strconv.ParseInt(fields["issued"], 10, 64)

	return &Record{
		TokenID:  tokenID,
		FamilyID: fields["family"],
		UserID:   fields["user"],
		Email:    fields["email"],
		Device:   fields["device"],
		IssuedAt: time.Unix(issued, 0),
		Revoked:  fields["revoked"] == "1",
	}, nil
}

// RevokeRecord marks one token revoked; revoking the family's current token
// ends the family too.
func (s *RedisStore) RevokeRecord(ctx context.Context, tokenID string) error {
	result, err := revokeRecordLua.Run(
		ctx,
		s.redis,
		[]string{s.recKey(tokenID)},
		tokenID,
		s.famPrefix(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	code := scriptStatus(result)
	if code == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// RevokeFamily ends the family and revokes all outstanding records.
func (s *RedisStore) RevokeFamily(ctx context.Context, familyID string) error {
	return s.endFamily(ctx, familyID, StateRevoked)
}

// Compromise force-marks the family compromised.
func (s *RedisStore) Compromise(ctx context.Context, familyID string) error {
	return s.endFamily(ctx, familyID, StateCompromised)
}

func (s *RedisStore) endFamily(ctx context.Context, familyID string, target State) error {
	result, err := endFamilyLua.Run(
		ctx,
		s.redis,
		[]string{s.famKey(familyID), s.idxKey(familyID)},
		s.recPrefix(),
		string(target),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if scriptStatus(result) == 0 {
		return ErrFamilyNotFound
	}

	return nil
}

// RevokeAllForUser ends every active family of the user in one atomic pass
// and returns how many were ended.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	result, err := revokeAllLua.Run(
		ctx,
		s.redis,
		[]string{s.usrKey(userID)},
		s.famPrefix(),
		s.idxPrefix(),
		s.recPrefix(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid revoke-all script response", ErrStoreUnavailable)
	}

	return int(count), nil
}

// ActiveSessions lists the user's families that are still in the active
// state, skipping entries whose family has expired out of Redis.
func (s *RedisStore) ActiveSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	familyIDs, err := s.redis.SMembers(ctx, s.usrKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []SessionInfo{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(familyIDs) == 0 {
		return []SessionInfo{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(familyIDs))
	for i, fid := range familyIDs {
		cmds[i] = pipe.HGetAll(ctx, s.famKey(fid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	type liveFamily struct {
		familyID string
		tokenID  string
		device   string
		created  int64
	}
	live := make([]liveFamily, 0, len(familyIDs))
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}
		if len(fields) == 0 || fields["state"] != string(StateActive) {
			continue
		}

		created, _ := strconv.ParseInt(fields["created"], 10, 64)
		live = append(live, liveFamily{
			familyID: familyIDs[i],
			tokenID:  fields["current"],
			device:   fields["device"],
			created:  created,
		})
	}
	if len(live) == 0 {
		return []SessionInfo{}, nil
	}

	// Second pass resolves when each family's current token was issued.
	recPipe := s.redis.Pipeline()
	issuedCmds := make([]*redis.StringCmd, len(live))
	for i, lf := range live {
		issuedCmds[i] = recPipe.HGet(ctx, s.recKey(lf.tokenID), "issued")
	}
	if _, err := recPipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sessions := make([]SessionInfo, 0, len(live))
	for i, lf := range live {
		issued := lf.created
		if raw, cmdErr := issuedCmds[i].Result(); cmdErr == nil {
			if parsed, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
				issued = parsed
			}
		}
		sessions = append(sessions, SessionInfo{
			TokenID:   lf.tokenID,
			FamilyID:  lf.familyID,
			Device:    lf.device,
			IssuedAt:  time.Unix(issued, 0),
			CreatedAt: time.Unix(lf.created, 0),
		})
	}

	return sessions, nil
}

// Sweep walks the user index keys and prunes references to families that
// expired out of Redis. Returns the number of pruned references.
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	pattern := s.prefix + ":usr:*"
	var (
		cursor uint64
		pruned int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return pruned, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, userKey := range keys {
			familyIDs, err := s.redis.SMembers(ctx, userKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return pruned, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}

			for _, fid := range familyIDs {
				exists, err := s.redis.Exists(ctx, s.famKey(fid)).Result()
				if err != nil {
					return pruned, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
				}
				if exists == 0 {
					if err := s.redis.SRem(ctx, userKey, fid).Err(); err != nil {
						return pruned, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
					}
					pruned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return pruned, nil
}

// Ping checks Redis availability and reports round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func scriptString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func scriptStatus(result interface{}) int64 {
	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return -1
	}
	code, ok := parts[0].(int64)
	if !ok {
		return -1
	}
	return code
}
