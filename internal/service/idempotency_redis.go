package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claim uses two keys per idempotency key: "<k>:fp" holds the request
// fingerprint and is written with SET NX; "<k>:resp" appears only once the
// mutation finished. Both expire together.
var redisIdempotencyClaimScript = redis.NewScript(`
local fp_key = KEYS[1]
local resp_key = KEYS[2]
local fingerprint = ARGV[1]
local ttl_ms = ARGV[2]

if redis.call("SET", fp_key, fingerprint, "NX", "PX", ttl_ms) then
  return {"fresh"}
end
if redis.call("GET", fp_key) ~= fingerprint then
  return {"mismatch"}
end
local stored = redis.call("GET", resp_key)
if not stored then
  return {"pending"}
end
return {"replay", stored}
`)

var redisIdempotencyRecordScript = redis.NewScript(`
local fp_key = KEYS[1]
local resp_key = KEYS[2]
local fingerprint = ARGV[1]
local ttl_ms = ARGV[2]
local stored = ARGV[3]

if redis.call("GET", fp_key) ~= fingerprint then
  return 0
end
redis.call("SET", resp_key, stored, "PX", ttl_ms)
redis.call("PEXPIRE", fp_key, ttl_ms)
return 1
`)

// RedisIdempotencyStore shares claimed keys across instances so duplicate
// admin mutations replay the same response regardless of which node served
// the first attempt.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "idem"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) keys(scope, key string) []string {
	base := fmt.Sprintf("%s:%s:%s", s.prefix, scope, key)
	return []string{base + ":fp", base + ":resp"}
}

func (s *RedisIdempotencyStore) Claim(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyClaim, error) {
	raw, err := redisIdempotencyClaimScript.Run(
		ctx,
		s.client,
		s.keys(scope, key),
		fingerprint,
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return IdempotencyClaim{}, fmt.Errorf("idempotency claim: %w", err)
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return IdempotencyClaim{}, fmt.Errorf("idempotency claim: unexpected script result %T", raw)
	}
	switch outcome := IdempotencyOutcome(redisString(values[0])); outcome {
	case IdempotencyFresh, IdempotencyMismatch, IdempotencyPending:
		return IdempotencyClaim{Outcome: outcome}, nil
	case IdempotencyReplay:
		if len(values) < 2 {
			return IdempotencyClaim{}, fmt.Errorf("idempotency claim: replay without stored response")
		}
		resp, decodeErr := decodeStoredResponse(redisString(values[1]))
		if decodeErr != nil {
			return IdempotencyClaim{}, decodeErr
		}
		return IdempotencyClaim{Outcome: IdempotencyReplay, Replayed: resp}, nil
	default:
		return IdempotencyClaim{}, fmt.Errorf("idempotency claim: unknown outcome %q", outcome)
	}
}

func (s *RedisIdempotencyStore) Record(ctx context.Context, scope, key, fingerprint string, resp StoredResponse, ttl time.Duration) error {
	_, err := redisIdempotencyRecordScript.Run(
		ctx,
		s.client,
		s.keys(scope, key),
		fingerprint,
		ttl.Milliseconds(),
		encodeStoredResponse(resp),
	).Result()
	if err != nil {
		return fmt.Errorf("idempotency record: %w", err)
	}
	return nil
}

// Stored responses are flattened into "status|content-type|base64(body)" so
// the whole record fits one string value.
func encodeStoredResponse(resp StoredResponse) string {
	return fmt.Sprintf("%d|%s|%s", resp.StatusCode, resp.ContentType, base64.StdEncoding.EncodeToString(resp.Body))
}

func decodeStoredResponse(raw string) (*StoredResponse, error) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("idempotency: malformed stored response")
	}
	status, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("idempotency: parse stored status: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("idempotency: decode stored body: %w", err)
	}
	return &StoredResponse{StatusCode: status, ContentType: parts[1], Body: body}, nil
}

func redisString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(v)
	}
}
