package observability

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

// KeyspaceMetricsHook counts cache hits/misses and classifies Redis errors
// from executed commands. Register it on the client at startup.
type KeyspaceMetricsHook struct{}

func NewKeyspaceMetricsHook() *KeyspaceMetricsHook { return &KeyspaceMetricsHook{} }

func (h *KeyspaceMetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *KeyspaceMetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if hits, misses, ok := classifyKeyspaceOutcome(cmd); ok {
			for i := int64(0); i < hits; i++ {
				RecordCacheEvent(ctx, "hit")
			}
			for i := int64(0); i < misses; i++ {
				RecordCacheEvent(ctx, "miss")
			}
		}
		if err != nil && err != redis.Nil {
			RecordCacheEvent(ctx, "error_"+classifyRedisError(err))
		}
		return err
	}
}

func (h *KeyspaceMetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

// classifyKeyspaceOutcome inspects a finished read command and reports how
// many keys hit and missed. Only GET and MGET participate.
func classifyKeyspaceOutcome(cmd redis.Cmder) (hits, misses int64, ok bool) {
	switch c := cmd.(type) {
	case *redis.StringCmd:
		if strings.ToLower(c.Name()) != "get" {
			return 0, 0, false
		}
		if c.Err() == redis.Nil {
			return 0, 1, true
		}
		if c.Err() != nil {
			return 0, 0, false
		}
		return 1, 0, true
	case *redis.SliceCmd:
		if strings.ToLower(c.Name()) != "mget" {
			return 0, 0, false
		}
		if c.Err() != nil {
			return 0, 0, false
		}
		for _, v := range c.Val() {
			if v == nil {
				misses++
			} else {
				hits++
			}
		}
		return hits, misses, true
	}
	return 0, 0, false
}

func classifyRedisError(err error) string {
	if err == nil {
		return "none"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "dial"):
		return "connection"
	case strings.Contains(msg, "context canceled"), strings.Contains(msg, "context deadline"):
		return "context"
	default:
		return "other"
	}
}
