// Package streamcache is the hot-path cache in front of the
// analytical store: trace nodes and interface records live here as
// TLV-packed hash fields, with a pub/sub channel announcing new
// traces to subscribers, grounded on ethpandaops-dora's RedisCache
// wrapper around github.com/go-redis/redis/v8.
package streamcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/greymass/traceindex/internal/compression"
	"github.com/greymass/traceindex/internal/errs"
)

// compressLevel is fixed rather than configurable: these are small,
// short-lived hash field values, not archival blobs, so there is no
// tradeoff worth exposing a knob for.
const compressLevel = 3

// Cache is the stream-cache collaborator: per-trace hash storage, a
// sorted set of active trace ids by last-update time (for eviction),
// and an atomic publish-on-commit for new_trace notifications.
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

func New(addr, keyPrefix string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        strings.TrimPrefix(addr, "tcp://"),
		ReadTimeout: 20 * time.Second,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errs.Wrap(errs.Transient, "connecting to stream cache", err)
	}
	return &Cache{client: client, keyPrefix: keyPrefix}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) traceKey(traceID string) string {
	return fmt.Sprintf("%strace:%s", c.keyPrefix, traceID)
}

func (c *Cache) activeSetKey() string {
	return c.keyPrefix + "active_traces"
}

// PutFields writes fields into the trace's hash, bumps its position in
// the active-traces sorted set to now, and publishes a new_trace event
// — all inside one MULTI/EXEC so a subscriber never observes the
// notification before the fields it announces are readable.
func (c *Cache) PutFields(ctx context.Context, traceID string, fields map[string][]byte, now time.Time) error {
	hfields := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		compressed, err := compression.CompressLevel(nil, v, compressLevel)
		if err != nil {
			return errs.Wrap(errs.Transient, fmt.Sprintf("compress field %s", k), err)
		}
		hfields[k] = compressed
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.traceKey(traceID), hfields)
		pipe.ZAdd(ctx, c.activeSetKey(), &redis.Z{Score: float64(now.Unix()), Member: traceID})
		pipe.Publish(ctx, "new_trace", traceID)
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.Transient, "put trace fields", err)
	}
	return nil
}

// DeleteFields removes the named fields from a trace's hash, used when
// a re-emulation supersedes a previously cached subtree.
func (c *Cache) DeleteFields(ctx context.Context, traceID string, fieldNames ...string) error {
	if err := c.client.HDel(ctx, c.traceKey(traceID), fieldNames...).Err(); err != nil {
		return errs.Wrap(errs.Transient, "delete trace fields", err)
	}
	return nil
}

// GetFields reads back every field of a trace's hash, transparently
// decompressing the zstd-compressed values PutFields wrote.
func (c *Cache) GetFields(ctx context.Context, traceID string) (map[string][]byte, error) {
	raw, err := c.client.HGetAll(ctx, c.traceKey(traceID)).Result()
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "get trace fields", err)
	}
	out := make(map[string][]byte, len(raw))
	for k, v := range raw {
		decompressed, err := compression.Decompress(nil, []byte(v))
		if err != nil {
			return nil, errs.Wrap(errs.Transient, fmt.Sprintf("decompress field %s", k), err)
		}
		out[k] = decompressed
	}
	return out, nil
}

// EvictOlderThan removes every trace from the active set (and drops
// its hash) whose last update predates cutoff, bounding the cache's
// working set to recently touched traces.
func (c *Cache) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := c.client.ZRangeByScore(ctx, c.activeSetKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return 0, errs.Wrap(errs.Transient, "range active traces", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, c.traceKey(id))
		}
		pipe.ZRem(ctx, c.activeSetKey(), toInterfaceSlice(ids)...)
		return nil
	})
	if err != nil {
		return 0, errs.Wrap(errs.Transient, "evict traces", err)
	}
	return len(ids), nil
}

// Subscribe returns a channel of trace ids published under new_trace,
// for consumers that want to react to fresh traces without polling.
func (c *Cache) Subscribe(ctx context.Context) <-chan string {
	sub := c.client.Subscribe(ctx, "new_trace")
	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- msg.Payload
			}
		}
	}()
	return out
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
