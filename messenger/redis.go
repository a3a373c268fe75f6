package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-sim/model"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "null:"
	DefaultRedisMaxLen = 10000
)

// RedisMessenger appends messages to one Redis stream per recipient and keeps
// a priority index per recipient in a sorted set. Both are capped at maxLen.
type RedisMessenger struct {
	client *redis.Client
	prefix string
	maxLen int64
	mu     sync.RWMutex
	closed bool
}

// NewRedisMessenger connects to cfg.Addr and verifies the connection.
func NewRedisMessenger(ctx context.Context, cfg model.RedisConfig) (*RedisMessenger, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisMessengerFromClient(client, cfg.Prefix, cfg.MaxLen), nil
}

// NewRedisMessengerFromClient wraps an existing client, e.g. one pointed at miniredis.
func NewRedisMessengerFromClient(client *redis.Client, prefix string, maxLen int64) *RedisMessenger {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if maxLen <= 0 {
		maxLen = DefaultRedisMaxLen
	}
	return &RedisMessenger{client: client, prefix: prefix, maxLen: maxLen}
}

func (r *RedisMessenger) Name() string { return string(model.MessengerRedis) }

func (r *RedisMessenger) inboxKey(agent string) string {
	return r.prefix + "inbox:" + agent
}

func (r *RedisMessenger) priorityKey(agent string) string {
	return r.prefix + "priority:" + agent
}

func (r *RedisMessenger) Send(ctx context.Context, msg *model.Message) (string, error) {
	if err := Validate(msg); err != nil {
		return "", err
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return "", ErrClosed
	}

	payload, err := sonic.MarshalString(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	pipe := r.client.TxPipeline()
	add := pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: r.inboxKey(msg.To),
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":           msg.ID,
			"from_agent":   msg.From,
			"to_agent":     msg.To,
			"message_type": string(msg.Type),
			"priority":     string(msg.Priority),
			"payload":      payload,
			"timestamp":    msg.Timestamp.Format(time.RFC3339Nano),
		},
	})
	pipe.ZAdd(ctx, r.priorityKey(msg.To), redis.Z{
		Score:  float64(msg.Priority.Weight()),
		Member: msg.ID,
	})
	// the index holds at most maxLen ids, dropping the lowest priorities first
	pipe.ZRemRangeByRank(ctx, r.priorityKey(msg.To), 0, -(r.maxLen + 1))

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis send to %s: %w", msg.To, err)
	}
	if add.Val() == "" {
		return "", fmt.Errorf("redis send to %s: empty stream id", msg.To)
	}

	return msg.ID, nil
}

// Read returns up to count messages from an agent's inbox, oldest first.
func (r *RedisMessenger) Read(ctx context.Context, agent string, count int64) ([]*model.Message, error) {
	entries, err := r.client.XRangeN(ctx, r.inboxKey(agent), "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read inbox %s: %w", agent, err)
	}

	out := make([]*model.Message, 0, len(entries))
	for _, e := range entries {
		msg, err := decodeEntry(e.Values)
		if err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", e.ID, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Pending returns the stream length of an agent's inbox.
func (r *RedisMessenger) Pending(ctx context.Context, agent string) (int64, error) {
	return r.client.XLen(ctx, r.inboxKey(agent)).Result()
}

// ByPriority returns message ids for an agent, highest priority first.
func (r *RedisMessenger) ByPriority(ctx context.Context, agent string) ([]string, error) {
	return r.client.ZRevRange(ctx, r.priorityKey(agent), 0, -1).Result()
}

func decodeEntry(values map[string]interface{}) (*model.Message, error) {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}

	msg := &model.Message{
		ID:       str("id"),
		From:     str("from_agent"),
		To:       str("to_agent"),
		Type:     model.MessageType(str("message_type")),
		Priority: model.Priority(str("priority")),
	}
	if ts := str("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		msg.Timestamp = t
	}
	if p := str("payload"); p != "" {
		if err := sonic.UnmarshalString(p, &msg.Payload); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func (r *RedisMessenger) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}
