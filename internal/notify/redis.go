package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hybrid_monitor/internal/alert"
)

// RedisStream appends each alert to a capped Redis stream.
type RedisStream struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStream(client redis.Cmdable, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

// DialRedis parses url and checks the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func (r *RedisStream) Name() string { return "redis" }

func (r *RedisStream) Send(ctx context.Context, rec alert.Record) error {
	components, err := json.Marshal(rec.Components)
	if err != nil {
		return err
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":          rec.ID,
			"severity":    string(rec.Severity),
			"score":       rec.Score,
			"attack_type": rec.AttackType,
			"source":      rec.SourceIdentity,
			"timestamp":   rec.Timestamp.Format(time.RFC3339Nano),
			"components":  string(components),
			"details":     rec.Details,
		},
	}).Err()
}
