package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-session-engine/internal/app"
	"quiz-session-engine/internal/domain"
)

// Substrate stores records as JSON values with a companion version counter
// and fans updates out over Redis pub/sub, which makes observer delivery work
// across instances. Channels are named by record key.
type Substrate struct {
	client *redis.Client
	ttl    time.Duration // 0 means no expiry
}

func NewSubstrate(client *redis.Client, ttl time.Duration) *Substrate {
	return &Substrate{client: client, ttl: ttl}
}

func (s *Substrate) Get(ctx context.Context, key string) (app.Record, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return app.Record{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return app.Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	version, err := s.client.Get(ctx, verKey(key)).Int64()
	if err != nil && err != redis.Nil {
		return app.Record{}, fmt.Errorf("get %s version: %w", key, err)
	}
	return app.Record{Key: key, Version: version, Data: data}, nil
}

func (s *Substrate) Set(ctx context.Context, key string, data []byte) (app.Record, error) {
	version, err := s.client.Incr(ctx, verKey(key)).Result()
	if err != nil {
		return app.Record{}, fmt.Errorf("set %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return app.Record{}, fmt.Errorf("set %s: %w", key, err)
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, verKey(key), s.ttl).Err()
	}

	rec := app.Record{Key: key, Version: version, Data: data}
	payload, err := json.Marshal(rec)
	if err != nil {
		return app.Record{}, fmt.Errorf("set %s: %w", key, err)
	}
	if err := s.client.Publish(ctx, key, payload).Err(); err != nil {
		return app.Record{}, fmt.Errorf("publish %s: %w", key, err)
	}
	return rec, nil
}

func (s *Substrate) Update(ctx context.Context, key string, fields map[string]any) (app.Record, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return app.Record{}, err
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		return app.Record{}, fmt.Errorf("update %s: %w", key, err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return app.Record{}, fmt.Errorf("update %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

func (s *Substrate) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key, verKey(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Substrate) Subscribe(key string, fn func(app.Record)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	sub := s.client.Subscribe(ctx, key)
	// Force the subscription to be established before we return.
	if _, err := sub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	go func() {
		for msg := range sub.Channel() {
			var rec app.Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				continue
			}
			fn(rec)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Close()
			cancelCtx()
		})
	}
	return cancel, nil
}

func verKey(key string) string {
	return key + ":ver"
}
