package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTTL = 24 * time.Hour

// RedisStore keeps session state as JSON under session:<id>.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("doctalk.internal.session")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{redis: client, tracer: tracer, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, id string) (*State, error) {
	ctx, span := s.tracer.Start(ctx, "session.load", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load %s: %w", id, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode %s: %w", id, err)
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, st *State) error {
	ctx, span := s.tracer.Start(ctx, "session.save", trace.WithAttributes(attribute.String("session.id", st.ID)))
	defer span.End()

	data, err := json.Marshal(st)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal %s: %w", st.ID, err)
	}
	if err := s.redis.Set(ctx, sessionKey(st.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist %s: %w", st.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "session.delete", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to delete %s: %w", id, err)
	}
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}
