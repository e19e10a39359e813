package notify

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/topdown/internal/domain"
	"go.uber.org/zap"
)

// LogSink writes events to the process log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, e domain.Event) error {
	fields := make([]zap.Field, 0, len(e.Fields)+3)
	fields = append(fields,
		zap.String("kind", string(e.Kind)),
		zap.String("asset", e.Asset),
		zap.Time("at", e.At))
	for k, v := range e.Fields {
		fields = append(fields, zap.String(k, v))
	}

	if e.Kind == domain.EventRiskAlert {
		s.logger.Warn(e.Message, fields...)
		return nil
	}
	s.logger.Info(e.Message, fields...)
	return nil
}

// Publisher the Redis command used by RedisSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events as JSON on a Redis pub/sub channel.
type RedisSink struct {
	client  Publisher
	channel string
}

// NewRedisSink creates a Redis sink.
func NewRedisSink(client Publisher, channel string) *RedisSink {
	if channel == "" {
		channel = "topdown:events"
	}
	return &RedisSink{client: client, channel: channel}
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", addr)
	}
	return client, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", s.channel)
	}
	return nil
}
