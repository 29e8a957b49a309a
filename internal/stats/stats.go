// Package stats keeps per-model genuine/fallback counters in Redis.
package stats

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"deepguard/internal/observability"
)

const (
	keyPrefix = "deepguard:outcomes:"
	modelsKey = "deepguard:outcomes"
)

type Counts struct {
	Genuine  int64 `json:"genuine"`
	Fallback int64 `json:"fallback"`
}

type Counters struct {
	client *redis.Client
	logger *zap.Logger
}

func New(url string, logger *zap.Logger) (*Counters, error) {
	if url == "" {
		return nil, errors.New("missing redis url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewWithClient(redis.NewClient(opt), logger), nil
}

func NewWithClient(client *redis.Client, logger *zap.Logger) *Counters {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counters{client: client, logger: logger}
}

func (c *Counters) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Counters) Incr(ctx context.Context, modelID string, outcome observability.Outcome) error {
	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, modelsKey, modelID)
	pipe.HIncrBy(ctx, keyPrefix+modelID, string(outcome), 1)
	_, err := pipe.Exec(ctx)
	return err
}

// Record implements observability.Recorder; failures are logged, not returned.
func (c *Counters) Record(ctx context.Context, ev observability.Event) {
	if err := c.Incr(ctx, ev.ModelID, ev.Outcome); err != nil {
		c.logger.Warn("outcome counter update failed", zap.String("model_id", ev.ModelID), zap.Error(err))
	}
}

func (c *Counters) Get(ctx context.Context, modelID string) (Counts, error) {
	vals, err := c.client.HGetAll(ctx, keyPrefix+modelID).Result()
	if err != nil {
		return Counts{}, err
	}
	var out Counts
	if v, ok := vals[string(observability.OutcomeGenuine)]; ok {
		out.Genuine = parseInt(v)
	}
	if v, ok := vals[string(observability.OutcomeFallback)]; ok {
		out.Fallback = parseInt(v)
	}
	return out, nil
}

func (c *Counters) Snapshot(ctx context.Context) (map[string]Counts, error) {
	models, err := c.client.SMembers(ctx, modelsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Counts, len(models))
	for _, id := range models {
		counts, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = counts
	}
	return out, nil
}

func (c *Counters) Close() error {
	return c.client.Close()
}

func parseInt(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
