package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/appointment"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/observability/metrics"
)

// CachedTreatmentCatalog fronts a TreatmentCatalog with a Redis JSON cache.
// Redis failures degrade to the underlying catalog and are only logged.
type CachedTreatmentCatalog struct {
	next    appointment.TreatmentCatalog
	redis   *redis.Client
	ttl     time.Duration
	metrics *metrics.SchedulerMetrics
	logger  zerolog.Logger
}

func NewCachedTreatmentCatalog(next appointment.TreatmentCatalog, client *redis.Client, ttl time.Duration, m *metrics.SchedulerMetrics, logger zerolog.Logger) *CachedTreatmentCatalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedTreatmentCatalog{next: next, redis: client, ttl: ttl, metrics: m, logger: logger}
}

func (c *CachedTreatmentCatalog) key(id uuid.UUID) string {
	return fmt.Sprintf("catalog:treatment:%s", id)
}

func (c *CachedTreatmentCatalog) Get(ctx context.Context, id uuid.UUID) (*appointment.Treatment, error) {
	data, err := c.redis.Get(ctx, c.key(id)).Bytes()
	switch {
	case err == nil:
		var tr appointment.Treatment
		if jerr := json.Unmarshal(data, &tr); jerr == nil {
			c.metrics.ObserveCacheLookup(true)
			return &tr, nil
		}
		c.logger.Warn().Str("treatment_id", id.String()).Msg("discarding undecodable cached treatment")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("treatment_id", id.String()).Msg("treatment cache read failed")
	}
	c.metrics.ObserveCacheLookup(false)

	tr, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tr); err == nil {
		if err := c.redis.Set(ctx, c.key(id), data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("treatment_id", id.String()).Msg("treatment cache write failed")
		}
	}
	return tr, nil
}

// Invalidate drops the cached entry for id.
func (c *CachedTreatmentCatalog) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := c.redis.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("directory: invalidate treatment: %w", err)
	}
	return nil
}
