package directory

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/appointment"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/observability/metrics"
)

type countingCatalog struct {
	items map[uuid.UUID]appointment.Treatment
	calls int
}

func (c *countingCatalog) Get(_ context.Context, id uuid.UUID) (*appointment.Treatment, error) {
	c.calls++
	tr, ok := c.items[id]
	if !ok {
		return nil, appointment.ErrTreatmentNotFound
	}
	return &tr, nil
}

func newCache(t *testing.T, next appointment.TreatmentCatalog) (*miniredis.Miniredis, *CachedTreatmentCatalog) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	m := metrics.NewSchedulerMetrics(prometheus.NewRegistry())
	return mr, NewCachedTreatmentCatalog(next, client, time.Minute, m, zerolog.Nop())
}

func TestCachedTreatmentCatalogCachesHits(t *testing.T) {
	id := uuid.New()
	eligible := uuid.New()
	next := &countingCatalog{items: map[uuid.UUID]appointment.Treatment{
		id: {ID: id, Name: "Cleaning", Active: true, EligiblePractitioners: []uuid.UUID{eligible}},
	}}
	mr, cache := newCache(t, next)
	ctx := context.Background()

	first, err := cache.Get(ctx, id)
	require.NoError(t, err)
	second, err := cache.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	assert.Equal(t, []uuid.UUID{eligible}, second.EligiblePractitioners)
	assert.True(t, mr.Exists(cache.key(id)))
	assert.Equal(t, time.Minute, mr.TTL(cache.key(id)))

	require.NoError(t, cache.Invalidate(ctx, id))
	_, err = cache.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedTreatmentCatalogDoesNotCacheMisses(t *testing.T) {
	next := &countingCatalog{items: map[uuid.UUID]appointment.Treatment{}}
	mr, cache := newCache(t, next)
	id := uuid.New()

	_, err := cache.Get(context.Background(), id)
	assert.ErrorIs(t, err, appointment.ErrTreatmentNotFound)
	assert.False(t, mr.Exists(cache.key(id)))
}

func TestCachedTreatmentCatalogIgnoresCorruptEntries(t *testing.T) {
	id := uuid.New()
	next := &countingCatalog{items: map[uuid.UUID]appointment.Treatment{id: {ID: id, Name: "X-ray", Active: true}}}
	mr, cache := newCache(t, next)
	require.NoError(t, mr.Set(cache.key(id), "{not json"))

	tr, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "X-ray", tr.Name)
	assert.Equal(t, 1, next.calls)
}

func TestCachedTreatmentCatalogSurvivesRedisOutage(t *testing.T) {
	id := uuid.New()
	next := &countingCatalog{items: map[uuid.UUID]appointment.Treatment{id: {ID: id, Name: "Check-up", Active: true}}}
	mr, cache := newCache(t, next)
	mr.Close()

	tr, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Check-up", tr.Name)
}
