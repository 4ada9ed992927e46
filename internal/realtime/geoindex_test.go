package realtime

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestGeoIndexUpsertIdempotent(t *testing.T) {
	rdb := newTestRedis(t)
	idx := NewGeoIndex(rdb)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "case-1", 120.9842, 14.5995))
	// 同一成员再次写入只移动位置
	require.NoError(t, idx.Upsert(ctx, "case-1", 120.9850, 14.6000))

	n, err := rdb.ZCard(ctx, geoSetKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGeoIndexSearchSortedByDistance(t *testing.T) {
	rdb := newTestRedis(t)
	idx := NewGeoIndex(rdb)
	ctx := context.Background()

	// 马尼拉市中心为圆心，三个成员距离约 2km / 8km / 25km
	center := [2]float64{120.9842, 14.5995}
	require.NoError(t, idx.Upsert(ctx, "near", 120.9842, 14.6175))  // ~2km 北
	require.NoError(t, idx.Upsert(ctx, "mid", 120.9842, 14.6715))   // ~8km 北
	require.NoError(t, idx.Upsert(ctx, "far", 120.9842, 14.8245))   // ~25km 北

	ids := idx.SearchNearby(ctx, center[0], center[1], 10)
	require.Len(t, ids, 2)
	assert.Equal(t, "near", ids[0])
	assert.Equal(t, "mid", ids[1])
}

func TestGeoIndexRemove(t *testing.T) {
	rdb := newTestRedis(t)
	idx := NewGeoIndex(rdb)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "case-1", 120.9842, 14.5995))
	require.NoError(t, idx.Remove(ctx, "case-1"))

	ids := idx.SearchNearby(ctx, 120.9842, 14.5995, 10)
	assert.Empty(t, ids)
}

func TestGeoIndexDegradesToEmptyOnFailure(t *testing.T) {
	// 指向不存在的服务端：两级查询都失败时降级为空结果
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	idx := NewGeoIndex(rdb)

	ids := idx.SearchNearby(context.Background(), 120.9842, 14.5995, 10)
	assert.Empty(t, ids)
}
