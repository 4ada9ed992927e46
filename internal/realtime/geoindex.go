package realtime

import (
	"context"

	"HibiscusSOS/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// GeoIndex 存活求救单的地理索引，成员为 caseId。
// 索引条目与镜像条目一一对应：有坐标且存活的镜像才会入索引，
// 关闭时移除。近邻查询是便利功能而非正确性路径，索引故障时降级为空结果
type GeoIndex struct {
	rdb *redis.Client
}

func NewGeoIndex(rdb *redis.Client) *GeoIndex {
	return &GeoIndex{rdb: rdb}
}

// Upsert 幂等写入：重复写入同一 caseId 只移动成员位置，不产生重复
func (g *GeoIndex) Upsert(ctx context.Context, caseID string, lon, lat float64) error {
	return g.rdb.GeoAdd(ctx, geoSetKey, &redis.GeoLocation{
		Name:      caseID,
		Longitude: lon,
		Latitude:  lat,
	}).Err()
}

// Remove 移除索引成员（结案时调用）
func (g *GeoIndex) Remove(ctx context.Context, caseID string) error {
	return g.rdb.ZRem(ctx, geoSetKey, caseID).Err()
}

// SearchNearby 返回半径内的 caseId，按距离升序。
// 优先走 GEOSEARCH，单条索引范围查询；老版本服务端不支持时退回 GEORADIUS；
// 两者都失败则降级为空结果，不让请求失败
func (g *GeoIndex) SearchNearby(ctx context.Context, lon, lat, radiusKm float64) []string {
	ids, err := g.rdb.GeoSearch(ctx, geoSetKey, &redis.GeoSearchQuery{
		Longitude:  lon,
		Latitude:   lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err == nil {
		return ids
	}

	locs, err := g.rdb.GeoRadius(ctx, geoSetKey, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		logger.Warn("地理索引查询失败，降级为空结果", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(locs))
	for _, loc := range locs {
		out = append(out, loc.Name)
	}
	return out
}
