package realtime

import (
	"context"
	"sort"
	"time"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/internal/syncbridge"
	"HibiscusSOS/pkg/cache"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/geo"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/metrics"
	ws "HibiscusSOS/pkg/websocket"

	"go.uber.org/zap"
)

// Broadcaster 把事件扇出到某个求救单房间的全部连接
type Broadcaster interface {
	Broadcast(caseID, event string, payload interface{})
}

// noopBroadcaster 测试与无网关场景下的空实现
type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, string, interface{}) {}

// Service 实时侧状态机：纯镜像，只记录持久侧已接受的转移，从不独立校验。
// 每次镜像变更随即向对应房间广播
type Service struct {
	store      *Store
	geoIndex   *GeoIndex
	sampler    *Sampler
	cases      *syncbridge.CaseClient
	broadcast  Broadcaster
	prefilterM float64 // 到达粗过滤半径（米），只决定是否请求权威判定

	// 回源未命中负缓存，避免反复请求已确认不存在的单子
	negCache    cache.Cache
	negCacheTTL time.Duration
}

// UseNegativeCache 安装回源负缓存
func (s *Service) UseNegativeCache(c cache.Cache, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	s.negCache = c
	s.negCacheTTL = ttl
}

func NewService(store *Store, geoIndex *GeoIndex, sampler *Sampler, cases *syncbridge.CaseClient, b Broadcaster, prefilterM float64) *Service {
	if b == nil {
		b = noopBroadcaster{}
	}
	if prefilterM <= 0 {
		prefilterM = 100
	}
	return &Service{
		store:      store,
		geoIndex:   geoIndex,
		sampler:    sampler,
		cases:      cases,
		broadcast:  b,
		prefilterM: prefilterM,
	}
}

// InitMirrorRequest 镜像初始化入参
type InitMirrorRequest struct {
	CaseID      string
	RequesterID *string
	Latitude    *float64
	Longitude   *float64
	Address     string
	Type        string
}

// ApplyInit 创建/刷新镜像条目并入地理索引
func (s *Service) ApplyInit(ctx context.Context, req InitMirrorRequest) (*State, error) {
	st := &State{
		CaseID:      req.CaseID,
		RequesterID: req.RequesterID,
		Status:      models.StatusActive,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Address:     req.Address,
		Type:        req.Type,
	}
	if err := s.store.SaveState(ctx, st); err != nil {
		return nil, err
	}
	s.indexIfEligible(ctx, st)

	s.broadcast.Broadcast(st.CaseID, ws.EventSOSInit, st)
	return st, nil
}

// ApplyStatus 镜像一次持久侧已接受的状态变更并广播。
// 这里不查转移表：合法性已由持久侧裁决，镜像只负责如实记录
func (s *Service) ApplyStatus(ctx context.Context, caseID string, newStatus models.SOSStatus, oldStatus models.SOSStatus, updatedBy string) (*State, error) {
	st, err := s.loadOrRebuild(ctx, caseID)
	if err != nil {
		return nil, err
	}

	st.Status = newStatus
	if newStatus.Terminal() {
		if err := s.closeState(ctx, st); err != nil {
			return nil, err
		}
	} else {
		if err := s.store.SaveState(ctx, st); err != nil {
			return nil, err
		}
		s.indexIfEligible(ctx, st)
	}

	s.broadcast.Broadcast(caseID, ws.EventSOSStatusBroadcast, map[string]interface{}{
		"caseId":    caseID,
		"status":    newStatus,
		"oldStatus": oldStatus,
		"updatedBy": updatedBy,
	})
	return st, nil
}

// ApplyClose 关闭镜像：缩短 TTL、移出地理索引、清理采样游标
func (s *Service) ApplyClose(ctx context.Context, caseID, closedBy string) error {
	st, err := s.store.GetState(ctx, caseID)
	if err != nil {
		return err
	}
	if st == nil {
		// 镜像已过期，只需保证索引与游标干净
		st = &State{CaseID: caseID, Status: models.StatusResolved}
	}
	if !st.Status.Terminal() {
		st.Status = models.StatusResolved
	}
	if err := s.closeState(ctx, st); err != nil {
		return err
	}

	s.broadcast.Broadcast(caseID, ws.EventSOSClose, map[string]string{
		"caseId":   caseID,
		"closedBy": closedBy,
	})
	return nil
}

// ApplyType 镜像分类标签变更
func (s *Service) ApplyType(ctx context.Context, caseID, tag string) (*State, error) {
	st, err := s.loadOrRebuild(ctx, caseID)
	if err != nil {
		return nil, err
	}
	st.Type = tag
	if err := s.store.SaveState(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ApplyLocation 镜像坐标刷新（持久侧直接收到位置时推过来）
func (s *Service) ApplyLocation(ctx context.Context, caseID string, lat, lon float64) (*State, error) {
	st, err := s.loadOrRebuild(ctx, caseID)
	if err != nil {
		return nil, err
	}
	st.Latitude = &lat
	st.Longitude = &lon
	if err := s.store.SaveState(ctx, st); err != nil {
		return nil, err
	}
	s.indexIfEligible(ctx, st)
	return st, nil
}

// GetState 查询镜像，未命中时回源重建一次
func (s *Service) GetState(ctx context.Context, caseID string) (*State, error) {
	return s.loadOrRebuild(ctx, caseID)
}

// Nearby 近邻查询：地理索引召回后按存活状态过滤，
// 距离用本地球面距离重算保证排序精确
func (s *Service) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]NearbyCase, error) {
	ids := s.geoIndex.SearchNearby(ctx, lon, lat, radiusKm)
	out := make([]NearbyCase, 0, len(ids))
	for _, id := range ids {
		st, err := s.store.GetState(ctx, id)
		if err != nil || st == nil {
			continue // 索引残留条目，跳过
		}
		if !st.Status.Live() || !st.HasLocation() {
			continue
		}
		out = append(out, NearbyCase{
			State:      st,
			DistanceKm: geo.DistanceKm(lat, lon, *st.Latitude, *st.Longitude),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

// ReportCaseLocation 求救者位置上报：镜像与广播保证实时新鲜度，
// 采样策略单独决定是否写回持久轨迹（广播节流与持久采样是两个独立旋钮）
func (s *Service) ReportCaseLocation(ctx context.Context, caseID string, lat, lon, accuracy float64) (*State, error) {
	st, err := s.ApplyLocation(ctx, caseID, lat, lon)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if s.sampler.ShouldSave(caseID, lat, lon, now) {
		if err := s.cases.SaveLocation(ctx, caseID, lat, lon, accuracy); err != nil {
			// 持久化失败不影响实时路径
			logger.Warn("位置快照写回失败", zap.String("case_id", caseID), zap.Error(err))
		} else {
			s.sampler.RecordSave(caseID, lat, lon, now)
			metrics.LocationSamplesSaved.Inc()
		}
	} else {
		metrics.LocationSamplesSkipped.Inc()
	}

	s.broadcast.Broadcast(caseID, ws.EventLocationBroadcast, map[string]interface{}{
		"caseId":    caseID,
		"latitude":  lat,
		"longitude": lon,
		"accuracy":  accuracy,
	})
	return st, nil
}

// ReportRescuerLocation 救援者位置上报。
// 粗过滤半径内才请求持久侧做权威到达判定；粗过滤本身不产生任何状态
func (s *Service) ReportRescuerLocation(ctx context.Context, caseID, rescuerID string, lat, lon, accuracy float64) (bool, error) {
	sample := &RescuerSample{
		RescuerID: rescuerID,
		CaseID:    caseID,
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  accuracy,
	}

	arrived := false
	st, err := s.loadOrRebuild(ctx, caseID)
	if err == nil && st.Status == models.StatusEnRoute && st.HasLocation() {
		d := geo.DistanceMeters(lat, lon, *st.Latitude, *st.Longitude)
		if d < s.prefilterM {
			arrived, err = s.cases.EvaluateProximity(ctx, caseID, rescuerID, lat, lon)
			if err != nil {
				// 判定失败按"未到达"处理，下一个位置点会再试
				logger.Warn("到达判定失败", zap.String("case_id", caseID), zap.Error(err))
				arrived, err = false, nil
			}
		}
	}
	sample.Arrived = arrived

	if err := s.store.SaveRescuerSample(ctx, sample); err != nil {
		return arrived, err
	}
	s.broadcast.Broadcast(caseID, ws.EventRescuerLocationBroadcast, sample)
	return arrived, nil
}

// GetRescuerLocation 查询救援者最近一次位置样本
func (s *Service) GetRescuerLocation(ctx context.Context, caseID, rescuerID string) (*RescuerSample, error) {
	return s.store.GetRescuerSample(ctx, rescuerID, caseID)
}

// BroadcastRoom 持久侧反应链请求的房间投递（指派提示等系统消息）
func (s *Service) BroadcastRoom(caseID, event string, payload interface{}) {
	s.broadcast.Broadcast(caseID, event, payload)
}

// loadOrRebuild 镜像未命中时回源重建，这是唯一凭空产生镜像条目的路径
func (s *Service) loadOrRebuild(ctx context.Context, caseID string) (*State, error) {
	st, err := s.store.GetState(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if st != nil {
		return st, nil
	}

	if s.negCache != nil && s.negCache.Exists(ctx, caseID) {
		return nil, errors.NotFound("求救单不存在: %s", caseID)
	}

	c, err := s.cases.FetchCase(ctx, caseID)
	if err != nil {
		if s.negCache != nil && errors.IsCode(err, errors.CodeNotFound) {
			_ = s.negCache.Set(ctx, caseID, true, s.negCacheTTL)
		}
		metrics.MirrorRebuilds.WithLabelValues("error").Inc()
		return nil, err
	}
	st = &State{
		CaseID:      c.ID,
		RequesterID: c.RequesterID,
		Status:      c.Status,
		Latitude:    c.Latitude,
		Longitude:   c.Longitude,
		Address:     c.Address,
		Type:        c.Type,
	}
	if st.Status.Terminal() {
		if err := s.store.MarkClosed(ctx, st); err != nil {
			return nil, err
		}
	} else {
		if err := s.store.SaveState(ctx, st); err != nil {
			return nil, err
		}
		s.indexIfEligible(ctx, st)
	}
	metrics.MirrorRebuilds.WithLabelValues("ok").Inc()
	logger.Info("镜像已回源重建", zap.String("case_id", caseID), zap.String("status", string(st.Status)))
	return st, nil
}

// indexIfEligible 存活且带坐标的镜像才进地理索引
func (s *Service) indexIfEligible(ctx context.Context, st *State) {
	if !st.Status.Live() || !st.HasLocation() {
		return
	}
	if err := s.geoIndex.Upsert(ctx, st.CaseID, *st.Longitude, *st.Latitude); err != nil {
		logger.Warn("地理索引写入失败", zap.String("case_id", st.CaseID), zap.Error(err))
	}
}

// closeState 关闭镜像的公共收尾：短 TTL、出索引、清采样游标
func (s *Service) closeState(ctx context.Context, st *State) error {
	if err := s.store.MarkClosed(ctx, st); err != nil {
		return err
	}
	if err := s.geoIndex.Remove(ctx, st.CaseID); err != nil {
		logger.Warn("地理索引移除失败", zap.String("case_id", st.CaseID), zap.Error(err))
	}
	s.sampler.Cleanup(st.CaseID)
	return nil
}
