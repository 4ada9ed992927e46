package realtime

import (
	"sync"
	"time"

	"HibiscusSOS/pkg/geo"
	"HibiscusSOS/pkg/util"
)

const samplerShards = 32

// Sampler 位置采样策略：把每个主体的高频位置流收敛成低频持久化轨迹。
// 按主体分片加锁，不相关主体互不阻塞。
// 判定与记录是一对配套动作：ShouldSave 纯判定，持久化发出后必须调用一次 RecordSave
type Sampler struct {
	minInterval time.Duration
	minDistance float64 // 米

	shards [samplerShards]samplerShard
}

type samplerShard struct {
	mu      sync.Mutex
	cursors map[string]*sampleCursor
}

type sampleCursor struct {
	lat, lon float64
	savedAt  time.Time
}

func NewSampler(minInterval time.Duration, minDistanceM float64) *Sampler {
	if minInterval <= 0 {
		minInterval = 15 * time.Second
	}
	if minDistanceM <= 0 {
		minDistanceM = 50
	}
	s := &Sampler{minInterval: minInterval, minDistance: minDistanceM}
	for i := range s.shards {
		s.shards[i].cursors = make(map[string]*sampleCursor)
	}
	return s
}

func (s *Sampler) shard(subjectID string) *samplerShard {
	return &s.shards[util.ShardIndex(subjectID, samplerShards)]
}

// ShouldSave 该位置更新是否值得持久化：
// 首个样本、超过时间阈值、或离上次保存点超过距离阈值，任一满足即为真
func (s *Sampler) ShouldSave(subjectID string, lat, lon float64, now time.Time) bool {
	sh := s.shard(subjectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.cursors[subjectID]
	if !ok {
		return true
	}
	if now.Sub(cur.savedAt) > s.minInterval {
		return true
	}
	return geo.DistanceMeters(lat, lon, cur.lat, cur.lon) > s.minDistance
}

// RecordSave 推进"上次保存"游标，每次被接受的持久化后恰好调用一次
func (s *Sampler) RecordSave(subjectID string, lat, lon float64, now time.Time) {
	sh := s.shard(subjectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.cursors[subjectID] = &sampleCursor{lat: lat, lon: lon, savedAt: now}
}

// Cleanup 主体对应的单子关闭后丢弃游标，防止表无限增长
func (s *Sampler) Cleanup(subjectID string) {
	sh := s.shard(subjectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.cursors, subjectID)
}

// SweepOlderThan 定时任务兜底：清理长时间没有更新的游标
func (s *Sampler) SweepOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, cur := range sh.cursors {
			if cur.savedAt.Before(cutoff) {
				delete(sh.cursors, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
