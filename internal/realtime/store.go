package realtime

import (
	"context"
	"encoding/json"
	"time"

	"HibiscusSOS/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// Store 基于 Redis 的实时镜像存储。
// 镜像条目带 TTL：存活单子 24 小时，关闭后缩短到 1 小时。
// 客户端实例通过构造函数注入，测试时可替换为 miniredis
type Store struct {
	rdb       *redis.Client
	stateTTL  time.Duration
	closedTTL time.Duration
}

func NewStore(rdb *redis.Client, stateTTL, closedTTL time.Duration) *Store {
	if stateTTL <= 0 {
		stateTTL = 24 * time.Hour
	}
	if closedTTL <= 0 {
		closedTTL = time.Hour
	}
	return &Store{rdb: rdb, stateTTL: stateTTL, closedTTL: closedTTL}
}

// SaveState 写入/刷新镜像条目并重置存活 TTL
func (s *Store) SaveState(ctx context.Context, st *State) error {
	st.LastUpdated = time.Now()
	raw, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "序列化镜像条目失败")
	}
	if err := s.rdb.Set(ctx, stateKey(st.CaseID), raw, s.stateTTL).Err(); err != nil {
		return errors.UpstreamUnavailable("写入镜像失败: %v", err)
	}
	return nil
}

// GetState 读取镜像条目，未命中返回 (nil, nil) 由上层决定是否回源
func (s *Store) GetState(ctx context.Context, caseID string) (*State, error) {
	raw, err := s.rdb.Get(ctx, stateKey(caseID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.UpstreamUnavailable("读取镜像失败: %v", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, errors.Wrap(err, "镜像条目解析失败")
	}
	return &st, nil
}

// MarkClosed 关闭镜像：保留条目但缩短 TTL，便于关闭后的短时查询
func (s *Store) MarkClosed(ctx context.Context, st *State) error {
	st.LastUpdated = time.Now()
	raw, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "序列化镜像条目失败")
	}
	if err := s.rdb.Set(ctx, stateKey(st.CaseID), raw, s.closedTTL).Err(); err != nil {
		return errors.UpstreamUnavailable("写入镜像失败: %v", err)
	}
	return nil
}

// SaveRescuerSample 记录救援者最近位置，TTL 与镜像一致
func (s *Store) SaveRescuerSample(ctx context.Context, sample *RescuerSample) error {
	sample.UpdatedAt = time.Now()
	raw, err := json.Marshal(sample)
	if err != nil {
		return errors.Wrap(err, "序列化救援者样本失败")
	}
	key := rescuerKey(sample.RescuerID, sample.CaseID)
	if err := s.rdb.Set(ctx, key, raw, s.stateTTL).Err(); err != nil {
		return errors.UpstreamUnavailable("写入救援者样本失败: %v", err)
	}
	return nil
}

// GetRescuerSample 读取救援者最近位置，未命中返回 (nil, nil)
func (s *Store) GetRescuerSample(ctx context.Context, rescuerID, caseID string) (*RescuerSample, error) {
	raw, err := s.rdb.Get(ctx, rescuerKey(rescuerID, caseID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.UpstreamUnavailable("读取救援者样本失败: %v", err)
	}
	var sample RescuerSample
	if err := json.Unmarshal(raw, &sample); err != nil {
		return nil, errors.Wrap(err, "救援者样本解析失败")
	}
	return &sample, nil
}

// Presence 在线会话信息
type Presence struct {
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// SetPresence 标记用户在线
func (s *Store) SetPresence(ctx context.Context, p *Presence, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "序列化在线状态失败")
	}
	if err := s.rdb.Set(ctx, presenceKey(p.UserID), raw, ttl).Err(); err != nil {
		return errors.UpstreamUnavailable("写入在线状态失败: %v", err)
	}
	return nil
}

// ClearPresence 用户断开后清除在线标记
func (s *Store) ClearPresence(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return errors.UpstreamUnavailable("清除在线状态失败: %v", err)
	}
	return nil
}
