package syncbridge

import (
	"context"
	"fmt"
	"time"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/metrics"
	"HibiscusSOS/pkg/middleware"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// MirrorClient 持久侧写入实时镜像的客户端。
// 所有调用都是 best-effort：失败记日志、不回滚持久写入、不无限重试。
// 镜像允许落后，缓存未命中时实时侧会回源重建
type MirrorClient struct {
	cli *resty.Client
}

// NewMirrorClient 创建镜像推送客户端，超时为个位数秒级
func NewMirrorClient(baseURL, token string, timeout time.Duration) *MirrorClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	cli := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader(middleware.InternalTokenHeader, token).
		SetRetryCount(1). // 有限重试一次，之后进死信日志
		SetRetryWaitTime(200 * time.Millisecond)
	return &MirrorClient{cli: cli}
}

// PushInit 创建/刷新镜像条目
func (m *MirrorClient) PushInit(ctx context.Context, c *models.SOSCase) {
	body := map[string]interface{}{
		"caseId":      c.ID,
		"requesterId": c.RequesterID,
		"address":     c.Address,
		"type":        c.Type,
	}
	if c.HasLocation() {
		body["location"] = map[string]float64{"latitude": *c.Latitude, "longitude": *c.Longitude}
	}
	m.fire(ctx, "push_init", func() (*resty.Response, error) {
		return m.cli.R().SetContext(ctx).SetBody(body).Post("/sos/init")
	})
}

// PushStatus 推送一次已被持久侧接受的状态转移
func (m *MirrorClient) PushStatus(ctx context.Context, caseID string, oldStatus, newStatus models.SOSStatus, updatedBy string) {
	m.fire(ctx, "push_status", func() (*resty.Response, error) {
		return m.cli.R().SetContext(ctx).SetBody(map[string]string{
			"status":    string(newStatus),
			"oldStatus": string(oldStatus),
			"updatedBy": updatedBy,
		}).Post(fmt.Sprintf("/sos/%s/status", caseID))
	})
}

// PushClose 标记镜像关闭：缩短 TTL 并移出地理索引
func (m *MirrorClient) PushClose(ctx context.Context, caseID, closedBy string) {
	m.fire(ctx, "push_close", func() (*resty.Response, error) {
		return m.cli.R().SetContext(ctx).SetBody(map[string]string{
			"closedBy": closedBy,
		}).Post(fmt.Sprintf("/sos/%s/close", caseID))
	})
}

// PushType 推送分类标签
func (m *MirrorClient) PushType(ctx context.Context, caseID, tag string) {
	m.fire(ctx, "push_type", func() (*resty.Response, error) {
		return m.cli.R().SetContext(ctx).SetBody(map[string]string{
			"type": tag,
		}).Patch(fmt.Sprintf("/sos/%s/type", caseID))
	})
}

// PushLocation 推送位置快照，保持镜像坐标新鲜
func (m *MirrorClient) PushLocation(ctx context.Context, caseID string, lat, lon float64) {
	m.fire(ctx, "push_location", func() (*resty.Response, error) {
		return m.cli.R().SetContext(ctx).SetBody(map[string]float64{
			"latitude":  lat,
			"longitude": lon,
		}).Post(fmt.Sprintf("/sos/%s/mirror-location", caseID))
	})
}

// PushRoomMessage 请求实时侧向房间投递一条系统消息（指派后的聊天提示等）
func (m *MirrorClient) PushRoomMessage(ctx context.Context, caseID, event string, payload interface{}) {
	m.fire(ctx, "push_room_message", func() (*resty.Response, error) {
		return m.cli.R().SetContext(ctx).SetBody(map[string]interface{}{
			"event":   event,
			"payload": payload,
		}).Post(fmt.Sprintf("/sos/%s/broadcast", caseID))
	})
}

// fire 执行 best-effort 推送；重试耗尽后写死信日志并放弃
func (m *MirrorClient) fire(ctx context.Context, op string, do func() (*resty.Response, error)) {
	resp, err := do()
	if err != nil {
		metrics.MirrorPushes.WithLabelValues("error").Inc()
		logger.Warn("镜像推送失败，已写死信日志",
			zap.String("op", op),
			zap.Error(err))
		return
	}
	if resp.IsError() {
		metrics.MirrorPushes.WithLabelValues("http_error").Inc()
		logger.Warn("镜像推送被拒绝，已写死信日志",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return
	}
	metrics.MirrorPushes.WithLabelValues("ok").Inc()
}
