package syncbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/middleware"

	"github.com/go-resty/resty/v2"
)

// CaseClient 实时侧回源持久服务的客户端。
// 与镜像推送不同，这里的调用在请求路径上，必须区分"单子不存在"和"上游不可用"：
// 前者按 404 透出，后者按 503 降级
type CaseClient struct {
	cli *resty.Client
}

func NewCaseClient(baseURL, token string, timeout time.Duration) *CaseClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	cli := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader(middleware.InternalTokenHeader, token)
	return &CaseClient{cli: cli}
}

// envelope 持久服务统一响应体
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FetchCase 拉取权威记录，用于缓存未命中的回源重建
func (c *CaseClient) FetchCase(ctx context.Context, caseID string) (*models.SOSCase, error) {
	resp, err := c.cli.R().SetContext(ctx).Get(fmt.Sprintf("/sos/%s", caseID))
	if err != nil {
		return nil, errors.UpstreamUnavailable("持久服务不可达: %v", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, errors.NotFound("求救单不存在: %s", caseID)
	}
	if resp.IsError() {
		return nil, errors.UpstreamUnavailable("持久服务返回 %d", resp.StatusCode())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, errors.UpstreamUnavailable("持久服务响应解析失败: %v", err)
	}
	var out models.SOSCase
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, errors.UpstreamUnavailable("权威记录解析失败: %v", err)
	}
	return &out, nil
}

// Assign 代理派遣指派到持久侧的指派转移
func (c *CaseClient) Assign(ctx context.Context, caseID, rescuerID, station string) (*models.SOSCase, error) {
	resp, err := c.cli.R().SetContext(ctx).SetBody(map[string]string{
		"caseId":    caseID,
		"rescuerId": rescuerID,
		"station":   station,
	}).Post("/dispatch/assign")
	if err != nil {
		return nil, errors.UpstreamUnavailable("持久服务不可达: %v", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, errors.NotFound("求救单不存在: %s", caseID)
	}
	if resp.StatusCode() == http.StatusUnprocessableEntity {
		return nil, errors.InvalidTransition("当前状态不允许指派")
	}
	if resp.IsError() {
		return nil, errors.UpstreamUnavailable("指派失败，状态码 %d", resp.StatusCode())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, errors.UpstreamUnavailable("持久服务响应解析失败: %v", err)
	}
	var out models.SOSCase
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, errors.UpstreamUnavailable("权威记录解析失败: %v", err)
	}
	return &out, nil
}

// SaveLocation 把通过采样策略的位置快照写回持久侧
func (c *CaseClient) SaveLocation(ctx context.Context, caseID string, lat, lon, accuracy float64) error {
	resp, err := c.cli.R().SetContext(ctx).SetBody(map[string]float64{
		"latitude":  lat,
		"longitude": lon,
		"accuracy":  accuracy,
	}).Post(fmt.Sprintf("/sos/%s/location", caseID))
	if err != nil {
		return errors.UpstreamUnavailable("持久服务不可达: %v", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return errors.NotFound("求救单不存在: %s", caseID)
	}
	if resp.IsError() {
		return errors.UpstreamUnavailable("持久化位置失败，状态码 %d", resp.StatusCode())
	}
	return nil
}

// JoinParticipant 把套接字入房落成持久侧的在场记录
func (c *CaseClient) JoinParticipant(ctx context.Context, caseID, actorID, role string) error {
	resp, err := c.cli.R().SetContext(ctx).SetBody(map[string]string{
		"actorId": actorID,
		"role":    role,
	}).Post(fmt.Sprintf("/sos/%s/participants/join", caseID))
	if err != nil {
		return errors.UpstreamUnavailable("持久服务不可达: %v", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return errors.NotFound("求救单不存在: %s", caseID)
	}
	if resp.IsError() {
		return errors.UpstreamUnavailable("在场记录写入失败，状态码 %d", resp.StatusCode())
	}
	return nil
}

// LeaveParticipant 结束在场记录
func (c *CaseClient) LeaveParticipant(ctx context.Context, caseID, actorID string) error {
	resp, err := c.cli.R().SetContext(ctx).SetBody(map[string]string{
		"actorId": actorID,
	}).Post(fmt.Sprintf("/sos/%s/participants/leave", caseID))
	if err != nil {
		return errors.UpstreamUnavailable("持久服务不可达: %v", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return errors.NotFound("求救单不存在: %s", caseID)
	}
	if resp.IsError() {
		return errors.UpstreamUnavailable("在场记录更新失败，状态码 %d", resp.StatusCode())
	}
	return nil
}

// EvaluateProximity 请求权威到达判定。
// 到达与否只由持久侧决定，实时侧的粗过滤不产生任何状态
func (c *CaseClient) EvaluateProximity(ctx context.Context, caseID, rescuerID string, lat, lon float64) (bool, error) {
	resp, err := c.cli.R().SetContext(ctx).SetBody(map[string]interface{}{
		"rescuerId": rescuerID,
		"latitude":  lat,
		"longitude": lon,
	}).Post(fmt.Sprintf("/sos/%s/proximity", caseID))
	if err != nil {
		return false, errors.UpstreamUnavailable("持久服务不可达: %v", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, errors.NotFound("求救单不存在: %s", caseID)
	}
	if resp.IsError() {
		return false, errors.UpstreamUnavailable("到达判定失败，状态码 %d", resp.StatusCode())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return false, errors.UpstreamUnavailable("持久服务响应解析失败: %v", err)
	}
	var out struct {
		Arrived bool `json:"arrived"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return false, errors.UpstreamUnavailable("判定结果解析失败: %v", err)
	}
	return out.Arrived, nil
}
