package realtime

import (
	"net/http"
	"strings"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/internal/syncbridge"
	"HibiscusSOS/pkg/middleware"
	"HibiscusSOS/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// toStatus 边界处统一大写词汇，容忍老客户端的小写状态串
func toStatus(s string) models.SOSStatus {
	return models.SOSStatus(strings.ToUpper(s))
}

// Handler 实时网关 HTTP 接口
type Handler struct {
	svc   *Service
	cases *syncbridge.CaseClient
	rdb   *redis.Client
}

func NewHandler(svc *Service, cases *syncbridge.CaseClient, rdb *redis.Client) *Handler {
	return &Handler{svc: svc, cases: cases, rdb: rdb}
}

// Register 注册路由，业务路由要求内部令牌
func (h *Handler) Register(engine *gin.Engine, internalToken string) {
	engine.GET("/health", h.HealthCheck)

	r := engine.Group("/", middleware.InternalAuth(internalToken))
	r.POST("/sos/init", h.InitMirror)
	r.GET("/sos/nearby", h.Nearby)
	r.GET("/sos/:caseId/state", h.GetState)
	r.POST("/sos/:caseId/status", h.ApplyStatus)
	r.POST("/sos/:caseId/close", h.ApplyClose)
	r.PATCH("/sos/:caseId/type", h.ApplyType)
	r.POST("/sos/:caseId/mirror-location", h.ApplyLocation)
	r.POST("/sos/:caseId/location", h.ReportLocation)
	r.POST("/sos/:caseId/rescuer-location", h.ReportRescuerLocation)
	r.GET("/sos/:caseId/rescuer-location", h.GetRescuerLocation)
	r.POST("/sos/:caseId/broadcast", h.BroadcastRoom)
	r.POST("/dispatch/assign", middleware.Idempotency(), h.Assign)
}

// InitMirror 创建/刷新镜像条目
func (h *Handler) InitMirror(c *gin.Context) {
	var req struct {
		CaseID      string  `json:"caseId" binding:"required"`
		RequesterID *string `json:"requesterId"`
		Location    *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
		Address string `json:"address"`
		Type    string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	in := InitMirrorRequest{
		CaseID:      req.CaseID,
		RequesterID: req.RequesterID,
		Address:     req.Address,
		Type:        req.Type,
	}
	if req.Location != nil {
		in.Latitude = &req.Location.Latitude
		in.Longitude = &req.Location.Longitude
	}

	st, err := h.svc.ApplyInit(c.Request.Context(), in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "镜像已创建", st)
}

// ApplyStatus 镜像状态变更
func (h *Handler) ApplyStatus(c *gin.Context) {
	var req struct {
		Status    string `json:"status" binding:"required"`
		OldStatus string `json:"oldStatus"`
		UpdatedBy string `json:"updatedBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	st, err := h.svc.ApplyStatus(c.Request.Context(), c.Param("caseId"),
		toStatus(req.Status), toStatus(req.OldStatus), req.UpdatedBy)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "状态已镜像", st)
}

// ApplyClose 关闭镜像
func (h *Handler) ApplyClose(c *gin.Context) {
	var req struct {
		ClosedBy string `json:"closedBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	if err := h.svc.ApplyClose(c.Request.Context(), c.Param("caseId"), req.ClosedBy); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "镜像已关闭", nil)
}

// ApplyType 镜像标签变更
func (h *Handler) ApplyType(c *gin.Context) {
	var req struct {
		Type string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	st, err := h.svc.ApplyType(c.Request.Context(), c.Param("caseId"), req.Type)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "标签已镜像", st)
}

// ApplyLocation 镜像坐标刷新（持久侧推送）。
// 坐标用指针绑定：0 是合法经纬度，不能被 required 当缺省值拒掉
func (h *Handler) ApplyLocation(c *gin.Context) {
	var req struct {
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	st, err := h.svc.ApplyLocation(c.Request.Context(), c.Param("caseId"), *req.Latitude, *req.Longitude)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "位置已镜像", st)
}

// GetState 查询镜像（未命中时回源重建）
func (h *Handler) GetState(c *gin.Context) {
	st, err := h.svc.GetState(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "ok", st)
}

// Nearby 近邻查询
func (h *Handler) Nearby(c *gin.Context) {
	var req struct {
		Latitude  *float64 `form:"latitude" binding:"required"`
		Longitude *float64 `form:"longitude" binding:"required"`
		Radius    float64  `form:"radius"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Fail(c, "无效的查询参数: "+err.Error(), nil)
		return
	}
	if req.Radius <= 0 {
		req.Radius = 10 // 默认10公里
	}

	results, err := h.svc.Nearby(c.Request.Context(), *req.Latitude, *req.Longitude, req.Radius)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "ok", results)
}

// ReportLocation 求救者位置上报（采样策略在本侧把关）
func (h *Handler) ReportLocation(c *gin.Context) {
	var req struct {
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	st, err := h.svc.ReportCaseLocation(c.Request.Context(), c.Param("caseId"), *req.Latitude, *req.Longitude, req.Accuracy)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "位置已更新", st)
}

// ReportRescuerLocation 救援者位置上报，返回到达判定结果
func (h *Handler) ReportRescuerLocation(c *gin.Context) {
	var req struct {
		RescuerID string   `json:"rescuerId" binding:"required"`
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	arrived, err := h.svc.ReportRescuerLocation(c.Request.Context(), c.Param("caseId"), req.RescuerID, *req.Latitude, *req.Longitude, req.Accuracy)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "位置已更新", gin.H{"rescuerArrived": arrived})
}

// GetRescuerLocation 查询救援者最近位置样本
func (h *Handler) GetRescuerLocation(c *gin.Context) {
	rescuerID := c.Query("rescuerId")
	if rescuerID == "" {
		response.Fail(c, "rescuerId不能为空", nil)
		return
	}

	sample, err := h.svc.GetRescuerLocation(c.Request.Context(), c.Param("caseId"), rescuerID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if sample == nil {
		c.JSON(http.StatusNotFound, response.Body{Code: 1, Message: "暂无位置样本"})
		return
	}
	response.Success(c, "ok", sample)
}

// BroadcastRoom 向求救单房间投递一条系统消息
func (h *Handler) BroadcastRoom(c *gin.Context) {
	var req struct {
		Event   string      `json:"event" binding:"required"`
		Payload interface{} `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	h.svc.BroadcastRoom(c.Param("caseId"), req.Event, req.Payload)
	response.Success(c, "已投递", nil)
}

// Assign 代理派遣指派到持久侧
func (h *Handler) Assign(c *gin.Context) {
	var req struct {
		CaseID    string `json:"caseId" binding:"required"`
		RescuerID string `json:"rescuerId" binding:"required"`
		Station   string `json:"station"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	updated, err := h.cases.Assign(c.Request.Context(), req.CaseID, req.RescuerID, req.Station)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "已指派", updated)
}

// HealthCheck 健康检查接口
func (h *Handler) HealthCheck(c *gin.Context) {
	if err := h.rdb.Ping(c.Request.Context()).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "redis ping failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
