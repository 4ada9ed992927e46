package sos

import (
	"net/http"

	"HibiscusSOS/pkg/middleware"
	"HibiscusSOS/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 持久侧 HTTP 接口
type Handler struct {
	svc *Service
	db  *gorm.DB
}

func NewHandler(svc *Service, db *gorm.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

// Register 注册路由，所有业务路由都要求内部令牌
func (h *Handler) Register(engine *gin.Engine, internalToken string) {
	engine.GET("/health", h.HealthCheck)

	r := engine.Group("/", middleware.InternalAuth(internalToken))
	r.POST("/sos", h.CreateCase)
	r.GET("/sos/:caseId", h.GetCase)
	r.POST("/sos/:caseId/cancel", h.Cancel)
	r.POST("/sos/:caseId/close", h.Close)
	r.PATCH("/sos/:caseId/type", h.Tag)
	r.POST("/sos/:caseId/location", h.SaveLocation)
	r.POST("/sos/:caseId/proximity", h.EvaluateProximity)
	r.POST("/sos/:caseId/responder-left", h.ResponderLeft)
	r.POST("/sos/:caseId/responder-rejected", h.ResponderRejected)
	r.POST("/sos/:caseId/participants/join", h.JoinChannel)
	r.POST("/sos/:caseId/participants/leave", h.LeaveChannel)
	r.POST("/dispatch/assign", middleware.Idempotency(), h.Assign)
}

// CreateCase 创建求救单
func (h *Handler) CreateCase(c *gin.Context) {
	var req struct {
		City        string   `json:"city" binding:"required"`
		RequesterID *string  `json:"requesterId"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		Address     string   `json:"address"`
		Message     string   `json:"message"`
		Type        string   `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	created, err := h.svc.Create(c.Request.Context(), CreateCaseRequest{
		City:        req.City,
		RequesterID: req.RequesterID,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Address:     req.Address,
		Message:     req.Message,
		Type:        req.Type,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "求救单已创建", created)
}

// GetCase 查询权威记录
func (h *Handler) GetCase(c *gin.Context) {
	found, err := h.svc.Get(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "ok", found)
}

// Assign 派遣指派
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

	updated, err := h.svc.AssignResponder(c.Request.Context(), req.CaseID, req.RescuerID, req.Station)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "已指派", updated)
}

// Cancel 求救者撤销
func (h *Handler) Cancel(c *gin.Context) {
	var req struct {
		RequesterID string `json:"requesterId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	updated, err := h.svc.Cancel(c.Request.Context(), c.Param("caseId"), req.RequesterID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "已撤销", updated)
}

// Close 管理性结案
func (h *Handler) Close(c *gin.Context) {
	var req struct {
		Note     string `json:"note"`
		ClosedBy string `json:"closedBy" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	updated, err := h.svc.Close(c.Request.Context(), c.Param("caseId"), req.Note, req.ClosedBy)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "已结案", updated)
}

// Tag 更新分类标签
func (h *Handler) Tag(c *gin.Context) {
	var req struct {
		Type string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	updated, err := h.svc.Tag(c.Request.Context(), c.Param("caseId"), req.Type)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "标签已更新", updated)
}

// SaveLocation 持久化位置快照（采样策略在实时侧把关）。
// 坐标用指针绑定，0 是合法经纬度
func (h *Handler) SaveLocation(c *gin.Context) {
	var req struct {
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	if err := h.svc.SaveLocation(c.Request.Context(), c.Param("caseId"), *req.Latitude, *req.Longitude); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "位置已保存", nil)
}

// EvaluateProximity 到达判定（只由实时侧的位置上报路径调用）
func (h *Handler) EvaluateProximity(c *gin.Context) {
	var req struct {
		RescuerID string   `json:"rescuerId" binding:"required"`
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	arrived, err := h.svc.EvaluateRescuerProximity(c.Request.Context(), c.Param("caseId"), req.RescuerID, *req.Latitude, *req.Longitude)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "ok", gin.H{"arrived": arrived})
}

// ResponderLeft 救援者退出
func (h *Handler) ResponderLeft(c *gin.Context) {
	var req struct {
		ResponderID string `json:"responderId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	updated, err := h.svc.MarkResponderLeft(c.Request.Context(), c.Param("caseId"), req.ResponderID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "已退出", updated)
}

// ResponderRejected 救援者拒绝指派
func (h *Handler) ResponderRejected(c *gin.Context) {
	var req struct {
		ResponderID string `json:"responderId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	updated, err := h.svc.MarkResponderRejected(c.Request.Context(), c.Param("caseId"), req.ResponderID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "已拒绝", updated)
}

// JoinChannel 写入在场记录
func (h *Handler) JoinChannel(c *gin.Context) {
	var req struct {
		ActorID string `json:"actorId" binding:"required"`
		Role    string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	p, err := h.svc.JoinChannel(c.Request.Context(), c.Param("caseId"), req.ActorID, req.Role)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "已加入频道", p)
}

// LeaveChannel 结束在场记录
func (h *Handler) LeaveChannel(c *gin.Context) {
	var req struct {
		ActorID string `json:"actorId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求数据: "+err.Error(), nil)
		return
	}

	if err := h.svc.LeaveChannel(c.Request.Context(), c.Param("caseId"), req.ActorID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, "已离开频道", nil)
}

// HealthCheck 健康检查接口
func (h *Handler) HealthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
