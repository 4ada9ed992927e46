package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler 连接握手与运维接口
type Handler struct {
	hub    *Hub
	secret string
}

func NewHandler(hub *Hub, secret string) *Handler {
	return &Handler{hub: hub, secret: secret}
}

// RegisterRoutes 统一注册路由
func RegisterRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/ws", handler.HandleWebSocket)
	r.GET("/ws/stats", handler.GetStats)
	r.GET("/ws/health", handler.HealthCheck)
}

// HandleWebSocket 握手入口：令牌校验通过才升级连接，
// 未认证的握手在处理任何事件之前就被拒绝
func (h *Handler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Sec-WebSocket-Protocol")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少握手令牌"})
		return
	}

	claims, err := VerifyToken(h.secret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "握手令牌不合法: " + err.Error()})
		return
	}

	HandleWebSocket(h.hub, c.Writer, c.Request, claims)
}

// GetStats 获取连接统计信息
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total_connections":   h.hub.GetConnectionCount(),
		"max_connections":     h.hub.config.MaxConnections,
		"heartbeat_interval":  h.hub.config.HeartbeatInterval.String(),
		"connection_timeout":  h.hub.config.ConnectionTimeout.String(),
		"message_buffer_size": h.hub.config.MessageBufferSize,
		"message_queue_size":  h.hub.config.MessageQueueSize,
		"shard_count":         h.hub.config.ShardCount,
		"broadcast_workers":   h.hub.config.BroadcastWorkerCount,
		"drop_on_full":        h.hub.config.DropOnFull,
		"location_throttle":   h.hub.config.LocationThrottle.String(),
	})
}

// GetRoomStats 获取某个求救单房间的连接统计
func (h *Handler) GetRoomStats(c *gin.Context) {
	caseID := c.Param("caseId")
	if caseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "caseId不能为空"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"case_id":          caseID,
		"connection_count": h.hub.GetRoomConnections(RoomForCase(caseID)),
	})
}

// HealthCheck 连接层健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	if h.hub.ctx.Err() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "连接中心已关闭",
		})
		return
	}

	totalConnections := h.hub.GetConnectionCount()
	maxConnections := h.hub.config.MaxConnections

	status := "healthy"
	if totalConnections >= maxConnections*9/10 {
		status = "warning"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"total_connections": totalConnections,
		"max_connections":   maxConnections,
		"timestamp":         time.Now().Unix(),
	})
}
