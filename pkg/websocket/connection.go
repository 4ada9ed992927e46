package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// newUpgrader 根据配置创建WebSocket升级器
func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			// 在生产环境中应该检查Origin
			return true
		},
		EnableCompression: cfg.EnableCompression,
	}
}

// HandleWebSocket 升级连接并接入 Hub。调用方已完成握手令牌校验
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, claims *Claims) {
	upgrader := newUpgrader(hub.config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("WebSocket升级失败: %v", err)
		return
	}

	connection := &Connection{
		ID:       generateConnectionID(),
		UserID:   claims.UserID,
		Role:     claims.Role,
		Conn:     conn,
		Send:     make(chan []byte, hub.config.MessageBufferSize),
		Hub:      hub,
		LastPing: time.Now(),
		IsAlive:  true,
		Rooms:    make(map[string]bool),
	}

	// 令牌绑定了求救单时直接入房
	if claims.CaseID != "" {
		connection.Rooms[RoomForCase(claims.CaseID)] = true
	}

	hub.register <- connection

	go connection.writePump()
	go connection.readPump()
}

// generateConnectionID 生成唯一的连接ID
func generateConnectionID() string {
	return fmt.Sprintf("conn_%d", time.Now().UnixNano())
}

// readPump 读取消息的协程
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(int64(c.Hub.config.MaxMessageSize))
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket读取错误: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump 发送消息的协程
func (c *Connection) writePump() {
	interval := c.Hub.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// 将队列中的其他消息也一起发送
			n := len(c.Send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// locationPayload 位置类上行事件的数据体
type locationPayload struct {
	CaseID    string  `json:"caseId"`
	RescuerID string  `json:"rescuerId,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// handleMessage 按事件名分发上行消息
func (c *Connection) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		logrus.Errorf("消息解析失败: %v", err)
		return
	}
	msg.From = c.UserID

	switch msg.Event {
	case EventPing:
		c.handlePing()
	case EventRoomJoin:
		c.handleRoomJoin(msg)
	case EventRoomLeave:
		c.handleRoomLeave(msg)
	case EventLocationUpdate:
		c.handleLocationUpdate(msg, false)
	case EventRescuerLocationUpdate:
		c.handleLocationUpdate(msg, true)
	case EventSOSStatusUpdate:
		c.handleStatusUpdate(msg)
	case EventMessageBroadcast:
		c.handleChat(msg)
	case EventTypingStart, EventTypingStop:
		c.handleTyping(msg)
	default:
		logrus.Warnf("未知的事件: %s", msg.Event)
	}
}

// handlePing 处理ping消息
func (c *Connection) handlePing() {
	c.mu.Lock()
	c.LastPing = time.Now()
	c.mu.Unlock()

	c.reply(Message{Event: EventPong, Timestamp: time.Now().Unix()})
}

// handleRoomJoin 订阅某个求救单的房间
func (c *Connection) handleRoomJoin(msg Message) {
	caseID, ok := msg.Data.(string)
	if !ok || caseID == "" {
		logrus.Warnf("无效的房间目标: %v", msg.Data)
		return
	}
	room := RoomForCase(caseID)

	c.mu.Lock()
	c.Rooms[room] = true
	c.mu.Unlock()

	c.Hub.mu.Lock()
	if c.Hub.roomConnections[room] == nil {
		c.Hub.roomConnections[room] = make(map[string]bool)
	}
	c.Hub.roomConnections[room][c.ID] = true
	c.Hub.mu.Unlock()

	c.Hub.BroadcastRoomExcept(room, c.ID, EventParticipantJoined, map[string]string{
		"caseId": caseID,
		"userId": c.UserID,
		"role":   c.Role,
	})
	if c.Hub.ParticipantSink != nil {
		c.Hub.ParticipantSink(caseID, c.UserID, c.Role, true)
	}
	logrus.Infof("用户 %s 加入房间 %s", c.UserID, room)
}

// handleRoomLeave 退出某个求救单的房间
func (c *Connection) handleRoomLeave(msg Message) {
	caseID, ok := msg.Data.(string)
	if !ok || caseID == "" {
		logrus.Warnf("无效的房间目标: %v", msg.Data)
		return
	}
	room := RoomForCase(caseID)

	c.mu.Lock()
	delete(c.Rooms, room)
	c.mu.Unlock()

	c.Hub.mu.Lock()
	if c.Hub.roomConnections[room] != nil {
		delete(c.Hub.roomConnections[room], c.ID)
		if len(c.Hub.roomConnections[room]) == 0 {
			delete(c.Hub.roomConnections, room)
		}
	}
	c.Hub.mu.Unlock()

	c.Hub.BroadcastRoom(room, EventParticipantLeft, map[string]string{
		"caseId": caseID,
		"userId": c.UserID,
	})
	if c.Hub.ParticipantSink != nil {
		c.Hub.ParticipantSink(caseID, c.UserID, c.Role, false)
	}
	logrus.Infof("用户 %s 离开房间 %s", c.UserID, room)
}

// handleLocationUpdate 位置上行：按连接节流后交给业务回调。
// 节流只限制这条连接的上行频率，持久化与否由采样策略另行决定
func (c *Connection) handleLocationUpdate(msg Message, rescuer bool) {
	throttle := c.Hub.config.LocationThrottle
	if throttle > 0 {
		c.mu.Lock()
		if time.Since(c.lastLocationAt) < throttle {
			c.mu.Unlock()
			return
		}
		c.lastLocationAt = time.Now()
		c.mu.Unlock()
	}

	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return
	}
	var p locationPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.CaseID == "" {
		logrus.Warnf("无效的位置数据: %v", msg.Data)
		return
	}

	if rescuer {
		if c.Hub.RescuerLocationSink != nil {
			c.Hub.RescuerLocationSink(p.CaseID, c.UserID, p.Latitude, p.Longitude, p.Accuracy)
		}
		return
	}
	if c.Hub.CaseLocationSink != nil {
		c.Hub.CaseLocationSink(p.CaseID, c.UserID, p.Latitude, p.Longitude, p.Accuracy)
	}
}

// handleStatusUpdate 状态变更不走长连接上行。
// 本侧只是镜像，转移一律由调度接口裁决，这里直接回错误
func (c *Connection) handleStatusUpdate(msg Message) {
	c.reply(Message{
		Event:     EventError,
		Data:      "状态变更请使用调度接口",
		Timestamp: time.Now().Unix(),
	})
	logrus.Warnf("连接 %s 尝试通过长连接变更状态，已拒绝", c.ID)
}

// handleChat 房间聊天消息
func (c *Connection) handleChat(msg Message) {
	if msg.Room == "" {
		logrus.Warnf("聊天消息缺少房间")
		return
	}
	c.Hub.BroadcastRoom(msg.Room, EventMessageBroadcast, map[string]interface{}{
		"from": c.UserID,
		"data": msg.Data,
	})
}

// handleTyping 打字指示，仅 UI 信号，排除发送者自己
func (c *Connection) handleTyping(msg Message) {
	if msg.Room == "" {
		return
	}
	c.Hub.BroadcastRoomExcept(msg.Room, c.ID, msg.Event, map[string]string{
		"from": c.UserID,
	})
}

// reply 回包给当前连接
func (c *Connection) reply(msg Message) {
	data, _ := json.Marshal(msg)
	if !c.enqueue(data) {
		logrus.Warnf("连接 %s 发送缓冲区已满", c.ID)
	}
}

// SendMessage 发送消息给当前连接
func (c *Connection) SendMessage(message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		return fmt.Errorf("发送缓冲区已满")
	}
	return nil
}

// InRoom 检查是否已订阅指定房间
func (c *Connection) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rooms[room]
}
