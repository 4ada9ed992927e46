package websocket

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"HibiscusSOS/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message 连接双向消息结构
type Message struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	From      string      `json:"from,omitempty"`
	Room      string      `json:"room,omitempty"`
}

// Connection 表示一个已通过握手认证的连接
type Connection struct {
	ID       string
	UserID   string
	Role     string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	LastPing time.Time
	IsAlive  bool
	mu       sync.RWMutex
	Rooms    map[string]bool

	// 注销会关闭 Send，而广播 worker 在锁外入队；
	// 入队持 sendMu 读锁并检查 closed，关闭前持写锁置位
	sendMu sync.RWMutex
	closed bool

	// 位置上行节流游标（只控制广播频率，与持久化采样无关）
	lastLocationAt time.Time
}

// LocationSink 客户端位置上行的业务回调
type LocationSink func(caseID, userID string, lat, lon, accuracy float64)

// Hub 管理全部连接与房间成员关系。
// 房间是传输层订阅；进出房间经 ParticipantSink 通知业务侧落在场记录，
// 记录的去重与归档由持久侧负责
type Hub struct {
	connections map[string]*Connection
	// 用户ID到连接ID的映射
	userConnections map[string]map[string]bool
	// 房间到连接ID的映射
	roomConnections map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection

	connectionCount int64
	config          *Config
	mu              sync.RWMutex
	ctx             context.Context
	cancel          context.CancelFunc

	// 扇出分片，减少广播时的锁竞争
	shardCount int
	shardConns []map[string]*Connection
	shardLocks []sync.RWMutex

	broadcastJobs chan broadcastJob

	// 业务回调，启动时注入
	CaseLocationSink    LocationSink
	RescuerLocationSink LocationSink
	PresenceSink        func(userID, role string, online bool)
	ParticipantSink     func(caseID, userID, role string, joined bool)
}

const (
	_broadcastRoom = iota
	_broadcastAll
)

type broadcastJob struct {
	kind    int
	shard   int
	room    string
	exclude string
	data    []byte
}

// Config 连接层配置
type Config struct {
	MaxConnections    int64
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	MessageBufferSize int
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int
	EnableCompression bool
	MessageQueueSize  int
	ShardCount        int
	// 广播worker数量
	BroadcastWorkerCount int
	// 发送缓冲区满时是否丢弃
	DropOnFull bool
	// 慢消费者策略：背压触发时直接断开
	CloseOnBackpressure bool
	// 发送阻塞超时（用于非 DropOnFull 模式）
	SendTimeout time.Duration
	// 同一连接两次位置上行的最小间隔
	LocationThrottle time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:       100000,
		HeartbeatInterval:    30 * time.Second,
		ConnectionTimeout:    60 * time.Second,
		MessageBufferSize:    256,
		ReadBufferSize:       1024,
		WriteBufferSize:      1024,
		MaxMessageSize:       4096,
		EnableCompression:    true,
		MessageQueueSize:     1000,
		ShardCount:           16,
		BroadcastWorkerCount: 32,
		DropOnFull:           true,
		CloseOnBackpressure:  false,
		SendTimeout:          50 * time.Millisecond,
		LocationThrottle:     time.Second,
	}
}

// NewHub 创建新的Hub实例
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := &Hub{
		connections:     make(map[string]*Connection),
		userConnections: make(map[string]map[string]bool),
		roomConnections: make(map[string]map[string]bool),
		register:        make(chan *Connection, 1000),
		unregister:      make(chan *Connection, 1000),
		config:          config,
		ctx:             ctx,
		cancel:          cancel,
	}

	if hub.config.ShardCount <= 0 {
		hub.config.ShardCount = 1
	}
	hub.shardCount = hub.config.ShardCount
	hub.shardConns = make([]map[string]*Connection, hub.shardCount)
	hub.shardLocks = make([]sync.RWMutex, hub.shardCount)
	for i := 0; i < hub.shardCount; i++ {
		hub.shardConns[i] = make(map[string]*Connection)
	}

	if hub.config.BroadcastWorkerCount <= 0 {
		hub.config.BroadcastWorkerCount = 1
	}
	hub.broadcastJobs = make(chan broadcastJob, hub.config.MessageQueueSize)
	for i := 0; i < hub.config.BroadcastWorkerCount; i++ {
		go hub.broadcastWorker()
	}

	go hub.run()
	return hub
}

// run Hub主循环
func (h *Hub) run() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

// registerConnection 注册连接
func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		conn.Conn.Close()
		logrus.Warnf("达到最大连接数限制: %d", h.config.MaxConnections)
		return
	}

	h.connections[conn.ID] = conn
	atomic.AddInt64(&h.connectionCount, 1)

	sh := h.shardIndex(conn.ID)
	h.shardLocks[sh].Lock()
	h.shardConns[sh][conn.ID] = conn
	h.shardLocks[sh].Unlock()

	if conn.UserID != "" {
		if h.userConnections[conn.UserID] == nil {
			h.userConnections[conn.UserID] = make(map[string]bool)
		}
		h.userConnections[conn.UserID][conn.ID] = true
	}

	for room := range conn.Rooms {
		if h.roomConnections[room] == nil {
			h.roomConnections[room] = make(map[string]bool)
		}
		h.roomConnections[room][conn.ID] = true
	}

	if h.PresenceSink != nil {
		h.PresenceSink(conn.UserID, conn.Role, true)
	}
	logrus.Infof("连接已注册: %s, 用户: %s, 当前连接数: %d",
		conn.ID, conn.UserID, atomic.LoadInt64(&h.connectionCount))
}

// unregisterConnection 注销连接
func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ID]; exists {
		delete(h.connections, conn.ID)
		atomic.AddInt64(&h.connectionCount, -1)

		sh := h.shardIndex(conn.ID)
		h.shardLocks[sh].Lock()
		delete(h.shardConns[sh], conn.ID)
		h.shardLocks[sh].Unlock()

		if conn.UserID != "" && h.userConnections[conn.UserID] != nil {
			delete(h.userConnections[conn.UserID], conn.ID)
			if len(h.userConnections[conn.UserID]) == 0 {
				delete(h.userConnections, conn.UserID)
			}
		}

		for room := range conn.Rooms {
			if h.roomConnections[room] != nil {
				delete(h.roomConnections[room], conn.ID)
				if len(h.roomConnections[room]) == 0 {
					delete(h.roomConnections, room)
				}
			}
		}

		conn.sendMu.Lock()
		conn.closed = true
		close(conn.Send)
		conn.sendMu.Unlock()

		if h.ParticipantSink != nil {
			for room := range conn.Rooms {
				if caseID, ok := CaseFromRoom(room); ok {
					h.ParticipantSink(caseID, conn.UserID, conn.Role, false)
				}
			}
		}
		if h.PresenceSink != nil {
			h.PresenceSink(conn.UserID, conn.Role, false)
		}
		logrus.Infof("连接已注销: %s, 当前连接数: %d",
			conn.ID, atomic.LoadInt64(&h.connectionCount))
	}
}

// BroadcastRoom 向房间内全部连接扇出事件
func (h *Hub) BroadcastRoom(room, event string, payload interface{}) {
	h.broadcastRoom(room, "", event, payload)
}

// BroadcastRoomExcept 向房间扇出但跳过指定连接（打字指示等仅 UI 信号）
func (h *Hub) BroadcastRoomExcept(room, excludeConnID, event string, payload interface{}) {
	h.broadcastRoom(room, excludeConnID, event, payload)
}

func (h *Hub) broadcastRoom(room, exclude, event string, payload interface{}) {
	data, err := json.Marshal(&Message{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().Unix(),
		Room:      room,
	})
	if err != nil {
		logrus.Errorf("消息序列化失败: %v", err)
		return
	}
	select {
	case h.broadcastJobs <- broadcastJob{kind: _broadcastRoom, room: room, exclude: exclude, data: data}:
		metrics.RoomBroadcasts.Inc()
	default:
		logrus.Warnf("广播作业队列已满，房间 %s 的消息被丢弃", room)
	}
}

// BroadcastAll 向全部连接扇出（系统级通知），按分片并行发送
func (h *Hub) BroadcastAll(event string, payload interface{}) {
	data, err := json.Marshal(&Message{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		logrus.Errorf("消息序列化失败: %v", err)
		return
	}
	for i := 0; i < h.shardCount; i++ {
		select {
		case h.broadcastJobs <- broadcastJob{kind: _broadcastAll, shard: i, data: data}:
		default:
			logrus.Warnf("广播作业队列已满，消息被丢弃")
		}
	}
}

// SendToUser 发送给某个用户的全部连接
func (h *Hub) SendToUser(userID, event string, payload interface{}) {
	data, err := json.Marshal(&Message{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		logrus.Errorf("消息序列化失败: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if connections, exists := h.userConnections[userID]; exists {
		for connID := range connections {
			if conn, ok := h.connections[connID]; ok && conn.IsAlive {
				h.trySend(conn, data, func() { logrus.Warnf("用户 %s 的连接 %s 发送缓冲区已满", userID, connID) })
			}
		}
	}
}

// checkHeartbeats 检查心跳
func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	for _, conn := range h.connections {
		if now.Sub(conn.LastPing) > h.config.ConnectionTimeout {
			logrus.Warnf("连接 %s 心跳超时，准备关闭", conn.ID)
			conn.IsAlive = false
			conn.Conn.Close()
		}
	}
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetUserConnections 获取用户的连接数
func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if connections, exists := h.userConnections[userID]; exists {
		return len(connections)
	}
	return 0
}

// GetRoomConnections 获取房间内的连接数
func (h *Hub) GetRoomConnections(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if connections, exists := h.roomConnections[room]; exists {
		return len(connections)
	}
	return 0
}

// Close 关闭Hub
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	for _, conn := range h.connections {
		conn.Conn.Close()
	}
	h.mu.Unlock()

	logrus.Info("连接中心已关闭")
}

// shardIndex 计算分片索引
func (h *Hub) shardIndex(id string) int {
	if h.shardCount <= 1 {
		return 0
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(id))
	return int(hasher.Sum32() % uint32(h.shardCount))
}

// broadcastWorker 广播worker
func (h *Hub) broadcastWorker() {
	for job := range h.broadcastJobs {
		switch job.kind {
		case _broadcastRoom:
			h.mu.RLock()
			members := make([]*Connection, 0, len(h.roomConnections[job.room]))
			for connID := range h.roomConnections[job.room] {
				if connID == job.exclude {
					continue
				}
				if conn, ok := h.connections[connID]; ok && conn.IsAlive {
					members = append(members, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range members {
				h.trySend(conn, job.data, func() { logrus.Debugf("连接 %s 发送缓冲区满，已按策略处理", conn.ID) })
			}
		case _broadcastAll:
			h.shardLocks[job.shard].RLock()
			for _, conn := range h.shardConns[job.shard] {
				if conn.IsAlive {
					h.trySend(conn, job.data, func() { logrus.Debugf("连接 %s 发送缓冲区满，已按策略处理", conn.ID) })
				}
			}
			h.shardLocks[job.shard].RUnlock()
		}
	}
}

// trySend 背压策略
func (h *Hub) trySend(conn *Connection, data []byte, onDrop func()) {
	if h.config.DropOnFull {
		if !conn.enqueue(data) {
			onDrop()
			if h.config.CloseOnBackpressure {
				conn.Conn.Close()
			}
		}
		return
	}
	// 非丢弃模式：限定等待时长
	timeout := h.config.SendTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	if !conn.enqueueWait(data, timeout) {
		onDrop()
		if h.config.CloseOnBackpressure {
			conn.Conn.Close()
		}
	}
}

// enqueue 非阻塞入队。连接已注销时返回 true，消息随连接一并丢弃
func (c *Connection) enqueue(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// enqueueWait 限时阻塞入队
func (c *Connection) enqueueWait(data []byte, timeout time.Duration) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	case <-time.After(timeout):
		return false
	}
}
