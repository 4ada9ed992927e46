package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	assert.NotNil(t, hub)
	assert.Equal(t, int64(100000), hub.config.MaxConnections)
	assert.Equal(t, 30*time.Second, hub.config.HeartbeatInterval)
	assert.Equal(t, time.Second, hub.config.LocationThrottle)

	hub.Close()
}

func TestHubConnectionManagement(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	// 测试连接注册
	conn := &Connection{
		ID:      "test_conn_1",
		UserID:  "test_user_1",
		IsAlive: true,
		Rooms:   make(map[string]bool),
		Send:    make(chan []byte, 16),
	}

	hub.register <- conn
	time.Sleep(100 * time.Millisecond) // 等待处理

	assert.Equal(t, int64(1), hub.GetConnectionCount())
	assert.Equal(t, 1, hub.GetUserConnections("test_user_1"))

	// 测试连接注销
	hub.unregister <- conn
	time.Sleep(100 * time.Millisecond) // 等待处理

	assert.Equal(t, int64(0), hub.GetConnectionCount())
	assert.Equal(t, 0, hub.GetUserConnections("test_user_1"))
}

func TestHubRoomManagement(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn1 := &Connection{
		ID:      "test_conn_1",
		UserID:  "test_user_1",
		IsAlive: true,
		Rooms:   make(map[string]bool),
		Send:    make(chan []byte, 16),
		Hub:     hub,
	}

	conn2 := &Connection{
		ID:      "test_conn_2",
		UserID:  "test_user_2",
		IsAlive: true,
		Rooms:   make(map[string]bool),
		Send:    make(chan []byte, 16),
		Hub:     hub,
	}

	hub.register <- conn1
	hub.register <- conn2
	time.Sleep(100 * time.Millisecond)

	room := RoomForCase("case-1")
	conn1.handleRoomJoin(Message{Event: EventRoomJoin, Data: "case-1"})
	conn2.handleRoomJoin(Message{Event: EventRoomJoin, Data: "case-1"})
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 2, hub.GetRoomConnections(room))
	assert.True(t, conn1.InRoom(room))

	conn1.handleRoomLeave(Message{Event: EventRoomLeave, Data: "case-1"})
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, hub.GetRoomConnections(room))
	assert.False(t, conn1.InRoom(room))

	hub.unregister <- conn1
	hub.unregister <- conn2
	time.Sleep(100 * time.Millisecond)
}

func TestRoomBroadcastDelivery(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := &Connection{
		ID:      "test_conn_1",
		UserID:  "test_user_1",
		IsAlive: true,
		Rooms:   map[string]bool{RoomForCase("case-1"): true},
		Send:    make(chan []byte, 16),
		Hub:     hub,
	}
	hub.register <- conn
	time.Sleep(100 * time.Millisecond)

	hub.BroadcastRoom(RoomForCase("case-1"), EventSOSStatusBroadcast, map[string]string{
		"caseId": "case-1",
		"status": "EN_ROUTE",
	})

	select {
	case raw := <-conn.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, EventSOSStatusBroadcast, msg.Event)
		assert.Equal(t, RoomForCase("case-1"), msg.Room)
	case <-time.After(time.Second):
		t.Fatal("房间广播未送达")
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	room := RoomForCase("case-1")
	sender := &Connection{
		ID:      "sender",
		UserID:  "u1",
		IsAlive: true,
		Rooms:   map[string]bool{room: true},
		Send:    make(chan []byte, 16),
		Hub:     hub,
	}
	other := &Connection{
		ID:      "other",
		UserID:  "u2",
		IsAlive: true,
		Rooms:   map[string]bool{room: true},
		Send:    make(chan []byte, 16),
		Hub:     hub,
	}
	hub.register <- sender
	hub.register <- other
	time.Sleep(100 * time.Millisecond)

	hub.BroadcastRoomExcept(room, sender.ID, EventTypingStart, map[string]string{"from": "u1"})
	time.Sleep(100 * time.Millisecond)

	assert.Len(t, other.Send, 1)
	assert.Len(t, sender.Send, 0)
}

func TestBroadcastDuringUnregisterDoesNotPanic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DropOnFull = false
	cfg.SendTimeout = 5 * time.Millisecond
	hub := NewHub(cfg)
	defer hub.Close()

	room := RoomForCase("case-1")
	conns := make([]*Connection, 0, 8)
	for i := 0; i < 8; i++ {
		conn := &Connection{
			ID:      fmt.Sprintf("conn_%d", i),
			UserID:  fmt.Sprintf("user_%d", i),
			IsAlive: true,
			Rooms:   map[string]bool{room: true},
			Send:    make(chan []byte, 1),
			Hub:     hub,
		}
		conn.Send <- []byte("backlog") // 填满缓冲，迫使广播走等待路径
		hub.register <- conn
		conns = append(conns, conn)
	}
	time.Sleep(100 * time.Millisecond)

	// 广播和注销并发进行：注销会关闭发送通道，入队必须感知到
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			hub.BroadcastRoom(room, EventSOSStatusBroadcast, map[string]string{"caseId": "case-1"})
		}
	}()
	for _, conn := range conns {
		hub.unregister <- conn
	}
	wg.Wait()
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, int64(0), hub.GetConnectionCount())
}

func TestRoomJoinLeaveNotifiesParticipantSink(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	type record struct {
		caseID, userID, role string
		joined               bool
	}
	var mu sync.Mutex
	var records []record
	hub.ParticipantSink = func(caseID, userID, role string, joined bool) {
		mu.Lock()
		records = append(records, record{caseID, userID, role, joined})
		mu.Unlock()
	}

	conn := &Connection{
		ID:      "test_conn_1",
		UserID:  "user-1",
		Role:    "rescuer",
		IsAlive: true,
		Rooms:   make(map[string]bool),
		Send:    make(chan []byte, 16),
		Hub:     hub,
	}
	hub.register <- conn
	time.Sleep(100 * time.Millisecond)

	conn.handleMessage([]byte(`{"event":"room:join","data":"case-1"}`))
	conn.handleMessage([]byte(`{"event":"room:leave","data":"case-1"}`))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, records, 2)
	assert.Equal(t, record{"case-1", "user-1", "rescuer", true}, records[0])
	assert.Equal(t, record{"case-1", "user-1", "rescuer", false}, records[1])
}

func TestUnregisterEndsParticipantRecords(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	var mu sync.Mutex
	var left []string
	hub.ParticipantSink = func(caseID, userID, role string, joined bool) {
		if !joined {
			mu.Lock()
			left = append(left, caseID+"/"+userID)
			mu.Unlock()
		}
	}

	// 握手绑定求救单直接入房的连接，掉线也要结束在场记录
	conn := &Connection{
		ID:      "test_conn_1",
		UserID:  "user-1",
		Role:    "requester",
		IsAlive: true,
		Rooms:   map[string]bool{RoomForCase("case-1"): true},
		Send:    make(chan []byte, 16),
		Hub:     hub,
	}
	hub.register <- conn
	time.Sleep(100 * time.Millisecond)

	hub.unregister <- conn
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"case-1/user-1"}, left)
}

func TestStatusUpdateOverSocketRejected(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := &Connection{
		ID:      "test_conn_1",
		UserID:  "user-1",
		IsAlive: true,
		Rooms:   make(map[string]bool),
		Send:    make(chan []byte, 16),
		Hub:     hub,
	}

	// 状态转移只能走调度接口，长连接上行一律拒绝
	conn.handleMessage([]byte(`{"event":"sos:status:update","data":{"status":"RESOLVED"}}`))

	select {
	case raw := <-conn.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, EventError, msg.Event)
	default:
		t.Fatal("期望收到错误回包")
	}
}

func TestCaseFromRoom(t *testing.T) {
	caseID, ok := CaseFromRoom(RoomForCase("case-1"))
	assert.True(t, ok)
	assert.Equal(t, "case-1", caseID)

	_, ok = CaseFromRoom("chat:room-1")
	assert.False(t, ok)
	_, ok = CaseFromRoom("sos:")
	assert.False(t, ok)
}

func TestLocationUpdateThrottling(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	var received int
	hub.RescuerLocationSink = func(caseID, userID string, lat, lon, accuracy float64) {
		received++
		assert.Equal(t, "case-1", caseID)
		assert.Equal(t, "rescuer-1", userID)
	}

	conn := &Connection{
		ID:      "test_conn_1",
		UserID:  "rescuer-1",
		Role:    "rescuer",
		IsAlive: true,
		Rooms:   make(map[string]bool),
		Send:    make(chan []byte, 16),
		Hub:     hub,
	}

	payload := map[string]interface{}{
		"caseId":    "case-1",
		"latitude":  14.5995,
		"longitude": 120.9842,
	}

	// 节流窗口内的第二条被丢弃
	conn.handleLocationUpdate(Message{Event: EventRescuerLocationUpdate, Data: payload}, true)
	conn.handleLocationUpdate(Message{Event: EventRescuerLocationUpdate, Data: payload}, true)
	assert.Equal(t, 1, received)

	// 窗口过后恢复接收
	conn.lastLocationAt = time.Now().Add(-2 * time.Second)
	conn.handleLocationUpdate(Message{Event: EventRescuerLocationUpdate, Data: payload}, true)
	assert.Equal(t, 2, received)
}

func TestHandshakeToken(t *testing.T) {
	claims := Claims{
		UserID:    "user-1",
		Role:      "rescuer",
		CaseID:    "case-1",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}

	token, err := SignToken("secret", claims)
	require.NoError(t, err)

	got, err := VerifyToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "rescuer", got.Role)
	assert.Equal(t, "case-1", got.CaseID)

	// 错误密钥
	_, err = VerifyToken("wrong", token)
	assert.Error(t, err)

	// 过期令牌
	expired, err := SignToken("secret", Claims{
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)
	_, err = VerifyToken("secret", expired)
	assert.Error(t, err)
}

func TestHandshakeRejectsUnauthenticated(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	RegisterRoutes(engine, NewHandler(hub, "secret"))

	// 无令牌
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ws", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 伪造令牌
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/ws?token=bogus.bogus", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebSocketHandlerStats(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	handler := NewHandler(hub, "secret")

	req := httptest.NewRequest("GET", "/ws/stats", nil)
	w := httptest.NewRecorder()

	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.GetStats(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Contains(t, response, "total_connections")
}

func TestConfigValidation(t *testing.T) {
	validConfig := DefaultConfig()
	assert.NoError(t, ValidateConfig(validConfig))

	invalidConfig := &Config{
		MaxConnections:    0,
		HeartbeatInterval: 60 * time.Second,
		ConnectionTimeout: 30 * time.Second,
	}
	assert.Error(t, ValidateConfig(invalidConfig))
}
