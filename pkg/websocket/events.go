package websocket

// 连接双向事件名。update 为客户端上行，broadcast 为服务端房间下行
const (
	EventPing = "ping"
	EventPong = "pong"

	EventRoomJoin  = "room:join"
	EventRoomLeave = "room:leave"

	EventLocationUpdate           = "location:update"
	EventLocationBroadcast        = "location:broadcast"
	EventRescuerLocationUpdate    = "rescuer:location:update"
	EventRescuerLocationBroadcast = "rescuer:location:broadcast"

	EventSOSInit            = "sos:init"
	EventSOSClose           = "sos:close"
	EventSOSStatusUpdate    = "sos:status:update"
	EventSOSStatusBroadcast = "sos:status:broadcast"

	EventMessageBroadcast = "message:broadcast"
	EventTypingStart      = "message:typing:start"
	EventTypingStop       = "message:typing:stop"

	EventParticipantJoined = "participant:joined"
	EventParticipantLeft   = "participant:left"

	EventError = "error"
)

// RoomForCase 求救单到房间名的映射，一单一房间
func RoomForCase(caseID string) string {
	return "sos:" + caseID
}

// CaseFromRoom 从房间名还原求救单ID
func CaseFromRoom(room string) (string, bool) {
	const prefix = "sos:"
	if len(room) <= len(prefix) || room[:len(prefix)] != prefix {
		return "", false
	}
	return room[len(prefix):], true
}

// 环境变量配置键
const (
	EnvWebSocketMaxConnections      = "WEBSOCKET_MAX_CONNECTIONS"
	EnvWebSocketHeartbeatInterval   = "WEBSOCKET_HEARTBEAT_INTERVAL"
	EnvWebSocketConnectionTimeout   = "WEBSOCKET_CONNECTION_TIMEOUT"
	EnvWebSocketMessageBufferSize   = "WEBSOCKET_MESSAGE_BUFFER_SIZE"
	EnvWebSocketMessageQueueSize    = "WEBSOCKET_MESSAGE_QUEUE_SIZE"
	EnvWebSocketEnableCompression   = "WEBSOCKET_ENABLE_COMPRESSION"
	EnvWebSocketShardCount          = "WEBSOCKET_SHARD_COUNT"
	EnvWebSocketBroadcastWorkers    = "WEBSOCKET_BROADCAST_WORKERS"
	EnvWebSocketDropOnFull          = "WEBSOCKET_DROP_ON_FULL"
	EnvWebSocketMaxMessageSize      = "WEBSOCKET_MAX_MESSAGE_SIZE"
	EnvWebSocketCloseOnBackpressure = "WEBSOCKET_CLOSE_ON_BACKPRESSURE"
	EnvWebSocketSendTimeoutMs       = "WEBSOCKET_SEND_TIMEOUT_MS"
	EnvWebSocketLocationThrottleMs  = "WEBSOCKET_LOCATION_THROTTLE_MS"
)
