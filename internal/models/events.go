package models

import "HibiscusSOS/pkg/eventbus"

// 领域事件类型
const (
	EventSOSCreated        eventbus.EventType = "sos.created"
	EventSOSStatusChanged  eventbus.EventType = "sos.status.changed"
	EventSOSTagged         eventbus.EventType = "sos.tagged"
	EventResponderAssigned eventbus.EventType = "sos.responder.assigned"
	EventLocationUpdated   eventbus.EventType = "sos.location.updated"
)

// SOSCreatedEvent 求救单创建
type SOSCreatedEvent struct {
	CaseID      string
	CaseNumber  string
	City        string
	RequesterID *string
	Latitude    *float64
	Longitude   *float64
	Address     string
	Category    string
	Message     string
}

func (SOSCreatedEvent) Type() eventbus.EventType { return EventSOSCreated }

// SequenceKey 同一单的事件要按发布顺序送达镜像
func (e SOSCreatedEvent) SequenceKey() string { return e.CaseID }

// SOSStatusChangedEvent 一次被接受的状态转移；每次成功转移恰好发布一条
type SOSStatusChangedEvent struct {
	CaseID    string
	City      string
	Previous  SOSStatus
	New       SOSStatus
	UpdatedBy string
}

func (SOSStatusChangedEvent) Type() eventbus.EventType { return EventSOSStatusChanged }

func (e SOSStatusChangedEvent) SequenceKey() string { return e.CaseID }

// SOSTaggedEvent 分类标签更新（纯元数据，不是状态转移）
type SOSTaggedEvent struct {
	CaseID string
	City   string
	Tag    string
}

func (SOSTaggedEvent) Type() eventbus.EventType { return EventSOSTagged }

func (e SOSTaggedEvent) SequenceKey() string { return e.CaseID }

// ResponderAssignedEvent 救援者被指派（即使状态未变化也发布，驱动聊天提示）
type ResponderAssignedEvent struct {
	CaseID      string
	ResponderID string
	Station     string
}

func (ResponderAssignedEvent) Type() eventbus.EventType { return EventResponderAssigned }

func (e ResponderAssignedEvent) SequenceKey() string { return e.CaseID }

// LocationUpdatedEvent 求救单位置快照已持久化
type LocationUpdatedEvent struct {
	CaseID    string
	Latitude  float64
	Longitude float64
}

func (LocationUpdatedEvent) Type() eventbus.EventType { return EventLocationUpdated }

func (e LocationUpdatedEvent) SequenceKey() string { return e.CaseID }
