package models

// SOSStatus 求救单生命周期状态，全系统统一使用大写词汇
type SOSStatus string

const (
	StatusActive    SOSStatus = "ACTIVE"
	StatusEnRoute   SOSStatus = "EN_ROUTE"
	StatusArrived   SOSStatus = "ARRIVED"
	StatusResolved  SOSStatus = "RESOLVED"
	StatusCancelled SOSStatus = "CANCELLED"
	StatusRejected  SOSStatus = "REJECTED"
	StatusFake      SOSStatus = "FAKE"
)

// ResponderStatus 单个救援者在某个求救单上的子状态
type ResponderStatus string

const (
	ResponderAssigned ResponderStatus = "ASSIGNED"
	ResponderEnRoute  ResponderStatus = "EN_ROUTE"
	ResponderArrived  ResponderStatus = "ARRIVED"
	ResponderRejected ResponderStatus = "REJECTED"
	ResponderLeft     ResponderStatus = "LEFT"
)

// statusTransitions 唯一的状态转移表，持久侧校验转移合法性，
// 实时侧只镜像已被接受的转移、从不独立校验
var statusTransitions = map[SOSStatus][]SOSStatus{
	StatusActive:  {StatusEnRoute, StatusResolved, StatusCancelled, StatusRejected, StatusFake},
	StatusEnRoute: {StatusArrived, StatusActive, StatusResolved, StatusRejected, StatusFake},
	StatusArrived: {StatusResolved, StatusActive, StatusFake},
	// RESOLVED / CANCELLED / REJECTED / FAKE 为终态，无出边
}

// Valid 是否为已定义的状态值
func (s SOSStatus) Valid() bool {
	switch s {
	case StatusActive, StatusEnRoute, StatusArrived, StatusResolved, StatusCancelled, StatusRejected, StatusFake:
		return true
	}
	return false
}

// Terminal 是否为终态
func (s SOSStatus) Terminal() bool {
	switch s {
	case StatusResolved, StatusCancelled, StatusRejected, StatusFake:
		return true
	}
	return false
}

// Live 是否属于"存活"状态集合（近邻查询只返回这些状态的单子）
func (s SOSStatus) Live() bool {
	switch s {
	case StatusActive, StatusEnRoute, StatusArrived:
		return true
	}
	return false
}

// CanTransition 判断 from → to 是否为状态机允许的边
func CanTransition(from, to SOSStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ResponderActive 救援者子状态是否仍在参与（未退出未拒绝）
func (s ResponderStatus) ResponderActive() bool {
	switch s {
	case ResponderAssigned, ResponderEnRoute, ResponderArrived:
		return true
	}
	return false
}
