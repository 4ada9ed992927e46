package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SOSCase 求救单（系统唯一权威记录）
// 状态只能沿状态转移表定义的边移动；终态单子保留、从不物理删除
type SOSCase struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	City        string    `gorm:"size:64;index" json:"city"`
	RequesterID *string   `gorm:"size:36;index" json:"requester_id"` // 匿名求救时为空
	Status      SOSStatus `gorm:"size:16;index" json:"status"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	Address     string    `gorm:"size:255" json:"address"`
	Message     string    `gorm:"size:1024" json:"message"`
	Type        string    `gorm:"size:64" json:"type"` // 分类标签
	CaseNumber  string    `gorm:"size:32;uniqueIndex" json:"case_number"`
	Note        string    `gorm:"size:1024" json:"note"` // 结案说明

	Responders []AssignedResponder `gorm:"foreignKey:CaseID" json:"responders,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate 填充 UUID 主键与初始状态
func (c *SOSCase) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	return nil
}

// HasLocation 是否带有效坐标
func (c *SOSCase) HasLocation() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// ActiveResponders 仍在参与的救援者数量
func (c *SOSCase) ActiveResponders() int {
	n := 0
	for _, r := range c.Responders {
		if r.Status.ResponderActive() {
			n++
		}
	}
	return n
}

// AssignedResponder 求救单上的救援指派记录（指派是责任，区别于参与记录的在场）
type AssignedResponder struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	CaseID      string          `gorm:"size:36;index:idx_case_responder,unique" json:"case_id"`
	ResponderID string          `gorm:"size:36;index:idx_case_responder,unique" json:"responder_id"`
	Station     string          `gorm:"size:128" json:"station"` // 指派站点/部门
	Status      ResponderStatus `gorm:"size:16" json:"status"`
	AssignedAt  time.Time       `json:"assigned_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Participant 进入求救单沟通频道的在场记录
// 同一 (case, actor) 同时最多一条未结束记录，由仓储层保证
type Participant struct {
	ID       uint       `gorm:"primaryKey" json:"id"`
	CaseID   string     `gorm:"size:36;index:idx_case_actor" json:"case_id"`
	ActorID  string     `gorm:"size:36;index:idx_case_actor" json:"actor_id"`
	Role     string     `gorm:"size:32" json:"role"` // admin / rescuer
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at"`
}

// CaseSequence 按辖区-月份递增的人类可读编号序列
type CaseSequence struct {
	ID    uint   `gorm:"primaryKey"`
	Scope string `gorm:"size:80;uniqueIndex"` // "{CITY}-{YYYYMM}"
	Seq   int64
}
