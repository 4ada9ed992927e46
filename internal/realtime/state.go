package realtime

import (
	"fmt"
	"time"

	"HibiscusSOS/internal/models"
)

// 实时镜像键名约定
const (
	stateKeyPrefix    = "sos:state:"
	geoSetKey         = "sos:state:geo"
	rescuerKeyPrefix  = "rescuer:location:"
	presenceKeyPrefix = "user:presence:"
)

func stateKey(caseID string) string {
	return stateKeyPrefix + caseID
}

func rescuerKey(rescuerID, caseID string) string {
	return fmt.Sprintf("%s%s:%s", rescuerKeyPrefix, rescuerID, caseID)
}

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

// State 单个求救单的实时镜像。
// 永远从权威记录镜像而来，过期后通过回源重建，绝不凭空构造。
// LastUpdated 暴露给调用方用于判断陈旧程度
type State struct {
	CaseID      string           `json:"caseId"`
	RequesterID *string          `json:"requesterId,omitempty"`
	Status      models.SOSStatus `json:"status"`
	Latitude    *float64         `json:"latitude,omitempty"`
	Longitude   *float64         `json:"longitude,omitempty"`
	Address     string           `json:"address,omitempty"`
	Type        string           `json:"type,omitempty"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// HasLocation 是否带有效坐标
func (s *State) HasLocation() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// RescuerSample 救援者最近一次上报的位置样本
type RescuerSample struct {
	RescuerID string    `json:"rescuerId"`
	CaseID    string    `json:"caseId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Arrived   bool      `json:"arrived"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NearbyCase 近邻查询结果条目，按距离升序返回
type NearbyCase struct {
	State      *State  `json:"state"`
	DistanceKm float64 `json:"distanceKm"`
}
