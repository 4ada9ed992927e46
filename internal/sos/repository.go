package sos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/errors"

	"gorm.io/gorm"
)

// Repository 求救单持久层
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate 建表
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.SOSCase{},
		&models.AssignedResponder{},
		&models.Participant{},
		&models.CaseSequence{},
	)
}

// CreateCase 创建求救单并分配辖区-月份内单调递增的人类可读编号
func (r *Repository) CreateCase(ctx context.Context, c *models.SOSCase) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := fmt.Sprintf("%s-%s", strings.ToUpper(c.City), time.Now().Format("200601"))

		var seq models.CaseSequence
		if err := tx.Where(models.CaseSequence{Scope: scope}).FirstOrCreate(&seq).Error; err != nil {
			return err
		}
		seq.Seq++
		if err := tx.Save(&seq).Error; err != nil {
			return err
		}

		c.CaseNumber = fmt.Sprintf("SOS-%s-%04d", scope, seq.Seq)
		return tx.Create(c).Error
	})
}

// GetCase 按 ID 取单（带救援指派记录）
func (r *Repository) GetCase(ctx context.Context, caseID string) (*models.SOSCase, error) {
	var c models.SOSCase
	err := r.db.WithContext(ctx).Preload("Responders").First(&c, "id = ?", caseID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFound("求救单不存在: %s", caseID)
		}
		return nil, errors.Wrap(err, "查询求救单失败")
	}
	return &c, nil
}

// UpdateStatus 更新单子状态（调用方已校验转移合法性并持有单级锁）
func (r *Repository) UpdateStatus(ctx context.Context, caseID string, status models.SOSStatus) error {
	return r.db.WithContext(ctx).Model(&models.SOSCase{}).
		Where("id = ?", caseID).
		Update("status", status).Error
}

// UpdateCase 保存整单
func (r *Repository) UpdateCase(ctx context.Context, c *models.SOSCase) error {
	return r.db.WithContext(ctx).Save(c).Error
}

// UpdateLocation 更新最近位置
func (r *Repository) UpdateLocation(ctx context.Context, caseID string, lat, lon float64) error {
	return r.db.WithContext(ctx).Model(&models.SOSCase{}).
		Where("id = ?", caseID).
		Updates(map[string]interface{}{"latitude": lat, "longitude": lon}).Error
}

// UpdateType 更新分类标签
func (r *Repository) UpdateType(ctx context.Context, caseID, tag string) error {
	return r.db.WithContext(ctx).Model(&models.SOSCase{}).
		Where("id = ?", caseID).
		Update("type", tag).Error
}

// UpsertResponder 按 (case, responder) 追加或更新指派记录
func (r *Repository) UpsertResponder(ctx context.Context, caseID, responderID, station string) error {
	var existing models.AssignedResponder
	err := r.db.WithContext(ctx).
		Where("case_id = ? AND responder_id = ?", caseID, responderID).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return r.db.WithContext(ctx).Create(&models.AssignedResponder{
			CaseID:      caseID,
			ResponderID: responderID,
			Station:     station,
			Status:      models.ResponderAssigned,
			AssignedAt:  time.Now(),
		}).Error
	}
	if err != nil {
		return err
	}
	existing.Station = station
	existing.Status = models.ResponderAssigned
	existing.AssignedAt = time.Now()
	return r.db.WithContext(ctx).Save(&existing).Error
}

// UpdateResponderStatus 更新救援者子状态
func (r *Repository) UpdateResponderStatus(ctx context.Context, caseID, responderID string, status models.ResponderStatus) error {
	res := r.db.WithContext(ctx).Model(&models.AssignedResponder{}).
		Where("case_id = ? AND responder_id = ?", caseID, responderID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.NotFound("指派记录不存在: case=%s responder=%s", caseID, responderID)
	}
	return nil
}

// JoinParticipant 写入在场记录，同一 (case, actor) 只允许一条未结束记录
func (r *Repository) JoinParticipant(ctx context.Context, caseID, actorID, role string) (*models.Participant, error) {
	var existing models.Participant
	err := r.db.WithContext(ctx).
		Where("case_id = ? AND actor_id = ? AND left_at IS NULL", caseID, actorID).
		First(&existing).Error
	if err == nil {
		return nil, errors.Conflict("已在频道中: case=%s actor=%s", caseID, actorID)
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	p := &models.Participant{CaseID: caseID, ActorID: actorID, Role: role, JoinedAt: time.Now()}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// LeaveParticipant 结束在场记录
func (r *Repository) LeaveParticipant(ctx context.Context, caseID, actorID string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("case_id = ? AND actor_id = ? AND left_at IS NULL", caseID, actorID).
		Update("left_at", &now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.NotFound("没有未结束的在场记录: case=%s actor=%s", caseID, actorID)
	}
	return nil
}
