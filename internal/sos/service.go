package sos

import (
	"context"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/eventbus"
	"HibiscusSOS/pkg/geo"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/metrics"

	"go.uber.org/zap"
)

// Service 持久侧状态机：校验并执行状态转移，每次成功转移恰好发布一条状态变更事件。
// 镜像同步、聊天提示、短信等都是总线上的反应，不影响本侧正确性
type Service struct {
	repo  *Repository
	bus   *eventbus.Bus
	locks *keyLock

	// 权威到达阈值（米），严格小于才算到达
	arrivalThresholdM float64
}

func NewService(repo *Repository, bus *eventbus.Bus, arrivalThresholdM float64) *Service {
	if arrivalThresholdM <= 0 {
		arrivalThresholdM = 20
	}
	return &Service{
		repo:              repo,
		bus:               bus,
		locks:             newKeyLock(64),
		arrivalThresholdM: arrivalThresholdM,
	}
}

// CreateCaseRequest 创建求救单入参
type CreateCaseRequest struct {
	City        string
	RequesterID *string
	Latitude    *float64
	Longitude   *float64
	Address     string
	Message     string
	Type        string
}

// Create 创建求救单，初始状态 ACTIVE
func (s *Service) Create(ctx context.Context, req CreateCaseRequest) (*models.SOSCase, error) {
	if req.City == "" {
		return nil, errors.Validation("city 不能为空")
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return nil, errors.Validation("经纬度必须成对出现")
	}

	c := &models.SOSCase{
		City:        req.City,
		RequesterID: req.RequesterID,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Address:     req.Address,
		Message:     req.Message,
		Type:        req.Type,
		Status:      models.StatusActive,
	}
	if err := s.repo.CreateCase(ctx, c); err != nil {
		return nil, errors.Wrap(err, "创建求救单失败")
	}

	s.bus.Publish(ctx, models.SOSCreatedEvent{
		CaseID:      c.ID,
		CaseNumber:  c.CaseNumber,
		City:        c.City,
		RequesterID: c.RequesterID,
		Latitude:    c.Latitude,
		Longitude:   c.Longitude,
		Address:     c.Address,
		Category:    c.Type,
		Message:     c.Message,
	})
	logger.Info("求救单已创建", zap.String("case_id", c.ID), zap.String("case_number", c.CaseNumber))
	return c, nil
}

// Get 查询权威记录
func (s *Service) Get(ctx context.Context, caseID string) (*models.SOSCase, error) {
	return s.repo.GetCase(ctx, caseID)
}

// AssignResponder 指派救援者。首次成功指派将单子推进到 EN_ROUTE；
// 已在 EN_ROUTE 及之后的单子追加指派不改变状态（幂等）
func (s *Service) AssignResponder(ctx context.Context, caseID, responderID, station string) (*models.SOSCase, error) {
	unlock := s.locks.Lock(caseID)
	defer unlock()

	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !c.Status.Live() {
		return nil, errors.InvalidTransition("当前状态 %s 不允许指派", c.Status)
	}

	if err := s.repo.UpsertResponder(ctx, caseID, responderID, station); err != nil {
		return nil, errors.Wrap(err, "写入指派记录失败")
	}

	if c.Status == models.StatusActive {
		if err := s.transition(ctx, c, models.StatusEnRoute, responderID); err != nil {
			return nil, err
		}
	}

	s.bus.Publish(ctx, models.ResponderAssignedEvent{
		CaseID:      caseID,
		ResponderID: responderID,
		Station:     station,
	})
	return s.repo.GetCase(ctx, caseID)
}

// EvaluateRescuerProximity 根据救援者上报位置判定到达。
// 只由位置上报路径调用；EN_ROUTE 且距离严格小于阈值才转移到 ARRIVED
func (s *Service) EvaluateRescuerProximity(ctx context.Context, caseID, responderID string, lat, lon float64) (bool, error) {
	unlock := s.locks.Lock(caseID)
	defer unlock()

	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return false, err
	}

	// 第一次收到位置即认为救援者已出发
	for _, r := range c.Responders {
		if r.ResponderID == responderID && r.Status == models.ResponderAssigned {
			if err := s.repo.UpdateResponderStatus(ctx, caseID, responderID, models.ResponderEnRoute); err != nil {
				logger.Warn("更新救援者子状态失败", zap.Error(err))
			}
			break
		}
	}

	if c.Status != models.StatusEnRoute || !c.HasLocation() {
		return false, nil
	}

	d := geo.DistanceMeters(lat, lon, *c.Latitude, *c.Longitude)
	if d >= s.arrivalThresholdM {
		return false, nil
	}

	if err := s.repo.UpdateResponderStatus(ctx, caseID, responderID, models.ResponderArrived); err != nil {
		return false, errors.Wrap(err, "标记救援者到达失败")
	}
	if err := s.transition(ctx, c, models.StatusArrived, responderID); err != nil {
		return false, err
	}
	logger.Info("救援者已到达",
		zap.String("case_id", caseID),
		zap.String("responder_id", responderID),
		zap.Float64("distance_m", d))
	return true, nil
}

// Cancel 求救者本人撤销，仅 ACTIVE 可撤销
func (s *Service) Cancel(ctx context.Context, caseID, requesterID string) (*models.SOSCase, error) {
	unlock := s.locks.Lock(caseID)
	defer unlock()

	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.RequesterID == nil || *c.RequesterID != requesterID {
		return nil, errors.Forbidden("只有求救者本人可以撤销")
	}
	if c.Status == models.StatusCancelled {
		return nil, errors.Conflict("求救单已撤销")
	}
	if c.Status != models.StatusActive {
		return nil, errors.InvalidTransition("当前状态 %s 不允许撤销，只有 ACTIVE 可撤销", c.Status)
	}

	if err := s.transition(ctx, c, models.StatusCancelled, requesterID); err != nil {
		return nil, err
	}
	return c, nil
}

// Close 管理性结案：任何非终态都可直接 RESOLVED，可附结案说明
func (s *Service) Close(ctx context.Context, caseID, note, closedBy string) (*models.SOSCase, error) {
	unlock := s.locks.Lock(caseID)
	defer unlock()

	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, errors.InvalidTransition("求救单已处于终态 %s", c.Status)
	}

	c.Note = note
	if err := s.repo.UpdateCase(ctx, c); err != nil {
		return nil, errors.Wrap(err, "保存结案说明失败")
	}
	if err := s.transition(ctx, c, models.StatusResolved, closedBy); err != nil {
		return nil, err
	}
	return c, nil
}

// Tag 更新分类标签。纯元数据变更，发布标签事件但不是状态转移
func (s *Service) Tag(ctx context.Context, caseID, tag string) (*models.SOSCase, error) {
	if tag == "" {
		return nil, errors.Validation("标签不能为空")
	}

	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateType(ctx, caseID, tag); err != nil {
		return nil, errors.Wrap(err, "更新标签失败")
	}
	c.Type = tag

	s.bus.Publish(ctx, models.SOSTaggedEvent{CaseID: caseID, City: c.City, Tag: tag})
	return c, nil
}

// MarkResponderLeft 救援者退出。全部救援者退出/拒绝后单子回退到 ACTIVE 等待重新派遣，
// 这是状态机里唯一向后的边
func (s *Service) MarkResponderLeft(ctx context.Context, caseID, responderID string) (*models.SOSCase, error) {
	return s.dropResponder(ctx, caseID, responderID, models.ResponderLeft)
}

// MarkResponderRejected 救援者拒绝指派
func (s *Service) MarkResponderRejected(ctx context.Context, caseID, responderID string) (*models.SOSCase, error) {
	return s.dropResponder(ctx, caseID, responderID, models.ResponderRejected)
}

func (s *Service) dropResponder(ctx context.Context, caseID, responderID string, status models.ResponderStatus) (*models.SOSCase, error) {
	unlock := s.locks.Lock(caseID)
	defer unlock()

	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateResponderStatus(ctx, caseID, responderID, status); err != nil {
		return nil, err
	}

	c, err = s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.ActiveResponders() == 0 && (c.Status == models.StatusEnRoute || c.Status == models.StatusArrived) {
		if err := s.transition(ctx, c, models.StatusActive, responderID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SaveLocation 持久化位置快照（上游已由采样策略把关）
func (s *Service) SaveLocation(ctx context.Context, caseID string, lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return errors.Validation("坐标超出范围: (%f, %f)", lat, lon)
	}
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return errors.InvalidTransition("终态单子不再接受位置更新")
	}
	if err := s.repo.UpdateLocation(ctx, caseID, lat, lon); err != nil {
		return errors.Wrap(err, "保存位置失败")
	}

	s.bus.Publish(ctx, models.LocationUpdatedEvent{CaseID: caseID, Latitude: lat, Longitude: lon})
	return nil
}

// JoinChannel 在场记录：加入
func (s *Service) JoinChannel(ctx context.Context, caseID, actorID, role string) (*models.Participant, error) {
	unlock := s.locks.Lock(caseID)
	defer unlock()
	if _, err := s.repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.repo.JoinParticipant(ctx, caseID, actorID, role)
}

// LeaveChannel 在场记录：离开
func (s *Service) LeaveChannel(ctx context.Context, caseID, actorID string) error {
	unlock := s.locks.Lock(caseID)
	defer unlock()
	return s.repo.LeaveParticipant(ctx, caseID, actorID)
}

// transition 执行一次已通过前置校验的状态转移并发布事件。
// 转移表是最后一道防线；失败不发布任何事件
func (s *Service) transition(ctx context.Context, c *models.SOSCase, to models.SOSStatus, updatedBy string) error {
	if !models.CanTransition(c.Status, to) {
		metrics.TransitionRejected.WithLabelValues("invalid_edge").Inc()
		return errors.InvalidTransition("不允许的状态转移: %s -> %s", c.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, c.ID, to); err != nil {
		return errors.Wrap(err, "更新状态失败")
	}
	metrics.StatusTransitions.WithLabelValues(string(c.Status), string(to)).Inc()

	previous := c.Status
	c.Status = to
	s.bus.Publish(ctx, models.SOSStatusChangedEvent{
		CaseID:    c.ID,
		City:      c.City,
		Previous:  previous,
		New:       to,
		UpdatedBy: updatedBy,
	})
	logger.Info("状态转移",
		zap.String("case_id", c.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(to)))
	return nil
}
