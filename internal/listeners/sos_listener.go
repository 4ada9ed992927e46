package listeners

import (
	"context"
	"fmt"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/internal/syncbridge"
	"HibiscusSOS/pkg/eventbus"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/notification"
	"HibiscusSOS/pkg/sse"
	ws "HibiscusSOS/pkg/websocket"

	"go.uber.org/zap"
)

// Deps 反应链依赖。总线上的监听器只做副作用：
// 镜像同步、聊天提示、短信通知，失败只降级对应副作用，不回写状态机
type Deps struct {
	Mirror   *syncbridge.MirrorClient
	Notifier *notification.SOSNotifier
	// Feed 值班台看板的 SSE 推送，按辖区分组
	Feed *sse.Hub
	// DutyPhone 值班台号码，新单与结案短信的收件人
	DutyPhone string
}

// InitSOSListeners 注册全部求救单事件的监听器
func InitSOSListeners(bus *eventbus.Bus, deps Deps) {
	bus.Subscribe(models.EventSOSCreated, func(ctx context.Context, evt eventbus.Event) {
		e := evt.(models.SOSCreatedEvent)

		deps.Mirror.PushInit(ctx, &models.SOSCase{
			ID:          e.CaseID,
			City:        e.City,
			RequesterID: e.RequesterID,
			Latitude:    e.Latitude,
			Longitude:   e.Longitude,
			Address:     e.Address,
			Type:        e.Category,
		})

		if deps.Feed != nil {
			deps.Feed.SendEventToGroup(e.City, "case:created", map[string]interface{}{
				"caseId":     e.CaseID,
				"caseNumber": e.CaseNumber,
				"city":       e.City,
				"address":    e.Address,
				"type":       e.Category,
			})
		}

		if deps.Notifier != nil && deps.DutyPhone != "" {
			if err := deps.Notifier.SendCaseCreated(ctx, deps.DutyPhone, e.CaseNumber); err != nil {
				logger.Warn("新单短信通知失败", zap.String("case_id", e.CaseID), zap.Error(err))
			}
		}
	})

	bus.Subscribe(models.EventSOSStatusChanged, func(ctx context.Context, evt eventbus.Event) {
		e := evt.(models.SOSStatusChangedEvent)

		if deps.Feed != nil {
			deps.Feed.SendEventToGroup(e.City, "case:status", map[string]interface{}{
				"caseId":    e.CaseID,
				"status":    e.New,
				"oldStatus": e.Previous,
				"updatedBy": e.UpdatedBy,
			})
		}

		if e.New.Terminal() {
			deps.Mirror.PushClose(ctx, e.CaseID, e.UpdatedBy)
			if deps.Notifier != nil && deps.DutyPhone != "" {
				if err := deps.Notifier.SendCaseClosed(ctx, deps.DutyPhone, e.CaseID, string(e.New)); err != nil {
					logger.Warn("结案短信通知失败", zap.String("case_id", e.CaseID), zap.Error(err))
				}
			}
			return
		}
		deps.Mirror.PushStatus(ctx, e.CaseID, e.Previous, e.New, e.UpdatedBy)
	})

	bus.Subscribe(models.EventSOSTagged, func(ctx context.Context, evt eventbus.Event) {
		e := evt.(models.SOSTaggedEvent)
		deps.Mirror.PushType(ctx, e.CaseID, e.Tag)
	})

	bus.Subscribe(models.EventLocationUpdated, func(ctx context.Context, evt eventbus.Event) {
		e := evt.(models.LocationUpdatedEvent)
		deps.Mirror.PushLocation(ctx, e.CaseID, e.Latitude, e.Longitude)
	})

	bus.Subscribe(models.EventResponderAssigned, func(ctx context.Context, evt eventbus.Event) {
		e := evt.(models.ResponderAssignedEvent)

		// 指派后的聊天提示：丢失只少一条提示，不影响状态机
		deps.Mirror.PushRoomMessage(ctx, e.CaseID, ws.EventMessageBroadcast, map[string]string{
			"from": "system",
			"text": fmt.Sprintf("救援者 %s 已接单，正在赶来", e.ResponderID),
		})
	})
}
