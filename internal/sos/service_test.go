package sos

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/eventbus"
	"HibiscusSOS/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDBSeq int64

// eventRecorder 收集总线上的领域事件，断言"每次成功转移恰好一条事件"
type eventRecorder struct {
	mu       sync.Mutex
	status   []models.SOSStatusChangedEvent
	created  []models.SOSCreatedEvent
	tagged   []models.SOSTaggedEvent
	assigned []models.ResponderAssignedEvent
	located  []models.LocationUpdatedEvent
}

func (r *eventRecorder) subscribe(bus *eventbus.Bus) {
	bus.Subscribe(models.EventSOSStatusChanged, func(_ context.Context, evt eventbus.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.status = append(r.status, evt.(models.SOSStatusChangedEvent))
	})
	bus.Subscribe(models.EventSOSCreated, func(_ context.Context, evt eventbus.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.created = append(r.created, evt.(models.SOSCreatedEvent))
	})
	bus.Subscribe(models.EventSOSTagged, func(_ context.Context, evt eventbus.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.tagged = append(r.tagged, evt.(models.SOSTaggedEvent))
	})
	bus.Subscribe(models.EventResponderAssigned, func(_ context.Context, evt eventbus.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.assigned = append(r.assigned, evt.(models.ResponderAssignedEvent))
	})
	bus.Subscribe(models.EventLocationUpdated, func(_ context.Context, evt eventbus.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.located = append(r.located, evt.(models.LocationUpdatedEvent))
	})
}

func (r *eventRecorder) statusEvents() []models.SOSStatusChangedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SOSStatusChangedEvent, len(r.status))
	copy(out, r.status)
	return out
}

func newTestService(t *testing.T) (*Service, *eventbus.Bus, *eventRecorder) {
	t.Helper()

	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := util.OpenDatabase("sqlite", dsn)
	require.NoError(t, err)

	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())

	bus := eventbus.New()
	rec := &eventRecorder{}
	rec.subscribe(bus)
	return NewService(repo, bus, 20), bus, rec
}

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

func mustCreate(t *testing.T, svc *Service, req CreateCaseRequest) *models.SOSCase {
	t.Helper()
	c, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	return c
}

func TestCreateCase(t *testing.T) {
	svc, bus, rec := newTestService(t)
	ctx := context.Background()

	c := mustCreate(t, svc, CreateCaseRequest{
		City:        "manila",
		RequesterID: strPtr("user-1"),
		Latitude:    f64Ptr(14.5995),
		Longitude:   f64Ptr(120.9842),
		Address:     "Rizal Park",
		Message:     "需要救援",
	})

	assert.Equal(t, models.StatusActive, c.Status)
	assert.NotEmpty(t, c.ID)
	assert.Contains(t, c.CaseNumber, "SOS-MANILA-")

	// 同辖区同月内编号单调递增
	c2 := mustCreate(t, svc, CreateCaseRequest{City: "manila"})
	assert.Greater(t, c2.CaseNumber, c.CaseNumber)

	bus.Wait()
	rec.mu.Lock()
	assert.Len(t, rec.created, 2)
	assert.Equal(t, c.CaseNumber, rec.created[0].CaseNumber)
	rec.mu.Unlock()

	_, err := svc.Create(ctx, CreateCaseRequest{City: ""})
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	_, err = svc.Create(ctx, CreateCaseRequest{City: "manila", Latitude: f64Ptr(14.6)})
	assert.True(t, errors.IsCode(err, errors.CodeValidation), "经纬度不成对应被拒绝")
}

func TestAssignResponderMovesActiveToEnRoute(t *testing.T) {
	svc, bus, rec := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, CreateCaseRequest{City: "manila"})

	got, err := svc.AssignResponder(ctx, c.ID, "rescuer-1", "station-A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnRoute, got.Status)

	// 追加指派第二名救援者：状态保持 EN_ROUTE，不再产生状态事件
	got, err = svc.AssignResponder(ctx, c.ID, "rescuer-2", "station-B")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnRoute, got.Status)
	assert.Len(t, got.Responders, 2)

	bus.Wait()
	events := rec.statusEvents()
	require.Len(t, events, 1, "两次指派只允许一次状态转移事件")
	assert.Equal(t, models.StatusActive, events[0].Previous)
	assert.Equal(t, models.StatusEnRoute, events[0].New)

	rec.mu.Lock()
	assert.Len(t, rec.assigned, 2, "每次指派都发布指派事件")
	rec.mu.Unlock()
}

func TestAssignRejectedOnClosedCase(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, CreateCaseRequest{City: "manila"})

	_, err := svc.Close(ctx, c.ID, "误报", "admin-1")
	require.NoError(t, err)

	_, err = svc.AssignResponder(ctx, c.ID, "rescuer-1", "station-A")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition))
}

func TestProximityArrivalThreshold(t *testing.T) {
	const baseLat, baseLon = 14.5995, 120.9842
	ctx := context.Background()

	newEnRouteCase := func(t *testing.T, svc *Service) *models.SOSCase {
		c := mustCreate(t, svc, CreateCaseRequest{
			City:      "manila",
			Latitude:  f64Ptr(baseLat),
			Longitude: f64Ptr(baseLon),
		})
		_, err := svc.AssignResponder(ctx, c.ID, "rescuer-1", "station-A")
		require.NoError(t, err)
		return c
	}

	t.Run("threshold is strict less-than", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		c := newEnRouteCase(t, svc)

		// 纬度 0.00018° ≈ 20.0m，不满足严格小于
		arrived, err := svc.EvaluateRescuerProximity(ctx, c.ID, "rescuer-1", baseLat+0.00018, baseLon)
		require.NoError(t, err)
		assert.False(t, arrived)

		got, err := svc.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusEnRoute, got.Status)
	})

	t.Run("inside threshold arrives", func(t *testing.T) {
		svc, bus, rec := newTestService(t)
		c := newEnRouteCase(t, svc)

		// 纬度 0.00009° ≈ 10m
		arrived, err := svc.EvaluateRescuerProximity(ctx, c.ID, "rescuer-1", baseLat+0.00009, baseLon)
		require.NoError(t, err)
		assert.True(t, arrived)

		got, err := svc.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusArrived, got.Status)
		require.Len(t, got.Responders, 1)
		assert.Equal(t, models.ResponderArrived, got.Responders[0].Status)

		bus.Wait()
		events := rec.statusEvents()
		require.Len(t, events, 2)
		assert.Equal(t, models.StatusArrived, events[1].New)
	})

	t.Run("close position on ACTIVE case is a no-op", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		c := mustCreate(t, svc, CreateCaseRequest{
			City:      "manila",
			Latitude:  f64Ptr(baseLat),
			Longitude: f64Ptr(baseLon),
		})

		arrived, err := svc.EvaluateRescuerProximity(ctx, c.ID, "rescuer-1", baseLat+0.00009, baseLon)
		require.NoError(t, err)
		assert.False(t, arrived, "未派遣的单子不做到达判定")

		got, err := svc.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, got.Status)
	})

	t.Run("first report marks responder en route", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		c := newEnRouteCase(t, svc)

		// 远处的第一个位置点：未到达，但救援者子状态推进到 EN_ROUTE
		arrived, err := svc.EvaluateRescuerProximity(ctx, c.ID, "rescuer-1", baseLat+0.1, baseLon)
		require.NoError(t, err)
		assert.False(t, arrived)

		got, err := svc.Get(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, got.Responders, 1)
		assert.Equal(t, models.ResponderEnRoute, got.Responders[0].Status)
	})
}

func TestCancel(t *testing.T) {
	svc, bus, rec := newTestService(t)
	ctx := context.Background()

	t.Run("owner cancels active case", func(t *testing.T) {
		c := mustCreate(t, svc, CreateCaseRequest{City: "manila", RequesterID: strPtr("user-1")})

		got, err := svc.Cancel(ctx, c.ID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)

		// 重复撤销是冲突而非非法转移
		_, err = svc.Cancel(ctx, c.ID, "user-1")
		assert.True(t, errors.IsCode(err, errors.CodeConflict))
	})

	t.Run("non-owner forbidden", func(t *testing.T) {
		c := mustCreate(t, svc, CreateCaseRequest{City: "manila", RequesterID: strPtr("user-1")})

		_, err := svc.Cancel(ctx, c.ID, "user-2")
		assert.True(t, errors.IsCode(err, errors.CodeForbidden))

		got, err := svc.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, got.Status, "越权撤销不产生任何变更")
	})

	t.Run("only ACTIVE can be cancelled", func(t *testing.T) {
		c := mustCreate(t, svc, CreateCaseRequest{City: "manila", RequesterID: strPtr("user-1")})
		_, err := svc.AssignResponder(ctx, c.ID, "rescuer-1", "station-A")
		require.NoError(t, err)

		_, err = svc.Cancel(ctx, c.ID, "user-1")
		assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition))
	})

	bus.Wait()
	for _, e := range rec.statusEvents() {
		assert.True(t, models.CanTransition(e.Previous, e.New), "事件里只应出现合法的边")
	}
}

func TestCloseCase(t *testing.T) {
	svc, bus, rec := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, CreateCaseRequest{City: "manila"})

	got, err := svc.Close(ctx, c.ID, "救援完成", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.Equal(t, "救援完成", got.Note)

	// 终态单子不可再结案
	_, err = svc.Close(ctx, c.ID, "again", "admin-1")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition))

	bus.Wait()
	events := rec.statusEvents()
	require.Len(t, events, 1, "失败的转移不发布事件")
	assert.Equal(t, models.StatusResolved, events[0].New)
	assert.Equal(t, "admin-1", events[0].UpdatedBy)
}

func TestTag(t *testing.T) {
	svc, bus, rec := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, CreateCaseRequest{City: "manila"})

	got, err := svc.Tag(ctx, c.ID, "fire")
	require.NoError(t, err)
	assert.Equal(t, "fire", got.Type)
	assert.Equal(t, models.StatusActive, got.Status, "打标签不是状态转移")

	_, err = svc.Tag(ctx, c.ID, "")
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	bus.Wait()
	rec.mu.Lock()
	assert.Len(t, rec.tagged, 1)
	rec.mu.Unlock()
	assert.Empty(t, rec.statusEvents())
}

func TestAllRespondersLeavingRevertsToActive(t *testing.T) {
	svc, bus, rec := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, CreateCaseRequest{City: "manila"})

	_, err := svc.AssignResponder(ctx, c.ID, "rescuer-1", "station-A")
	require.NoError(t, err)
	_, err = svc.AssignResponder(ctx, c.ID, "rescuer-2", "station-B")
	require.NoError(t, err)

	// 一人退出后仍有人在场，状态不回退
	got, err := svc.MarkResponderLeft(ctx, c.ID, "rescuer-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnRoute, got.Status)

	// 最后一人拒绝，单子回到 ACTIVE 等待重新派遣
	got, err = svc.MarkResponderRejected(ctx, c.ID, "rescuer-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	bus.Wait()
	events := rec.statusEvents()
	require.Len(t, events, 2)
	assert.Equal(t, models.StatusEnRoute, events[0].New)
	assert.Equal(t, models.StatusActive, events[1].New)
}

func TestSaveLocation(t *testing.T) {
	svc, bus, rec := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, CreateCaseRequest{City: "manila"})

	require.NoError(t, svc.SaveLocation(ctx, c.ID, 14.6, 121.0))

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, got.HasLocation())
	assert.InDelta(t, 14.6, *got.Latitude, 1e-9)
	assert.InDelta(t, 121.0, *got.Longitude, 1e-9)

	err = svc.SaveLocation(ctx, c.ID, 91, 0)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	_, err = svc.Close(ctx, c.ID, "", "admin-1")
	require.NoError(t, err)
	err = svc.SaveLocation(ctx, c.ID, 14.7, 121.1)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition), "终态单子不再接受位置更新")

	bus.Wait()
	rec.mu.Lock()
	assert.Len(t, rec.located, 1)
	rec.mu.Unlock()
}

func TestChannelPresence(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, CreateCaseRequest{City: "manila"})

	p, err := svc.JoinChannel(ctx, c.ID, "admin-1", "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", p.Role)

	_, err = svc.JoinChannel(ctx, c.ID, "admin-1", "admin")
	assert.True(t, errors.IsCode(err, errors.CodeConflict), "同一人同时最多一条在场记录")

	require.NoError(t, svc.LeaveChannel(ctx, c.ID, "admin-1"))
	err = svc.LeaveChannel(ctx, c.ID, "admin-1")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	// 离开后可以再次加入
	_, err = svc.JoinChannel(ctx, c.ID, "admin-1", "admin")
	assert.NoError(t, err)

	_, err = svc.JoinChannel(ctx, "no-such-case", "admin-1", "admin")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}
