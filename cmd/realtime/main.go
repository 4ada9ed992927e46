package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"HibiscusSOS/internal/realtime"
	"HibiscusSOS/internal/syncbridge"
	"HibiscusSOS/pkg/cache"
	"HibiscusSOS/pkg/config"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/metrics"
	"HibiscusSOS/pkg/scheduler"
	ws "HibiscusSOS/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// hubBroadcaster 把镜像服务的房间广播接到 WebSocket Hub 上
type hubBroadcaster struct{ hub *ws.Hub }

func (b hubBroadcaster) Broadcast(caseID, event string, payload interface{}) {
	b.hub.BroadcastRoom(ws.RoomForCase(caseID), event, payload)
}

// 实时侧网关：Redis 镜像、地理索引、WebSocket 房间广播
func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg := config.GlobalConfig

	logger.Init(cfg.Log)
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}
	pingCancel()

	store := realtime.NewStore(rdb, cfg.StateTTL, cfg.ClosedTTL)
	geoIndex := realtime.NewGeoIndex(rdb)
	sampler := realtime.NewSampler(cfg.SampleInterval, cfg.SampleDistanceM)
	caseClient := syncbridge.NewCaseClient(cfg.SOSBaseURL, cfg.InternalToken, cfg.SyncTimeout)

	wsCfg := ws.LoadConfigFromEnv()
	wsCfg.LocationThrottle = cfg.LocationMinSpacing
	hub := ws.NewHub(wsCfg)

	svc := realtime.NewService(store, geoIndex, sampler, caseClient, hubBroadcaster{hub}, cfg.ArrivalPrefilterMeters)
	svc.UseNegativeCache(cache.NewLocalCache(cache.LocalConfig{
		DefaultExpiration: time.Minute,
		CleanupInterval:   5 * time.Minute,
	}), time.Minute)

	// 客户端上行接到镜像服务
	hub.CaseLocationSink = func(caseID, userID string, lat, lon, accuracy float64) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SyncTimeout)
		defer cancel()
		if _, err := svc.ReportCaseLocation(ctx, caseID, lat, lon, accuracy); err != nil {
			logger.Warn("求救者位置处理失败", zap.String("case_id", caseID), zap.Error(err))
		}
	}
	hub.RescuerLocationSink = func(caseID, userID string, lat, lon, accuracy float64) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SyncTimeout)
		defer cancel()
		if _, err := svc.ReportRescuerLocation(ctx, caseID, userID, lat, lon, accuracy); err != nil {
			logger.Warn("救援者位置处理失败", zap.String("case_id", caseID), zap.Error(err))
		}
	}
	hub.ParticipantSink = func(caseID, userID, role string, joined bool) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SyncTimeout)
		defer cancel()
		var err error
		if joined {
			err = caseClient.JoinParticipant(ctx, caseID, userID, role)
		} else {
			err = caseClient.LeaveParticipant(ctx, caseID, userID)
		}
		if err != nil {
			logger.Warn("在场记录同步失败", zap.String("case_id", caseID),
				zap.String("user_id", userID), zap.Bool("joined", joined), zap.Error(err))
		}
	}
	hub.PresenceSink = func(userID, role string, online bool) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if online {
			_ = store.SetPresence(ctx, &realtime.Presence{
				UserID:      userID,
				Role:        role,
				ConnectedAt: time.Now(),
			}, cfg.StateTTL)
		} else {
			_ = store.ClearPresence(ctx, userID)
		}
	}

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), metrics.Middleware())
	metrics.Register(engine)

	ws.RegisterRoutes(engine, ws.NewHandler(hub, cfg.SocketSecret))
	realtime.NewHandler(svc, caseClient, rdb).Register(engine, cfg.InternalToken)

	// 定期清掉久未上报的采样游标
	cr := scheduler.NewCron(time.Local)
	if _, err := cr.AddWithCtx("@every 10m", func(ctx context.Context) {
		if n := sampler.SweepOlderThan(time.Hour); n > 0 {
			logger.Info("采样游标清理完成", zap.Int("removed", n))
		}
	}); err != nil {
		logger.Fatal("定时任务注册失败", zap.Error(err))
	}
	cr.Start()

	server := &http.Server{Addr: cfg.RealtimeAddr, Handler: engine}
	go func() {
		logger.Info("实时侧网关启动", zap.String("addr", cfg.RealtimeAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("优雅关闭失败", zap.Error(err))
	}
	cr.Stop()
	hub.Close()
	_ = rdb.Close()
	logger.Info("实时侧网关已退出")
}
