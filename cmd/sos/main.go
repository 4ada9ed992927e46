package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"HibiscusSOS/internal/listeners"
	"HibiscusSOS/internal/sos"
	"HibiscusSOS/internal/syncbridge"
	"HibiscusSOS/pkg/backup"
	"HibiscusSOS/pkg/config"
	"HibiscusSOS/pkg/eventbus"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/metrics"
	"HibiscusSOS/pkg/middleware"
	"HibiscusSOS/pkg/notification"
	"HibiscusSOS/pkg/sse"
	"HibiscusSOS/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 持久侧服务：权威求救单记录与状态机
func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg := config.GlobalConfig

	logger.Init(cfg.Log)
	defer logger.Sync()

	db, err := util.OpenDatabase(cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	repo := sos.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	bus := eventbus.New()
	svc := sos.NewService(repo, bus, cfg.ArrivalThresholdMeters)

	// 反应链：镜像推送、聊天提示、看板推送、短信通知
	feed := sse.NewHub(0)
	listeners.InitSOSListeners(bus, listeners.Deps{
		Mirror:    syncbridge.NewMirrorClient(cfg.RealtimeBaseURL, cfg.InternalToken, cfg.SyncTimeout),
		Notifier:  notification.NewSOSNotifier(cfg.Mail, nil),
		Feed:      feed,
		DutyPhone: cfg.DutyPhone,
	})

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), metrics.Middleware())
	engine.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate: "300-M",
		PerRouteRates: map[string]string{
			"/sos/:caseId/location":  "60-M",
			"/sos/:caseId/proximity": "60-M",
		},
		Identifier: "ip",
		SkipPaths:  []string{"/health", "/metrics"},
	}, nil).WithObserver(middleware.NewPrometheusObserver()).Middleware())
	metrics.Register(engine)

	sos.NewHandler(svc, db).Register(engine, cfg.InternalToken)

	// 值班台看板事件流，?group= 订阅辖区
	engine.GET("/dispatch/feed", middleware.InternalAuth(cfg.InternalToken), func(c *gin.Context) {
		feed.Serve(c, uuid.NewString())
	})

	if cfg.BackupSchedule != "" {
		bk := backup.NewScheduler(cfg.DBDriver, cfg.DSN, cfg.BackupPath, cfg.BackupSchedule)
		if err := bk.Start(); err != nil {
			logger.Fatal("备份调度启动失败", zap.Error(err))
		}
		defer bk.Stop()
	}

	server := &http.Server{Addr: cfg.SOSAddr, Handler: engine}
	go func() {
		logger.Info("持久侧服务启动", zap.String("addr", cfg.SOSAddr))
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
	bus.Wait()
	logger.Info("持久侧服务已退出")
}
