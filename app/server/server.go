package server

import (
	"context"
	"net/http"
	"time"

	"os-downloads/app/allocator"
	"os-downloads/app/config"
	"os-downloads/app/database"
	"os-downloads/app/filewatcher"
	"os-downloads/app/handler"
	"os-downloads/app/logger"
	"os-downloads/app/middleware"
	"os-downloads/app/service"
	"os-downloads/app/store"
	"os-downloads/app/utils/downloader"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器以及它驱动的后台服务
type Server struct {
	Config   *config.Config
	Logger   *logger.Logger
	gin      *gin.Engine
	http     *http.Server
	store    *store.TaskStore
	manager  *service.DownloadManager
	fetcher  *downloader.Fetcher
	agent    *service.TransferAgent
	notifier *service.Notifier
	cleanup  *service.CleanupService
	watchers *filewatcher.FileWatcherManager
}

// New 创建一个新的 Server 实例，数据库需已初始化
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(log.Named("http")))

	tasks := store.New(database.GetDB(), log.Named("store"))

	opts := allocator.OptionsFromConfig(cfg.Storage)
	opts.Evictor = allocator.NewPurger(tasks, cfg.Storage.DownloadDir, log.Named("purger"))
	alloc := allocator.New(opts, log.Named("allocator"))

	fetcher := downloader.New(downloader.Config{
		UserAgent:    cfg.Agent.UserAgent,
		Timeout:      time.Duration(cfg.Agent.Timeout) * time.Minute,
		MaxRedirects: cfg.Agent.MaxRedirects,
	})

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:  cfg,
		Logger:  log,
		store:   tasks,
		manager: service.NewDownloadManager(tasks, log.Named("manager")),
		fetcher: fetcher,
		agent:   service.NewTransferAgent(tasks, alloc, fetcher, service.AgentConfigFrom(cfg.Agent), log.Named("agent")),
		cleanup: service.NewCleanupService(tasks, cfg.Cleanup, log.Named("cleanup")),
	}

	if cfg.Notifier.Enabled {
		s.notifier = service.NewNotifier(tasks, time.Duration(cfg.Notifier.Interval)*time.Second, log.Named("notifier"))
	}

	if cfg.Watcher.Enabled {
		watchers, err := filewatcher.NewFileWatcherManager(
			[]string{cfg.Storage.DownloadDir, cfg.Storage.InternalDir}, tasks, log.Named("watcher"))
		if err != nil {
			fetcher.Close()
			return nil, err
		}
		s.watchers = watchers
		log.Infof("已为 %d 个下载目录创建文件监控", watchers.GetWatcherCount())
	}

	// 设置路由
	s.setupRoutes()

	return s, nil
}

// Start 启动后台服务和 HTTP 服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	s.agent.Start()
	if s.notifier != nil {
		s.notifier.Start()
	}
	if err := s.cleanup.Start(); err != nil {
		return err
	}
	if err := s.watchers.Start(); err != nil {
		return err
	}

	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	if err := s.watchers.Stop(); err != nil {
		s.Logger.Errorf("停止文件监控失败: %v", err)
	}
	s.cleanup.Stop()
	if s.notifier != nil {
		s.notifier.Stop()
	}
	s.agent.Stop()
	if err := s.fetcher.Close(); err != nil {
		s.Logger.Errorf("关闭下载客户端失败: %v", err)
	}

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return err
}

// Handler 返回路由，便于测试
func (s *Server) Handler() http.Handler {
	return s.gin
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	taskHandler := handler.NewTaskHandler(s.manager, s.notifier, s.Logger)
	authHandler := handler.NewAuthHandler(s.Config, s.store)

	api := s.gin.Group("/api")
	api.Use(middleware.JWTAuth(s.Config))
	{
		api.GET("/me", authHandler.Me)
		api.POST("/auth/refresh", authHandler.RefreshToken)

		tasks := api.Group("/tasks")
		{
			tasks.POST("", taskHandler.Create)
			tasks.GET("", taskHandler.List)
			tasks.DELETE("", taskHandler.DeleteBatch)
			tasks.GET("/:id", taskHandler.Get)
			tasks.DELETE("/:id", taskHandler.Delete)
			tasks.POST("/:id/pause", taskHandler.Pause)
			tasks.POST("/:id/resume", taskHandler.Resume)
			tasks.POST("/:id/retry", taskHandler.Retry)
		}

		api.DELETE("/groups/:group", taskHandler.DeleteGroup)
		api.GET("/state", taskHandler.State)

		notifications := api.Group("/notifications")
		{
			notifications.GET("", taskHandler.Notifications)
			notifications.DELETE("/:id", taskHandler.DismissNotification)
		}
	}
}
