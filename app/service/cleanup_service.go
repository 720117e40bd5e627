package service

import (
	"context"
	"sync"
	"time"

	"os-downloads/app/config"
	"os-downloads/app/logger"
	"os-downloads/app/store"

	"github.com/robfig/cron/v3"
)

// CleanupService 定时清理失效的任务记录
type CleanupService struct {
	logger       *logger.Logger
	store        *store.TaskStore
	schedule     string
	failedMaxAge time.Duration
	cron         *cron.Cron
	mu           sync.Mutex
	executing    bool // 上一轮尚未结束时跳过本轮
}

// NewCleanupService 创建清理服务
func NewCleanupService(s *store.TaskStore, cfg config.CleanupConfig, log *logger.Logger) *CleanupService {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 10m"
	}
	return &CleanupService{
		logger:       log,
		store:        s,
		schedule:     schedule,
		failedMaxAge: time.Duration(cfg.FailedRetentionDays) * 24 * time.Hour,
	}
}

// Start 按 cron 表达式启动清理任务
func (c *CleanupService) Start() error {
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.schedule, c.runScheduled); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Infof("清理服务已启动，计划: %s", c.schedule)
	return nil
}

// Stop 停止调度并等待正在执行的清理结束
func (c *CleanupService) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.logger.Info("清理服务已停止")
}

func (c *CleanupService) runScheduled() {
	c.mu.Lock()
	if c.executing {
		c.mu.Unlock()
		return
	}
	c.executing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.executing = false
		c.mu.Unlock()
	}()

	if _, err := c.RunOnce(context.Background()); err != nil {
		c.logger.Errorf("清理任务失败: %v", err)
	}
}

// RunOnce 删除文件已丢失的成功任务，以及超过保留期的失败任务，返回删除的行数
func (c *CleanupService) RunOnce(ctx context.Context) (int64, error) {
	var stale []uint
	for task, err := range c.store.Query(ctx, store.Query{
		Scopes:  []store.Scope{store.Succeeded()},
		Columns: []string{"id", "file_path"},
	}) {
		if err != nil {
			return 0, err
		}
		if task.FilePath == "" || !fileExists(task.FilePath) {
			stale = append(stale, task.ID)
		}
	}

	var removed int64
	if len(stale) > 0 {
		n, err := c.store.DeleteWhere(ctx, store.ByIDs(stale...), store.Succeeded())
		removed += n
		if err != nil {
			return removed, err
		}
		c.logger.Infof("已清理 %d 个文件丢失的完成任务", n)
	}

	if c.failedMaxAge > 0 {
		cutoff := time.Now().Add(-c.failedMaxAge).UnixMilli()
		n, err := c.store.DeleteWhere(ctx, store.Failed(), store.ModifiedBefore(cutoff))
		removed += n
		if err != nil {
			return removed, err
		}
		if n > 0 {
			c.logger.Infof("已清理 %d 个过期的失败任务", n)
		}
	}

	return removed, nil
}
