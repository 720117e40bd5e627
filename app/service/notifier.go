package service

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"os-downloads/app/logger"
	"os-downloads/app/model"
	"os-downloads/app/store"

	"github.com/patrickmn/go-cache"
)

// completedNotificationTTL 完成通知在未被关闭时保留的时间
const completedNotificationTTL = 24 * time.Hour

// NotificationKind 通知类型
type NotificationKind string

const (
	NotificationActive    NotificationKind = "active"
	NotificationPaused    NotificationKind = "paused"
	NotificationCompleted NotificationKind = "completed"
)

// Notification 单个任务的进度通知
type Notification struct {
	TaskID      uint             `json:"task_id"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Current     int64            `json:"current"`
	Total       int64            `json:"total"`
	Progress    int              `json:"progress"` // 百分比，总大小未知时为 -1
	Status      model.StatusCode `json:"status"`
	Path        string           `json:"path,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Notifier 根据任务表维护进度通知
type Notifier struct {
	logger   *logger.Logger
	store    *store.TaskStore
	interval time.Duration
	handles  *cache.Cache
	stopChan chan struct{}
	wg       sync.WaitGroup
	refresh  sync.Mutex
}

// NewNotifier 创建通知服务
func NewNotifier(s *store.TaskStore, interval time.Duration, log *logger.Logger) *Notifier {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Notifier{
		logger:   log,
		store:    s,
		interval: interval,
		handles:  cache.New(completedNotificationTTL, 10*time.Minute),
		stopChan: make(chan struct{}),
	}
}

// Start 启动通知服务，任务表变化或定时器到期时刷新
func (n *Notifier) Start() {
	changes, unwatch := n.store.Watch(0)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer unwatch()

		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()

		n.refreshLogged()
		for {
			select {
			case <-n.stopChan:
				return
			case <-changes:
				n.refreshLogged()
			case <-ticker.C:
				n.refreshLogged()
			}
		}
	}()

	n.logger.Info("通知服务已启动")
}

// Stop 停止通知服务
func (n *Notifier) Stop() {
	close(n.stopChan)
	n.wg.Wait()
	n.logger.Info("通知服务已停止")
}

func (n *Notifier) refreshLogged() {
	if err := n.Refresh(context.Background()); err != nil {
		n.logger.Warnf("刷新通知失败: %v", err)
	}
}

// Refresh 查询传输中、暂停和待通知的已结束任务，更新通知并移除不再需要的通知
func (n *Notifier) Refresh(ctx context.Context) error {
	n.refresh.Lock()
	defer n.refresh.Unlock()

	groups := []struct {
		kind  NotificationKind
		scope store.Scope
		ttl   time.Duration
	}{
		{NotificationActive, store.RunningVisible(), cache.NoExpiration},
		{NotificationPaused, store.RunningPausedVisible(), cache.NoExpiration},
		{NotificationCompleted, store.CompletedNotify(), cache.DefaultExpiration},
	}

	seen := make(map[string]bool)
	for _, g := range groups {
		for task, err := range n.store.Query(ctx, store.Query{Scopes: []store.Scope{g.scope}}) {
			if err != nil {
				return err
			}
			key := notificationKey(task.ID)
			seen[key] = true

			if g.kind == NotificationCompleted {
				if old, ok := n.handles.Get(key); ok && old.(Notification).Kind == NotificationCompleted {
					continue
				}
			}
			n.handles.Set(key, newNotification(task, g.kind), g.ttl)
		}
	}

	for key := range n.handles.Items() {
		if !seen[key] {
			n.handles.Delete(key)
		}
	}
	return nil
}

// Active 返回当前所有通知，按任务 id 排序
func (n *Notifier) Active() []Notification {
	items := n.handles.Items()
	list := make([]Notification, 0, len(items))
	for _, item := range items {
		list = append(list, item.Object.(Notification))
	}
	slices.SortFunc(list, func(a, b Notification) int {
		return int(a.TaskID) - int(b.TaskID)
	})
	return list
}

// Dismiss 关闭已结束任务的通知，之后该任务不再出现在完成通知中
func (n *Notifier) Dismiss(ctx context.Context, id uint) error {
	_, err := n.store.UpdateByID(ctx, id, model.TaskFields{Visibility: model.Ptr(model.VisibilityVisible)}, store.Completed())
	if err != nil {
		return err
	}
	n.handles.Delete(notificationKey(id))
	return nil
}

func notificationKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func newNotification(task *model.DownloadTask, kind NotificationKind) Notification {
	title := task.Title
	if title == "" {
		title = task.Hint
	}
	n := Notification{
		TaskID:      task.ID,
		Kind:        kind,
		Title:       title,
		Description: task.Description,
		Current:     task.CurrentBytes,
		Total:       task.TotalBytes,
		Progress:    task.Progress(),
		Status:      task.Status,
		UpdatedAt:   task.ModifiedAt(),
	}
	if kind == NotificationCompleted && task.Status.IsSuccess() {
		n.Path = task.FilePath
	}
	return n
}
