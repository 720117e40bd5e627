package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"os-downloads/app/allocator"
	"os-downloads/app/logger"
	"os-downloads/app/model"
	"os-downloads/app/store"
)

// EnrollRequest 新建下载任务的参数
type EnrollRequest struct {
	URL         string            `json:"url" binding:"required"`
	MimeType    string            `json:"mimetype"`
	Destination model.Destination `json:"destination"`
	FileName    string            `json:"file_name"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	GroupKey    string            `json:"apkid"`
	Notify      bool              `json:"notify"` // 是否在运行和完成时显示通知
	Cookie      string            `json:"cookie"`
	UserAgent   string            `json:"user_agent"`
	Referer     string            `json:"referer"`
	AppData     string            `json:"entity"`
}

// DownloadManager 面向调用方的下载任务接口
type DownloadManager struct {
	store    *store.TaskStore
	resolver *StateResolver
	logger   *logger.Logger
}

func NewDownloadManager(s *store.TaskStore, log *logger.Logger) *DownloadManager {
	return &DownloadManager{
		store:    s,
		resolver: NewStateResolver(s, log),
		logger:   log,
	}
}

// Enroll 新建下载任务，没有文件名时以当前毫秒时间戳作为文件名提示
func (m *DownloadManager) Enroll(ctx context.Context, req EnrollRequest) (uint, error) {
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.MimeType) == "" {
		return 0, fmt.Errorf("%w: 下载地址和内容类型不能为空", store.ErrInvalidArgument)
	}

	hint := req.FileName
	if hint == "" {
		hint = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	visibility := model.VisibilityHidden
	if req.Notify {
		visibility = model.VisibilityVisibleNotifyCompleted
	}

	fields := model.TaskFields{
		URI:         model.Ptr(req.URL),
		MimeType:    model.Ptr(req.MimeType),
		Destination: model.Ptr(req.Destination),
		Visibility:  model.Ptr(visibility),
		Hint:        model.Ptr(hint),
		Description: model.Ptr(req.Description),
	}
	setIfNotEmpty(&fields.Title, req.Title)
	setIfNotEmpty(&fields.GroupKey, req.GroupKey)
	setIfNotEmpty(&fields.CookieData, req.Cookie)
	setIfNotEmpty(&fields.UserAgent, req.UserAgent)
	setIfNotEmpty(&fields.Referer, req.Referer)
	setIfNotEmpty(&fields.AppData, req.AppData)

	id, err := m.store.Insert(ctx, fields)
	if err != nil {
		m.logger.Errorf("添加下载任务失败: %v", err)
		return 0, err
	}

	m.logger.Infof("添加下载任务成功: ID=%d, URL=%s", id, req.URL)
	return id, nil
}

// EnrollPackage 下载安装包，内容类型固定
func (m *DownloadManager) EnrollPackage(ctx context.Context, req EnrollRequest) (uint, error) {
	req.MimeType = allocator.MimeTypePackageArchive
	return m.Enroll(ctx, req)
}

func setIfNotEmpty(dst **string, v string) {
	if v != "" {
		*dst = model.Ptr(v)
	}
}

// Pause 请求暂停，执行器在下一次检查时生效
func (m *DownloadManager) Pause(ctx context.Context, id uint) error {
	_, err := m.store.UpdateByID(ctx, id, model.TaskFields{Control: model.Ptr(model.ControlPaused)})
	return err
}

// Resume 恢复运行
func (m *DownloadManager) Resume(ctx context.Context, id uint) error {
	_, err := m.store.UpdateByID(ctx, id, model.TaskFields{Control: model.Ptr(model.ControlRun)})
	return err
}

// Cancel 删除文件和任务
func (m *DownloadManager) Cancel(ctx context.Context, id uint) error {
	_, err := m.store.DeleteByID(ctx, id)
	if err != nil {
		return err
	}
	m.logger.Infof("下载任务已取消: ID=%d", id)
	return nil
}

// Retry 把失败或已完成的任务重置为等待状态
func (m *DownloadManager) Retry(ctx context.Context, id uint) error {
	return m.store.Retry(ctx, id)
}

// CancelAll 删除所有未结束的任务
func (m *DownloadManager) CancelAll(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteWhere(ctx, store.NotCompleted())
	if err == nil {
		m.logger.Infof("已取消 %d 个未完成任务", n)
	}
	return n, err
}

// ClearCompleted 删除所有已结束的任务及其文件
func (m *DownloadManager) ClearCompleted(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteWhere(ctx, store.Completed())
	if err == nil {
		m.logger.Infof("已清除 %d 个已结束任务", n)
	}
	return n, err
}

// DeleteInstalled 安装完成后删除该分组的全部任务
func (m *DownloadManager) DeleteInstalled(ctx context.Context, group string) (int64, error) {
	if group == "" {
		return 0, fmt.Errorf("%w: 分组不能为空", store.ErrInvalidArgument)
	}
	return m.store.DeleteWhere(ctx, store.ByGroup(group))
}

func (m *DownloadManager) QueryState(ctx context.Context, group, url string) (model.DownloadState, error) {
	return m.resolver.QueryState(ctx, group, url)
}

func (m *DownloadManager) QueryStateByURL(ctx context.Context, url string) (model.DownloadState, error) {
	return m.resolver.QueryStateByURL(ctx, url)
}

// Get 读取任务详情
func (m *DownloadManager) Get(ctx context.Context, id uint) (*model.DownloadTask, error) {
	return m.store.Get(ctx, id)
}

// List 按条件列出任务
func (m *DownloadManager) List(ctx context.Context, scopes ...store.Scope) ([]model.DownloadTask, error) {
	return m.store.List(ctx, store.Query{Scopes: scopes})
}
