package handler

import (
	"context"
	"net/http"
	"strconv"

	"os-downloads/app/auth"
	"os-downloads/app/logger"
	"os-downloads/app/model"
	"os-downloads/app/service"
	"os-downloads/app/store"

	"github.com/gin-gonic/gin"
)

// TaskHandler 下载任务接口
type TaskHandler struct {
	manager  *service.DownloadManager
	notifier *service.Notifier
	logger   *logger.Logger
}

// NewTaskHandler 创建任务处理器，notifier 为 nil 时通知接口返回空列表
func NewTaskHandler(manager *service.DownloadManager, notifier *service.Notifier, log *logger.Logger) *TaskHandler {
	return &TaskHandler{manager: manager, notifier: notifier, logger: log}
}

// CreateTaskRequest 新建任务请求
type CreateTaskRequest struct {
	service.EnrollRequest
	Package bool `json:"package"` // 安装包下载，内容类型固定
}

// TaskResponse 任务详情和归纳后的状态
type TaskResponse struct {
	*model.DownloadTask
	StatusName string `json:"status_name"`
	Progress   int    `json:"progress"`
}

func newTaskResponse(task *model.DownloadTask) TaskResponse {
	return TaskResponse{
		DownloadTask: task,
		StatusName:   task.Status.String(),
		Progress:     task.Progress(),
	}
}

// Create 新建下载任务
func (h *TaskHandler) Create(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	var (
		id  uint
		err error
	)
	if req.Package {
		id, err = h.manager.EnrollPackage(c.Request.Context(), req.EnrollRequest)
	} else {
		id, err = h.manager.Enroll(c.Request.Context(), req.EnrollRequest)
	}
	if err != nil {
		failWithError(c, "添加下载任务失败", err)
		return
	}

	success(c, gin.H{"id": id}, "添加下载任务成功")
}

// List 按状态、分组和创建者列出任务
func (h *TaskHandler) List(c *gin.Context) {
	var scopes []store.Scope
	switch c.DefaultQuery("status", "all") {
	case "active":
		scopes = append(scopes, store.NotCompleted())
	case "completed":
		scopes = append(scopes, store.Completed())
	case "success":
		scopes = append(scopes, store.Succeeded())
	case "failed":
		scopes = append(scopes, store.Failed())
	case "all":
	default:
		fail(c, http.StatusBadRequest, 400, "未知的状态过滤条件")
		return
	}
	if group := c.Query("group"); group != "" {
		scopes = append(scopes, store.ByGroup(group))
	}
	if c.Query("mine") == "true" {
		scopes = append(scopes, store.OwnedBy(auth.CallerUID(c.Request.Context())))
	}

	tasks, err := h.manager.List(c.Request.Context(), scopes...)
	if err != nil {
		failWithError(c, "查询任务失败", err)
		return
	}

	list := make([]TaskResponse, 0, len(tasks))
	for i := range tasks {
		list = append(list, newTaskResponse(&tasks[i]))
	}
	success(c, list, "查询成功")
}

// Get 任务详情
func (h *TaskHandler) Get(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		failWithError(c, "查询任务失败", err)
		return
	}
	success(c, newTaskResponse(task), "查询成功")
}

func (h *TaskHandler) Pause(c *gin.Context) {
	h.control(c, h.manager.Pause, "任务已暂停")
}

func (h *TaskHandler) Resume(c *gin.Context) {
	h.control(c, h.manager.Resume, "任务已恢复")
}

func (h *TaskHandler) Retry(c *gin.Context) {
	h.control(c, h.manager.Retry, "任务已重新排队")
}

// Delete 取消任务并删除文件
func (h *TaskHandler) Delete(c *gin.Context) {
	h.control(c, h.manager.Cancel, "任务已删除")
}

func (h *TaskHandler) control(c *gin.Context, op func(context.Context, uint) error, message string) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), id); err != nil {
		failWithError(c, "操作失败", err)
		return
	}
	success(c, gin.H{"id": id}, message)
}

// DeleteBatch 按范围批量删除：active 取消所有未结束任务，completed 清除已结束任务
func (h *TaskHandler) DeleteBatch(c *gin.Context) {
	var (
		n   int64
		err error
	)
	switch c.Query("scope") {
	case "active":
		n, err = h.manager.CancelAll(c.Request.Context())
	case "completed":
		n, err = h.manager.ClearCompleted(c.Request.Context())
	default:
		fail(c, http.StatusBadRequest, 400, "scope 必须为 active 或 completed")
		return
	}
	if err != nil {
		failWithError(c, "批量删除失败", err)
		return
	}
	success(c, gin.H{"deleted": n}, "批量删除成功")
}

// DeleteGroup 安装完成后删除分组内的全部任务
func (h *TaskHandler) DeleteGroup(c *gin.Context) {
	n, err := h.manager.DeleteInstalled(c.Request.Context(), c.Param("group"))
	if err != nil {
		failWithError(c, "删除分组任务失败", err)
		return
	}
	success(c, gin.H{"deleted": n}, "删除成功")
}

// State 按分组和下载地址查询归纳后的状态，未指定分组时只按地址查询
func (h *TaskHandler) State(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		fail(c, http.StatusBadRequest, 400, "缺少 url 参数")
		return
	}

	var (
		state model.DownloadState
		err   error
	)
	if group := c.Query("group"); group != "" {
		state, err = h.manager.QueryState(c.Request.Context(), group, url)
	} else {
		state, err = h.manager.QueryStateByURL(c.Request.Context(), url)
	}
	if err != nil {
		failWithError(c, "查询状态失败", err)
		return
	}
	success(c, state, "查询成功")
}

// Notifications 当前的进度通知
func (h *TaskHandler) Notifications(c *gin.Context) {
	if h.notifier == nil {
		success(c, []service.Notification{}, "通知服务未启用")
		return
	}
	success(c, h.notifier.Active(), "查询成功")
}

// DismissNotification 关闭已结束任务的通知
func (h *TaskHandler) DismissNotification(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if h.notifier == nil {
		fail(c, http.StatusNotFound, 404, "通知服务未启用")
		return
	}
	if err := h.notifier.Dismiss(c.Request.Context(), id); err != nil {
		failWithError(c, "关闭通知失败", err)
		return
	}
	success(c, gin.H{"id": id}, "通知已关闭")
}

func taskID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, 400, "无效的任务ID")
		return 0, false
	}
	return uint(id), true
}
