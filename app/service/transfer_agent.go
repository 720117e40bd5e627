package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"os-downloads/app/allocator"
	"os-downloads/app/config"
	"os-downloads/app/logger"
	"os-downloads/app/model"
	"os-downloads/app/store"
	"os-downloads/app/utils/downloader"
)

const (
	progressMinBytes      = 4096
	progressMinInterval   = 1500 * time.Millisecond
	maxConnectionFailures = 5
	copyBufferSize        = 32 * 1024
)

// errTransferStopped 任务在传输中被暂停或删除
var errTransferStopped = errors.New("传输已中止")

// AgentConfig 传输执行器配置
type AgentConfig struct {
	MaxConcurrent int           // 最大并发传输数
	PollInterval  time.Duration // 轮询间隔
}

// AgentConfigFrom 由配置文件构造执行器配置
func AgentConfigFrom(cfg config.AgentConfig) AgentConfig {
	return AgentConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		PollInterval:  time.Duration(cfg.PollInterval) * time.Second,
	}
}

// TransferAgent 后台传输执行器。
// 被任务表唤醒或定时轮询，推进暂停/恢复状态并启动等待中的任务。
type TransferAgent struct {
	logger    *logger.Logger
	store     *store.TaskStore
	allocator *allocator.Allocator
	fetcher   *downloader.Fetcher
	config    AgentConfig
	workers   chan struct{} // 用于控制并发数的信号量
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex

	activeMu sync.Mutex
	active   map[uint]*activeTransfer
	rescan   chan struct{} // 传输退出后触发一次扫描
}

// NewTransferAgent 创建传输执行器
func NewTransferAgent(s *store.TaskStore, alloc *allocator.Allocator, fetcher *downloader.Fetcher, cfg AgentConfig, log *logger.Logger) *TransferAgent {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	return &TransferAgent{
		logger:    log,
		store:     s,
		allocator: alloc,
		fetcher:   fetcher,
		config:    cfg,
		workers:   make(chan struct{}, cfg.MaxConcurrent),
		active:    make(map[uint]*activeTransfer),
		rescan:    make(chan struct{}, 1),
	}
}

// Start 启动执行器。上次退出时仍在传输的任务重置为等待状态。
func (a *TransferAgent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isRunning {
		a.logger.Warn("传输执行器已经在运行中")
		return
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	n, err := a.store.UpdateWhere(a.ctx, model.TaskFields{Status: model.Ptr(model.StatusPending)}, store.WithStatus(model.StatusRunning))
	if err != nil {
		a.logger.Errorf("重置中断的任务失败: %v", err)
	} else if n > 0 {
		a.logger.Infof("已将 %d 个中断的任务重置为等待状态", n)
	}

	a.isRunning = true
	a.logger.Infof("启动传输执行器，最大并发数: %d", a.config.MaxConcurrent)

	a.wg.Add(1)
	go a.processQueue()
}

// Stop 停止执行器并等待所有传输退出，未完成的任务保持 Running，下次启动时恢复
func (a *TransferAgent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isRunning {
		return
	}

	a.logger.Info("正在停止传输执行器...")
	a.cancel()
	a.wg.Wait()
	a.isRunning = false
	a.logger.Info("传输执行器已停止")
}

// IsRunning 执行器是否在运行
func (a *TransferAgent) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isRunning
}

// ActiveCount 正在传输的任务数
func (a *TransferAgent) ActiveCount() int {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()
	return len(a.active)
}

func (a *TransferAgent) processQueue() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	a.scan(a.ctx)
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.store.Wakeups():
			a.scan(a.ctx)
		case <-a.rescan:
			a.scan(a.ctx)
		case <-ticker.C:
			a.scan(a.ctx)
		}
	}
}

// scan 推进控制信号对应的状态，停止被暂停或删除的传输，再启动等待中的任务
func (a *TransferAgent) scan(ctx context.Context) {
	transitions := []struct {
		to      model.StatusCode
		control model.Control
		from    []model.StatusCode
	}{
		{model.StatusPendingPaused, model.ControlPaused, []model.StatusCode{model.StatusPending}},
		{model.StatusRunningPaused, model.ControlPaused, []model.StatusCode{model.StatusRunning}},
		{model.StatusPending, model.ControlRun, []model.StatusCode{model.StatusPendingPaused, model.StatusRunningPaused}},
	}
	for _, tr := range transitions {
		_, err := a.store.UpdateWhere(ctx, model.TaskFields{Status: model.Ptr(tr.to)},
			store.WithControl(tr.control), store.WithStatus(tr.from...))
		if err != nil && ctx.Err() == nil {
			a.logger.Errorf("更新任务状态为 %s 失败: %v", tr.to, err)
		}
	}

	a.reapStopped(ctx)

	candidates, err := a.store.List(ctx, store.Query{
		Scopes:  []store.Scope{store.WithStatus(model.StatusPending), store.WithControl(model.ControlRun)},
		OrderBy: "id ASC",
	})
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Errorf("查询等待中的任务失败: %v", err)
		}
		return
	}
	for i := range candidates {
		if !a.tryStart(&candidates[i]) {
			break
		}
	}
}

// activeTransfer 正在执行的传输。running 在任务行被标记为 192 后置位。
type activeTransfer struct {
	cancel  context.CancelCauseFunc
	running bool
}

// reapStopped 取消那些任务行已被删除、暂停或重置（不再是 192）的传输
func (a *TransferAgent) reapStopped(ctx context.Context) {
	a.activeMu.Lock()
	ids := make([]uint, 0, len(a.active))
	for id, t := range a.active {
		if t.running {
			ids = append(ids, id)
		}
	}
	a.activeMu.Unlock()
	if len(ids) == 0 {
		return
	}

	alive, err := a.store.List(ctx, store.Query{
		Scopes: []store.Scope{
			store.ByIDs(ids...),
			store.WithControl(model.ControlRun),
			store.WithStatus(model.StatusRunning),
		},
		Columns: []string{"id"},
	})
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Errorf("查询传输中的任务失败: %v", err)
		}
		return
	}
	keep := make(map[uint]bool, len(alive))
	for _, t := range alive {
		keep[t.ID] = true
	}

	a.activeMu.Lock()
	defer a.activeMu.Unlock()
	for _, id := range ids {
		if t, ok := a.active[id]; ok && t.running && !keep[id] {
			t.cancel(errTransferStopped)
		}
	}
}

func (a *TransferAgent) markRunning(id uint) {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()
	if t, ok := a.active[id]; ok {
		t.running = true
	}
}

// tryStart 并发已满时返回 false
func (a *TransferAgent) tryStart(task *model.DownloadTask) bool {
	a.activeMu.Lock()
	if _, ok := a.active[task.ID]; ok {
		a.activeMu.Unlock()
		return true
	}

	select {
	case a.workers <- struct{}{}:
	default:
		a.activeMu.Unlock()
		return false
	}

	ctx, cancel := context.WithCancelCause(a.ctx)
	a.active[task.ID] = &activeTransfer{cancel: cancel}
	a.activeMu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.workers }()
		defer func() {
			a.activeMu.Lock()
			delete(a.active, task.ID)
			a.activeMu.Unlock()
			cancel(nil)
			select {
			case a.rescan <- struct{}{}:
			default:
			}
		}()

		a.transfer(ctx, task)
	}()
	return true
}

func (a *TransferAgent) transfer(ctx context.Context, task *model.DownloadTask) {
	n, err := a.store.UpdateByID(ctx, task.ID, model.TaskFields{Status: model.Ptr(model.StatusRunning)},
		store.WithStatus(model.StatusPending), store.WithControl(model.ControlRun))
	if err != nil || n == 0 {
		return
	}
	a.markRunning(task.ID)
	a.logger.Infof("开始下载任务: ID=%d, URL=%s", task.ID, task.URI)

	status, err := a.run(ctx, task)
	switch {
	case errors.Is(err, errTransferStopped) || errors.Is(context.Cause(ctx), errTransferStopped):
		a.logger.Infof("下载任务已中止: ID=%d", task.ID)
		return
	case err != nil && a.ctx.Err() != nil:
		return
	case err == nil:
		a.logger.Infof("下载任务完成: ID=%d", task.ID)
		return
	}

	a.fail(task, status, err)
}

// fail 记录失败状态，网络异常在达到上限前重新排队
func (a *TransferAgent) fail(task *model.DownloadTask, status model.StatusCode, cause error) {
	failures := task.FailedConnections
	if status == model.StatusHTTPException {
		failures++
		if failures < maxConnectionFailures {
			a.logger.Warnf("下载任务网络异常，稍后重试 (%d/%d): ID=%d, 错误=%v", failures, maxConnectionFailures, task.ID, cause)
			_, err := a.store.UpdateByID(a.ctx, task.ID, model.TaskFields{
				Status:            model.Ptr(model.StatusPending),
				FailedConnections: model.Ptr(failures),
			}, store.WithStatus(model.StatusRunning))
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				a.logger.Errorf("任务 %d 重新排队失败: %v", task.ID, err)
			}
			return
		}
	}

	a.logger.Errorf("下载任务失败: ID=%d, 状态=%d(%s), 错误=%v", task.ID, status, status, cause)
	_, err := a.store.UpdateByID(a.ctx, task.ID, model.TaskFields{
		Status:            model.Ptr(status),
		FailedConnections: model.Ptr(failures),
	}, store.WithStatus(model.StatusRunning))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.logger.Errorf("保存任务 %d 的失败状态出错: %v", task.ID, err)
	}
}

// run 执行一次传输，成功时写入 200；失败时返回应持久化的状态码
func (a *TransferAgent) run(ctx context.Context, task *model.DownloadTask) (model.StatusCode, error) {
	offset := resumeOffset(task)
	res, err := a.fetcher.Open(ctx, downloader.Request{
		URL:       task.URI,
		UserAgent: task.UserAgent,
		Cookie:    task.CookieData,
		Referer:   task.Referer,
		Offset:    offset,
		IfRange:   task.ETag,
	})
	if err != nil {
		if errors.Is(err, downloader.ErrTooManyRedirects) {
			return model.StatusTooManyRedirects, err
		}
		return model.StatusHTTPException, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusPartialContent && offset > 0:
	case res.StatusCode == http.StatusOK:
		offset = 0
	default:
		return statusForResponse(res.StatusCode), fmt.Errorf("服务器返回状态码 %d", res.StatusCode)
	}

	path, err := a.prepareFile(ctx, task, res, offset)
	if err != nil {
		return allocator.StatusOf(err), err
	}

	total := int64(-1)
	if res.ContentLength >= 0 {
		total = offset + res.ContentLength
	}
	fields := model.TaskFields{
		FilePath:     model.Ptr(path),
		TotalBytes:   model.Ptr(total),
		CurrentBytes: model.Ptr(offset),
		ETag:         model.Ptr(res.ETag),
	}
	if task.MimeType == "" && res.ContentType != "" {
		fields.MimeType = model.Ptr(res.ContentType)
	}
	if err := a.persist(ctx, task.ID, fields); err != nil {
		// 路径尚未记录到任务行，没有其他地方会再删除这个文件
		if offset == 0 {
			if rerr := store.RemoveFile(path); rerr != nil {
				a.logger.Warnf("删除未记录的文件 %s 失败: %v", path, rerr)
			}
		}
		return model.StatusUnknownError, err
	}

	flag := os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		flag = os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return model.StatusFileError, fmt.Errorf("打开文件失败: %w", err)
	}
	defer file.Close()

	current, err := a.copyBody(ctx, task.ID, file, res.Body, offset)
	if err != nil {
		return transferStatus(err), err
	}
	if total >= 0 && current != total {
		return model.StatusHTTPDataError, fmt.Errorf("接收数据不完整: %d/%d", current, total)
	}
	if err := file.Sync(); err != nil {
		return model.StatusFileError, fmt.Errorf("同步文件失败: %w", err)
	}

	if err := a.persist(ctx, task.ID, model.TaskFields{
		Status:       model.Ptr(model.StatusSuccess),
		CurrentBytes: model.Ptr(current),
		TotalBytes:   model.Ptr(current),
	}); err != nil {
		return model.StatusUnknownError, err
	}
	return model.StatusSuccess, nil
}

// prepareFile 续传时沿用已有文件，否则删除旧文件后重新分配
func (a *TransferAgent) prepareFile(ctx context.Context, task *model.DownloadTask, res *downloader.Response, offset int64) (string, error) {
	if offset > 0 {
		return task.FilePath, nil
	}
	if err := store.RemoveFile(task.FilePath); err != nil {
		return "", fmt.Errorf("%w: %v", allocator.ErrFileError, err)
	}
	return a.allocator.Allocate(ctx, allocator.Request{
		URL:                task.URI,
		Hint:               task.Hint,
		ContentDisposition: res.ContentDisposition,
		ContentLocation:    res.ContentLocation,
		MimeType:           task.MimeType,
		Destination:        task.Destination,
		ContentLength:      res.ContentLength,
	})
}

type writeError struct{ err error }

func (e *writeError) Error() string { return "写入文件失败: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// copyBody 复制响应体，每累计 4096 字节且间隔 1500 毫秒保存一次进度
func (a *TransferAgent) copyBody(ctx context.Context, id uint, dst io.Writer, src io.Reader, current int64) (int64, error) {
	buf := make([]byte, copyBufferSize)
	lastBytes, lastTime := current, time.Now()

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return current, &writeError{err}
			}
			current += int64(n)

			if current-lastBytes > progressMinBytes && time.Since(lastTime) > progressMinInterval {
				if err := a.persist(ctx, id, model.TaskFields{CurrentBytes: model.Ptr(current)}); err != nil {
					return current, err
				}
				lastBytes, lastTime = current, time.Now()
			}
		}
		if rerr == io.EOF {
			return current, nil
		}
		if rerr != nil {
			return current, rerr
		}
	}
}

// persist 重新读取任务行后写入，只更新仍处于 192 的行。
// 任务被删除、暂停或被重置为等待时返回 errTransferStopped。
func (a *TransferAgent) persist(ctx context.Context, id uint, fields model.TaskFields) error {
	task, err := a.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return errTransferStopped
	}
	if err != nil {
		return err
	}
	if task.Control == model.ControlPaused {
		_, err := a.store.UpdateByID(ctx, id, model.TaskFields{Status: model.Ptr(model.StatusRunningPaused)}, store.WithStatus(model.StatusRunning))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			a.logger.Errorf("保存任务 %d 的暂停状态失败: %v", id, err)
		}
		return errTransferStopped
	}

	fields.Status = coalesce(fields.Status, model.StatusRunning)
	n, err := a.store.UpdateByID(ctx, id, fields, store.WithControl(model.ControlRun), store.WithStatus(model.StatusRunning))
	if errors.Is(err, store.ErrNotFound) {
		return errTransferStopped
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return errTransferStopped
	}
	return nil
}

func coalesce(v *model.StatusCode, def model.StatusCode) *model.StatusCode {
	if v != nil {
		return v
	}
	return model.Ptr(def)
}

// resumeOffset 文件大小与已记录字节一致且有 ETag 时从断点继续
func resumeOffset(task *model.DownloadTask) int64 {
	if task.CurrentBytes <= 0 || task.FilePath == "" || task.ETag == "" {
		return 0
	}
	info, err := os.Stat(task.FilePath)
	if err != nil || info.Size() != task.CurrentBytes {
		return 0
	}
	return task.CurrentBytes
}

// statusForResponse 非成功响应对应的任务状态码
func statusForResponse(code int) model.StatusCode {
	s := model.StatusCode(code)
	switch {
	case s.IsRedirect():
		return model.StatusUnhandledRedirect
	case code == http.StatusRequestedRangeNotSatisfiable:
		return model.StatusPreconditionFailed
	case s.IsError():
		return s
	default:
		return model.StatusUnhandledHTTPCode
	}
}

func transferStatus(err error) model.StatusCode {
	var we *writeError
	switch {
	case errors.Is(err, errTransferStopped):
		return model.StatusCanceled
	case errors.As(err, &we):
		return model.StatusFileError
	default:
		return model.StatusHTTPDataError
	}
}
