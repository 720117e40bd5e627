package service

import (
	"context"
	"errors"
	"os"

	"os-downloads/app/logger"
	"os-downloads/app/model"
	"os-downloads/app/store"
)

// StateResolver 把任务记录归纳为调用方关心的状态。
// 文件路径为空或文件已不存在的任务会在查询时被删除。
type StateResolver struct {
	store  *store.TaskStore
	logger *logger.Logger
}

func NewStateResolver(s *store.TaskStore, log *logger.Logger) *StateResolver {
	return &StateResolver{store: s, logger: log}
}

// Resolve 取第一条匹配的任务并归纳状态
func (r *StateResolver) Resolve(ctx context.Context, scopes ...store.Scope) (model.DownloadState, error) {
	task, err := r.store.First(ctx, scopes...)
	if err != nil {
		return model.NoneState(), err
	}
	if task == nil {
		return model.NoneState(), nil
	}

	if task.FilePath == "" || !fileExists(task.FilePath) {
		if _, err := r.store.DeleteByID(ctx, task.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return model.NoneState(), err
		}
		r.logger.Infof("任务 %d 的文件不存在，已删除记录", task.ID)
		return model.NoneState(), nil
	}

	return Classify(task), nil
}

// QueryState 按分组和下载地址查询
func (r *StateResolver) QueryState(ctx context.Context, group, url string) (model.DownloadState, error) {
	return r.Resolve(ctx, store.ByGroup(group), store.ByURL(url))
}

// QueryStateByURL 只按下载地址查询
func (r *StateResolver) QueryStateByURL(ctx context.Context, url string) (model.DownloadState, error) {
	return r.Resolve(ctx, store.ByURL(url))
}

// Classify 按状态码和控制信号归纳，不检查文件
func Classify(task *model.DownloadTask) model.DownloadState {
	state := model.DownloadState{TaskID: task.ID}
	switch {
	case task.Status.IsSuccess():
		state.Kind = model.StateSuccess
		state.Path = task.FilePath
	case task.Status.IsError():
		state.Kind = model.StateFailed
	case task.IsPaused():
		state.Kind = model.StatePaused
		state.Current, state.Total = task.CurrentBytes, task.TotalBytes
	default:
		state.Kind = model.StateRunning
		state.Current, state.Total = task.CurrentBytes, task.TotalBytes
	}
	return state
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
