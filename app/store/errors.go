package store

import "errors"

var (
	// ErrInvalidArgument 缺少必填字段或字段集合为空
	ErrInvalidArgument = errors.New("参数无效")
	// ErrNotFound 指定 id 的任务不存在
	ErrNotFound = errors.New("任务不存在")
)
