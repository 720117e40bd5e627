package allocator

import (
	"errors"

	"os-downloads/app/model"
)

var (
	// ErrNotAcceptable 需要内容类型的落盘位置没有提供内容类型
	ErrNotAcceptable = errors.New("无法处理的内容类型")
	// ErrFileError 目录无法创建、空间不足或无法生成唯一文件名
	ErrFileError = errors.New("文件错误")
	// ErrStorageUnavailable 外部存储未挂载且没有可用的内部备用目录
	ErrStorageUnavailable = errors.New("存储不可用")
)

// StatusOf 返回分配错误对应的任务状态码
func StatusOf(err error) model.StatusCode {
	switch {
	case err == nil:
		return model.StatusSuccess
	case errors.Is(err, ErrNotAcceptable):
		return model.StatusNotAcceptable
	case errors.Is(err, ErrFileError), errors.Is(err, ErrStorageUnavailable):
		return model.StatusFileError
	default:
		return model.StatusUnknownError
	}
}
