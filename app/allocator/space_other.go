//go:build !linux && !darwin && !freebsd

package allocator

import (
	"errors"
	"os"
)

// StatfsProber 在不支持 statfs 的平台上总是返回错误
type StatfsProber struct{}

func (StatfsProber) Usage(path string) (DiskUsage, error) {
	return DiskUsage{}, errors.ErrUnsupported
}

// Mounted 挂载点存在即视为已挂载
func Mounted(root string) bool {
	info, err := os.Stat(root)
	return err == nil && info.IsDir()
}
