//go:build linux || darwin || freebsd

package allocator

import (
	"os"

	"golang.org/x/sys/unix"
)

// StatfsProber 通过 statfs 查询文件系统空间
type StatfsProber struct{}

func (StatfsProber) Usage(path string) (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{}, err
	}
	return DiskUsage{
		BlockSize:       int64(st.Bsize),
		AvailableBlocks: int64(st.Bavail),
	}, nil
}

// Mounted 挂载点存在且可写时视为已挂载
func Mounted(root string) bool {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	return unix.Access(root, unix.W_OK) == nil
}
