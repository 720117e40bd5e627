package allocator

// DiskUsage 文件系统的块大小和可用块数
type DiskUsage struct {
	BlockSize       int64
	AvailableBlocks int64
}

// Available 扣除保留块后的可用字节数
func (u DiskUsage) Available(reservedBlocks int64) int64 {
	return u.BlockSize * (u.AvailableBlocks - reservedBlocks)
}

// SpaceProber 查询路径所在文件系统的空间
type SpaceProber interface {
	Usage(path string) (DiskUsage, error)
}

// SpaceProberFunc 函数形式的 SpaceProber
type SpaceProberFunc func(path string) (DiskUsage, error)

func (f SpaceProberFunc) Usage(path string) (DiskUsage, error) {
	return f(path)
}
