package model

// Destination 文件落盘位置类别
type Destination int

const (
	DestinationExternal                Destination = 0 // 外部共享存储
	DestinationCachePartition          Destination = 1 // 应用缓存分区
	DestinationCachePartitionPurgeable Destination = 2 // 缓存分区，空间不足时可被清理
	DestinationCachePartitionNoRoaming Destination = 3 // 缓存分区，不允许漫游网络
)

// IsCache 是否落在缓存分区
func (d Destination) IsCache() bool {
	switch d {
	case DestinationCachePartition, DestinationCachePartitionPurgeable, DestinationCachePartitionNoRoaming:
		return true
	}
	return false
}

// Valid 是否为已定义的类别
func (d Destination) Valid() bool {
	return d == DestinationExternal || d.IsCache()
}

func (d Destination) String() string {
	switch d {
	case DestinationExternal:
		return "external"
	case DestinationCachePartition:
		return "cache"
	case DestinationCachePartitionPurgeable:
		return "cache_purgeable"
	case DestinationCachePartitionNoRoaming:
		return "cache_noroaming"
	}
	return "unknown"
}

// Visibility 通知可见性
type Visibility int

const (
	VisibilityVisible                Visibility = 0 // 运行时显示
	VisibilityVisibleNotifyCompleted Visibility = 1 // 运行时和完成后都显示
	VisibilityHidden                 Visibility = 2 // 不显示
)

func (v Visibility) Valid() bool {
	return v >= VisibilityVisible && v <= VisibilityHidden
}

func (v Visibility) String() string {
	switch v {
	case VisibilityVisible:
		return "visible"
	case VisibilityVisibleNotifyCompleted:
		return "visible_notify_completed"
	case VisibilityHidden:
		return "hidden"
	}
	return "unknown"
}

// Control 外部控制信号
type Control int

const (
	ControlRun    Control = 0
	ControlPaused Control = 1
)

func (c Control) Valid() bool {
	return c == ControlRun || c == ControlPaused
}

func (c Control) String() string {
	if c == ControlPaused {
		return "paused"
	}
	return "run"
}
