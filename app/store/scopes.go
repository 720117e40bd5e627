package store

import (
	"os-downloads/app/model"

	"gorm.io/gorm"
)

// Scope 查询过滤条件
type Scope = func(*gorm.DB) *gorm.DB

const (
	completedSQL = "((status >= 200 AND status < 300) OR (status >= 400 AND status < 600))"
	visibleSQL   = "visibility IN (0, 1)"
)

func ByID(id uint) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

// ByIDs 匹配一组 id
func ByIDs(ids ...uint) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id IN ?", ids)
	}
}

func ByURL(uri string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("uri = ?", uri)
	}
}

// ByGroup 按分组键过滤
func ByGroup(group string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("apkid = ?", group)
	}
}

func ByFilePath(path string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("file_path = ?", path)
	}
}

func WithStatus(codes ...model.StatusCode) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status IN ?", codes)
	}
}

func WithControl(c model.Control) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("control = ?", c)
	}
}

// Completed 成功或失败的任务
func Completed() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(completedSQL)
	}
}

// NotCompleted 仍在等待、传输或暂停的任务
func NotCompleted() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("NOT " + completedSQL)
	}
}

func Succeeded() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status >= 200 AND status < 300")
	}
}

func Failed() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status >= 400 AND status < 600")
	}
}

// Unfinished 状态码处于 1xx 区间
func Unfinished() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status >= 100 AND status < 200")
	}
}

// Purgeable 可被空间回收清理的任务
func Purgeable() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND destination = ?", model.StatusSuccess, model.DestinationCachePartitionPurgeable)
	}
}

// RunningVisible 正在传输且需要展示进度
func RunningVisible() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND "+visibleSQL, model.StatusRunning)
	}
}

func RunningPausedVisible() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND "+visibleSQL, model.StatusRunningPaused)
	}
}

// CompletedNotify 已结束且要求完成后通知
func CompletedNotify() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status >= 200 AND visibility = ?", model.VisibilityVisibleNotifyCompleted)
	}
}

// ModifiedBefore 最后修改时间早于给定毫秒时间戳
func ModifiedBefore(millis int64) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("lastmod < ?", millis)
	}
}

// OwnedBy 按创建者过滤
func OwnedBy(uid int) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("uid = ?", uid)
	}
}
