package model

import "time"

// DownloadTask 持久化的下载任务
type DownloadTask struct {
	ID                  uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	URI                 string      `json:"uri" gorm:"column:uri;not null;index;comment:下载地址"`
	MimeType            string      `json:"mimetype" gorm:"column:mimetype;comment:内容类型"`
	Destination         Destination `json:"destination" gorm:"column:destination;not null;index;comment:落盘位置类别"`
	Visibility          Visibility  `json:"visibility" gorm:"column:visibility;not null;comment:通知可见性"`
	Control             Control     `json:"control" gorm:"column:control;not null;comment:控制信号"`
	Status              StatusCode  `json:"status" gorm:"column:status;not null;index;comment:状态码"`
	CurrentBytes        int64       `json:"current_bytes" gorm:"column:current_bytes;comment:已下载字节"`
	TotalBytes          int64       `json:"total_bytes" gorm:"column:total_bytes;comment:总字节，-1 表示未知"`
	FilePath            string      `json:"file_path" gorm:"column:file_path;index;comment:本地文件路径"`
	Hint                string      `json:"hint" gorm:"column:hint;comment:文件名提示"`
	Title               string      `json:"title" gorm:"column:title"`
	Description         string      `json:"description" gorm:"column:description"`
	GroupKey            string      `json:"apkid" gorm:"column:apkid;index;comment:任务分组"`
	CookieData          string      `json:"-" gorm:"column:cookie_data"`
	UserAgent           string      `json:"user_agent" gorm:"column:user_agent"`
	Referer             string      `json:"referer" gorm:"column:referer"`
	NotificationPackage string      `json:"notification_package" gorm:"column:notification_package"`
	NotificationClass   string      `json:"notification_class" gorm:"column:notification_class"`
	NotificationExtras  string      `json:"notification_extras" gorm:"column:notification_extras"`
	AppData             string      `json:"entity" gorm:"column:entity;comment:调用方私有数据"`
	NoIntegrity         bool        `json:"no_integrity" gorm:"column:no_integrity"`
	OtherUID            int         `json:"other_uid" gorm:"column:other_uid"`
	ETag                string      `json:"etag" gorm:"column:etag"`
	FailedConnections   int         `json:"num_failed" gorm:"column:num_failed"`
	LastModified        int64       `json:"lastmod" gorm:"column:lastmod;index;comment:最后修改时间（毫秒）"`
	OwnerUID            int         `json:"uid" gorm:"column:uid;index;comment:创建者标识"`
}

// TableName 指定表名
func (DownloadTask) TableName() string {
	return "download_tasks"
}

// IsSuccess 任务是否已成功完成
func (t *DownloadTask) IsSuccess() bool {
	return t.Status.IsSuccess()
}

// IsPaused 是否处于暂停，包括尚未被执行器确认的暂停请求
func (t *DownloadTask) IsPaused() bool {
	return t.Status.IsSuspended() || t.Control == ControlPaused
}

// Progress 返回下载百分比，总长度未知时返回 -1
func (t *DownloadTask) Progress() int {
	if t.TotalBytes <= 0 {
		return -1
	}
	p := int(t.CurrentBytes * 100 / t.TotalBytes)
	if p > 100 {
		p = 100
	}
	return p
}

// ModifiedAt 返回最后修改时间
func (t *DownloadTask) ModifiedAt() time.Time {
	return time.UnixMilli(t.LastModified)
}

// NowMillis 返回当前毫秒时间戳
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
