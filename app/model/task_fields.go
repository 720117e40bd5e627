package model

// TaskFields 插入或更新时携带的字段集合，nil 表示未设置。
// 插入时只复制允许的字段，Status、OwnerUID、CurrentBytes、FilePath、ETag、
// FailedConnections 由存储层或执行器写入。
type TaskFields struct {
	URI                 *string
	MimeType            *string
	Destination         *Destination
	Visibility          *Visibility
	Control             *Control
	Status              *StatusCode
	CurrentBytes        *int64
	TotalBytes          *int64
	FilePath            *string
	Hint                *string
	Title               *string
	Description         *string
	GroupKey            *string
	CookieData          *string
	UserAgent           *string
	Referer             *string
	NotificationPackage *string
	NotificationClass   *string
	NotificationExtras  *string
	AppData             *string
	NoIntegrity         *bool
	OtherUID            *int
	ETag                *string
	FailedConnections   *int
	OwnerUID            *int
}

// Ptr 返回值的指针，便于构造 TaskFields
func Ptr[T any](v T) *T {
	return &v
}

// Columns 返回已设置字段对应的列名和值
func (f TaskFields) Columns() map[string]any {
	cols := make(map[string]any)
	set := func(col string, ok bool, v func() any) {
		if ok {
			cols[col] = v()
		}
	}
	set("uri", f.URI != nil, func() any { return *f.URI })
	set("mimetype", f.MimeType != nil, func() any { return *f.MimeType })
	set("destination", f.Destination != nil, func() any { return *f.Destination })
	set("visibility", f.Visibility != nil, func() any { return *f.Visibility })
	set("control", f.Control != nil, func() any { return *f.Control })
	set("status", f.Status != nil, func() any { return *f.Status })
	set("current_bytes", f.CurrentBytes != nil, func() any { return *f.CurrentBytes })
	set("total_bytes", f.TotalBytes != nil, func() any { return *f.TotalBytes })
	set("file_path", f.FilePath != nil, func() any { return *f.FilePath })
	set("hint", f.Hint != nil, func() any { return *f.Hint })
	set("title", f.Title != nil, func() any { return *f.Title })
	set("description", f.Description != nil, func() any { return *f.Description })
	set("apkid", f.GroupKey != nil, func() any { return *f.GroupKey })
	set("cookie_data", f.CookieData != nil, func() any { return *f.CookieData })
	set("user_agent", f.UserAgent != nil, func() any { return *f.UserAgent })
	set("referer", f.Referer != nil, func() any { return *f.Referer })
	set("notification_package", f.NotificationPackage != nil, func() any { return *f.NotificationPackage })
	set("notification_class", f.NotificationClass != nil, func() any { return *f.NotificationClass })
	set("notification_extras", f.NotificationExtras != nil, func() any { return *f.NotificationExtras })
	set("entity", f.AppData != nil, func() any { return *f.AppData })
	set("no_integrity", f.NoIntegrity != nil, func() any { return *f.NoIntegrity })
	set("other_uid", f.OtherUID != nil, func() any { return *f.OtherUID })
	set("etag", f.ETag != nil, func() any { return *f.ETag })
	set("num_failed", f.FailedConnections != nil, func() any { return *f.FailedConnections })
	set("uid", f.OwnerUID != nil, func() any { return *f.OwnerUID })
	return cols
}

// IsEmpty 没有任何字段被设置
func (f TaskFields) IsEmpty() bool {
	return len(f.Columns()) == 0
}
