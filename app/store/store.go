package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"strings"
	"sync"

	"os-downloads/app/auth"
	"os-downloads/app/logger"
	"os-downloads/app/model"

	"gorm.io/gorm"
)

// deleteBatchSize 单条 DELETE 语句中 id 的最大数量
const deleteBatchSize = 500

// TaskStore 下载任务表。
// 所有写操作由 mu 串行化，每次写入是一条 SQL 语句，行不会出现部分更新。
type TaskStore struct {
	db  *gorm.DB
	log *logger.Logger

	mu   sync.Mutex
	wake chan struct{}

	obsMu     sync.Mutex
	observers map[int]*observer
	nextObs   int
}

// Query 查询参数，零值表示按 id 升序返回全部列
type Query struct {
	ID      uint
	Scopes  []Scope
	Columns []string
	OrderBy string
	Limit   int
}

// New 创建任务存储
func New(db *gorm.DB, log *logger.Logger) *TaskStore {
	return &TaskStore{
		db:        db,
		log:       log,
		wake:      make(chan struct{}, 1),
		observers: make(map[int]*observer),
	}
}

// DB 返回底层数据库连接
func (s *TaskStore) DB() *gorm.DB {
	return s.db
}

// Wakeups 返回唤醒信号通道，连续多次唤醒会合并为一次
func (s *TaskStore) Wakeups() <-chan struct{} {
	return s.wake
}

func (s *TaskStore) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Insert 新建任务并返回 id。
// 只复制允许的字段；状态固定为 Pending，创建者取自调用方身份。
func (s *TaskStore) Insert(ctx context.Context, f model.TaskFields) (uint, error) {
	if f.URI == nil || strings.TrimSpace(*f.URI) == "" {
		return 0, fmt.Errorf("%w: 缺少下载地址", ErrInvalidArgument)
	}

	dest := model.DestinationExternal
	if f.Destination != nil {
		dest = *f.Destination
		if !dest.Valid() {
			return 0, fmt.Errorf("%w: 未知的落盘位置 %d", ErrInvalidArgument, dest)
		}
	}
	mimeRequired := dest == model.DestinationExternal || dest == model.DestinationCachePartitionPurgeable
	if mimeRequired && (f.MimeType == nil || strings.TrimSpace(*f.MimeType) == "") {
		return 0, fmt.Errorf("%w: 落盘位置 %s 需要内容类型", ErrInvalidArgument, dest)
	}

	task := &model.DownloadTask{
		URI:          *f.URI,
		Destination:  dest,
		Visibility:   model.VisibilityHidden,
		Control:      model.ControlRun,
		Status:       model.StatusPending,
		TotalBytes:   -1,
		LastModified: model.NowMillis(),
		OwnerUID:     auth.CallerUID(ctx),
	}
	if dest == model.DestinationExternal {
		task.Visibility = model.VisibilityVisibleNotifyCompleted
	}

	if f.Visibility != nil {
		if !f.Visibility.Valid() {
			return 0, fmt.Errorf("%w: 未知的可见性 %d", ErrInvalidArgument, *f.Visibility)
		}
		task.Visibility = *f.Visibility
	}
	if f.Control != nil {
		if !f.Control.Valid() {
			return 0, fmt.Errorf("%w: 未知的控制信号 %d", ErrInvalidArgument, *f.Control)
		}
		task.Control = *f.Control
	}
	copyString(&task.MimeType, f.MimeType)
	copyString(&task.Hint, f.Hint)
	copyString(&task.Title, f.Title)
	copyString(&task.Description, f.Description)
	copyString(&task.GroupKey, f.GroupKey)
	copyString(&task.CookieData, f.CookieData)
	copyString(&task.UserAgent, f.UserAgent)
	copyString(&task.Referer, f.Referer)
	copyString(&task.NotificationExtras, f.NotificationExtras)
	copyString(&task.AppData, f.AppData)
	if f.NoIntegrity != nil {
		task.NoIntegrity = *f.NoIntegrity
	}
	if f.OtherUID != nil {
		task.OtherUID = *f.OtherUID
	}
	if f.TotalBytes != nil {
		task.TotalBytes = *f.TotalBytes
	}
	if f.NotificationPackage != nil && f.NotificationClass != nil &&
		*f.NotificationPackage != "" && *f.NotificationClass != "" {
		task.NotificationPackage = *f.NotificationPackage
		task.NotificationClass = *f.NotificationClass
	}

	s.mu.Lock()
	err := s.db.WithContext(ctx).Create(task).Error
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("插入任务失败: %w", err)
	}

	s.log.Debugf("新建下载任务 %d: %s", task.ID, task.URI)
	s.signal()
	s.notify(Change{Kind: ChangeInserted, ID: task.ID})
	return task.ID, nil
}

func copyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// UpdateByID 更新单个任务，scopes 进一步收窄匹配条件。
// id 不存在时返回 ErrNotFound；存在但不满足 scopes 时返回 0。
func (s *TaskStore) UpdateByID(ctx context.Context, id uint, f model.TaskFields, scopes ...Scope) (int64, error) {
	n, err := s.update(ctx, f, append([]Scope{ByID(id)}, scopes...))
	if err != nil {
		return 0, err
	}
	defer s.notify(Change{Kind: ChangeUpdated, ID: id})
	if n == 0 && !s.exists(ctx, id) {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return n, nil
}

// UpdateWhere 批量更新，没有 scopes 时匹配全部任务
func (s *TaskStore) UpdateWhere(ctx context.Context, f model.TaskFields, scopes ...Scope) (int64, error) {
	n, err := s.update(ctx, f, scopes)
	if err != nil {
		return 0, err
	}
	s.notify(Change{Kind: ChangeUpdated})
	return n, nil
}

func (s *TaskStore) update(ctx context.Context, f model.TaskFields, scopes []Scope) (int64, error) {
	cols := f.Columns()
	if len(cols) == 0 {
		return 0, fmt.Errorf("%w: 没有需要更新的字段", ErrInvalidArgument)
	}
	cols["lastmod"] = model.NowMillis()

	s.mu.Lock()
	tx := s.db.WithContext(ctx).Model(&model.DownloadTask{})
	if len(scopes) == 0 {
		tx = tx.Where("1 = 1")
	}
	res := tx.Scopes(scopes...).Updates(cols)
	s.mu.Unlock()
	if res.Error != nil {
		return 0, fmt.Errorf("更新任务失败: %w", res.Error)
	}

	if f.Control != nil {
		s.signal()
	}
	return res.RowsAffected, nil
}

// DeleteByID 先删除文件再删除任务行
func (s *TaskStore) DeleteByID(ctx context.Context, id uint, scopes ...Scope) (int64, error) {
	n, err := s.delete(ctx, append([]Scope{ByID(id)}, scopes...))
	s.notify(Change{Kind: ChangeDeleted, ID: id})
	if err != nil {
		return n, err
	}
	if n == 0 && !s.exists(ctx, id) {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return n, nil
}

// DeleteWhere 批量删除，没有 scopes 时删除全部任务
func (s *TaskStore) DeleteWhere(ctx context.Context, scopes ...Scope) (int64, error) {
	n, err := s.delete(ctx, scopes)
	s.notify(Change{Kind: ChangeDeleted})
	return n, err
}

// delete 按 id 顺序逐个清理文件，遇到无法删除的文件即停止，
// 已清理文件的任务行仍会被删除，错误返回给调用方重试。
func (s *TaskStore) delete(ctx context.Context, scopes []Scope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets []model.DownloadTask
	err := s.db.WithContext(ctx).
		Model(&model.DownloadTask{}).
		Select("id", "file_path").
		Scopes(scopes...).
		Order("id ASC").
		Find(&targets).Error
	if err != nil {
		return 0, fmt.Errorf("查询待删除任务失败: %w", err)
	}

	ids := make([]uint, 0, len(targets))
	var fileErr error
	for _, t := range targets {
		if err := RemoveFile(t.FilePath); err != nil {
			fileErr = fmt.Errorf("删除任务 %d 的文件失败: %w", t.ID, err)
			break
		}
		ids = append(ids, t.ID)
	}

	var removed int64
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		res := s.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Delete(&model.DownloadTask{})
		if res.Error != nil {
			return removed, fmt.Errorf("删除任务失败: %w", res.Error)
		}
		removed += res.RowsAffected
	}

	if fileErr != nil {
		s.log.Warnf("%v", fileErr)
	}
	return removed, fileErr
}

// RemoveFile 删除文件，路径为空或文件不存在不视为错误
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Retry 删除已有文件并把任务重置为等待状态
func (s *TaskStore) Retry(ctx context.Context, id uint) error {
	task, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := RemoveFile(task.FilePath); err != nil {
		return fmt.Errorf("删除任务 %d 的文件失败: %w", id, err)
	}

	_, err = s.UpdateByID(ctx, id, model.TaskFields{
		Control:           model.Ptr(model.ControlRun),
		Status:            model.Ptr(model.StatusPending),
		Visibility:        model.Ptr(model.VisibilityVisibleNotifyCompleted),
		CurrentBytes:      model.Ptr(int64(0)),
		FailedConnections: model.Ptr(0),
	})
	if err != nil {
		return err
	}
	s.log.Infof("任务 %d 已重置为等待状态", id)
	return nil
}

func (s *TaskStore) exists(ctx context.Context, id uint) bool {
	var count int64
	s.db.WithContext(ctx).Model(&model.DownloadTask{}).Where("id = ?", id).Count(&count)
	return count > 0
}

func (s *TaskStore) build(ctx context.Context, q Query) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&model.DownloadTask{})
	if len(q.Columns) > 0 {
		tx = tx.Select(q.Columns)
	}
	if q.ID != 0 {
		tx = tx.Where("id = ?", q.ID)
	}
	tx = tx.Scopes(q.Scopes...)

	order := q.OrderBy
	if order == "" {
		order = "id ASC"
	}
	tx = tx.Order(order)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx
}

// Query 返回惰性结果序列。每次遍历重新执行查询，
// 遍历结束或提前退出时释放结果集。
func (s *TaskStore) Query(ctx context.Context, q Query) iter.Seq2[*model.DownloadTask, error] {
	return func(yield func(*model.DownloadTask, error) bool) {
		rows, err := s.build(ctx, q).Rows()
		if err != nil {
			yield(nil, fmt.Errorf("查询任务失败: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var task model.DownloadTask
			if err := s.db.WithContext(ctx).ScanRows(rows, &task); err != nil {
				yield(nil, fmt.Errorf("读取任务失败: %w", err))
				return
			}
			if !yield(&task, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// List 把查询结果一次性读入切片
func (s *TaskStore) List(ctx context.Context, q Query) ([]model.DownloadTask, error) {
	var tasks []model.DownloadTask
	if err := s.build(ctx, q).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return tasks, nil
}

// Get 按 id 读取任务
func (s *TaskStore) Get(ctx context.Context, id uint) (*model.DownloadTask, error) {
	var task model.DownloadTask
	err := s.db.WithContext(ctx).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return &task, nil
}

// First 返回第一条匹配的任务，没有匹配时返回 nil
func (s *TaskStore) First(ctx context.Context, scopes ...Scope) (*model.DownloadTask, error) {
	for task, err := range s.Query(ctx, Query{Scopes: scopes, Limit: 1}) {
		return task, err
	}
	return nil, nil
}

func (s *TaskStore) Count(ctx context.Context, scopes ...Scope) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.DownloadTask{}).Scopes(scopes...).Count(&count).Error
	return count, err
}
