package filewatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"os-downloads/app/logger"
	"os-downloads/app/store"
	"os-downloads/app/utils/pathhelper"

	"github.com/fsnotify/fsnotify"
)

// TaskRemover 删除匹配条件的任务
type TaskRemover interface {
	DeleteWhere(ctx context.Context, scopes ...store.Scope) (int64, error)
}

// FileWatcherManager 文件监控管理器，管理多个下载目录的监控实例
type FileWatcherManager struct {
	watchers []*FileWatcher
	logger   *logger.Logger
	mu       sync.RWMutex
}

// NewFileWatcherManager 为每个下载目录创建监控器，空目录和重复目录被忽略
func NewFileWatcherManager(dirs []string, tasks TaskRemover, log *logger.Logger) (*FileWatcherManager, error) {
	manager := &FileWatcherManager{logger: log}

	seen := make(map[string]bool)
	for _, dir := range dirs {
		if dir == "" || seen[filepath.Clean(dir)] {
			continue
		}
		seen[filepath.Clean(dir)] = true

		watcher, err := NewFileWatcher(dir, tasks, log)
		if err != nil {
			manager.stopAll()
			return nil, fmt.Errorf("创建目录 %s 的文件监控器失败: %w", dir, err)
		}
		manager.watchers = append(manager.watchers, watcher)
	}

	return manager, nil
}

// Start 启动所有文件监控器
func (m *FileWatcherManager) Start() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, watcher := range m.watchers {
		if err := watcher.Start(); err != nil {
			for j := 0; j < i; j++ {
				m.watchers[j].Stop()
			}
			return fmt.Errorf("启动第%d个文件监控器失败: %w", i+1, err)
		}
	}

	m.logger.Infof("文件监控管理器已启动，共启动了 %d 个监控实例", len(m.watchers))
	return nil
}

// Stop 停止所有文件监控器
func (m *FileWatcherManager) Stop() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopAll()
}

// stopAll 停止所有监控器（内部方法，不加锁）
func (m *FileWatcherManager) stopAll() error {
	var errs []error

	for i, watcher := range m.watchers {
		if err := watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("停止第%d个文件监控器失败: %w", i+1, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("停止文件监控器时出现错误: %v", errs)
	}

	m.logger.Info("文件监控管理器已停止")
	return nil
}

// GetWatcherCount 获取监控器数量
func (m *FileWatcherManager) GetWatcherCount() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.watchers)
}

// FileWatcher 监控单个下载目录。
// 已结束任务的文件被删除或移走时，删除对应的任务记录。
type FileWatcher struct {
	dir      string
	tasks    TaskRemover
	watcher  *fsnotify.Watcher
	logger   *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watching bool
	mu       sync.RWMutex
}

// NewFileWatcher 创建新的文件监控器
func NewFileWatcher(dir string, tasks TaskRemover, log *logger.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &FileWatcher{
		dir:     dir,
		tasks:   tasks,
		watcher: watcher,
		logger:  log,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start 启动文件监控，目录不存在时先创建
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.watching {
		return fmt.Errorf("文件监控器[%s]已经在运行", fw.dir)
	}

	if err := os.MkdirAll(fw.dir, 0755); err != nil {
		return fmt.Errorf("创建监控目录失败: %w", err)
	}
	if err := fw.watcher.Add(fw.dir); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	fw.watching = true
	fw.wg.Add(1)
	go fw.watchLoop()

	fw.logger.Infof("文件监控器已启动，监控目录: %s", fw.dir)
	return nil
}

// Stop 停止文件监控
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.watching {
		fw.watcher.Close()
		return nil
	}

	close(fw.stopCh)
	fw.watcher.Close()
	fw.wg.Wait()
	fw.watching = false

	fw.logger.Infof("文件监控器[%s]已停止", fw.dir)
	return nil
}

// watchLoop 监控事件循环
func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Errorf("文件监控器[%s]错误: %v", fw.dir, err)

		case <-fw.stopCh:
			return
		}
	}
}

// handleEvent 只处理监控目录下文件的删除和重命名事件
func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if !pathhelper.IsSubPath(event.Name, fw.dir) {
		return
	}

	// 同名文件可能已被重新创建
	if _, err := os.Stat(event.Name); err == nil {
		return
	}

	n, err := fw.tasks.DeleteWhere(context.Background(), store.ByFilePath(event.Name), store.Completed())
	if err != nil {
		fw.logger.Errorf("删除文件 %s 对应的任务失败: %v", event.Name, err)
		return
	}
	if n > 0 {
		fw.logger.Infof("文件 %s 已被移除，删除了 %d 个任务记录", event.Name, n)
	}
}
