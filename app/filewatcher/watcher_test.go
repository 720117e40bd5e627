package filewatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"os-downloads/app/database"
	"os-downloads/app/logger"
	"os-downloads/app/model"
	"os-downloads/app/store"

	"github.com/fsnotify/fsnotify"
)

func newStore(t *testing.T) *store.TaskStore {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return store.New(db, logger.Nop())
}

func addTask(t *testing.T, s *store.TaskStore, path string, status model.StatusCode) uint {
	t.Helper()
	ctx := context.Background()
	id, err := s.Insert(ctx, model.TaskFields{
		URI:      model.Ptr("http://x/" + filepath.Base(path)),
		MimeType: model.Ptr("application/zip"),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateByID(ctx, id, model.TaskFields{FilePath: model.Ptr(path), Status: model.Ptr(status)}); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestWatcherDeletesCompletedTaskWhenFileRemoved(t *testing.T) {
	s := newStore(t)
	dir := t.TempDir()
	done := addTask(t, s, filepath.Join(dir, "done.zip"), model.StatusSuccess)
	running := addTask(t, s, filepath.Join(dir, "running.zip"), model.StatusRunning)

	m, err := NewFileWatcherManager([]string{dir, dir, ""}, s, logger.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if m.GetWatcherCount() != 1 {
		t.Fatalf("watchers = %d, want 1", m.GetWatcherCount())
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	os.Remove(filepath.Join(dir, "done.zip"))
	os.Remove(filepath.Join(dir, "running.zip"))

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := s.Get(context.Background(), done); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("completed task was not removed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := s.Get(context.Background(), running); err != nil {
		t.Fatalf("running task must be kept: %v", err)
	}
}

type recordingRemover struct {
	calls int
}

func (r *recordingRemover) DeleteWhere(context.Context, ...store.Scope) (int64, error) {
	r.calls++
	return 0, nil
}

func TestWatcherIgnoresEventsOutsideDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	tasks := &recordingRemover{}
	fw, err := NewFileWatcher(dir, tasks, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()

	fw.handleEvent(fsnotify.Event{Name: dir, Op: fsnotify.Remove})
	fw.handleEvent(fsnotify.Event{Name: dir + "-old/a.zip", Op: fsnotify.Rename})
	if tasks.calls != 0 {
		t.Fatalf("DeleteWhere called %d times for paths outside %s", tasks.calls, dir)
	}

	fw.handleEvent(fsnotify.Event{Name: filepath.Join(dir, "a.zip"), Op: fsnotify.Remove})
	if tasks.calls != 1 {
		t.Fatalf("DeleteWhere calls = %d, want 1", tasks.calls)
	}
}
