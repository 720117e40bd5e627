package service

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
)

func newTestStore(t *testing.T) *store.TaskStore {
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

// seed 插入任务并直接写入执行器负责的字段
func seed(t *testing.T, s *store.TaskStore, uri string, update model.TaskFields) uint {
	t.Helper()
	ctx := context.Background()
	id, err := s.Insert(ctx, model.TaskFields{
		URI:      model.Ptr(uri),
		MimeType: model.Ptr("application/octet-stream"),
		GroupKey: model.Ptr("com.example.app"),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !update.IsEmpty() {
		if _, err := s.UpdateByID(ctx, id, update); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	return id
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
