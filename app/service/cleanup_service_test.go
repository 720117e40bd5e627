package service

import (
	"context"
	"testing"

	"os-downloads/app/config"
	"os-downloads/app/logger"
	"os-downloads/app/model"
)

func TestCleanupRunOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	kept := seed(t, s, "http://x/kept", model.TaskFields{
		Status:   model.Ptr(model.StatusSuccess),
		FilePath: model.Ptr(writeFile(t, dir, "kept", "x")),
	})
	lost := seed(t, s, "http://x/lost", model.TaskFields{
		Status:   model.Ptr(model.StatusSuccess),
		FilePath: model.Ptr(dir + "/lost"),
	})
	oldFailed := seed(t, s, "http://x/old", model.TaskFields{Status: model.Ptr(model.StatusFileError)})
	newFailed := seed(t, s, "http://x/new", model.TaskFields{Status: model.Ptr(model.StatusFileError)})
	pending := seed(t, s, "http://x/pending", model.TaskFields{})

	err := s.DB().Model(&model.DownloadTask{}).Where("id = ?", oldFailed).Update("lastmod", 1).Error
	if err != nil {
		t.Fatal(err)
	}

	c := NewCleanupService(s, config.CleanupConfig{FailedRetentionDays: 30}, logger.Nop())
	n, err := c.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed = %d, want 2", n)
	}
	for _, id := range []uint{lost, oldFailed} {
		if _, err := s.Get(ctx, id); err == nil {
			t.Fatalf("row %d should be removed", id)
		}
	}
	for _, id := range []uint{kept, newFailed, pending} {
		if _, err := s.Get(ctx, id); err != nil {
			t.Fatalf("row %d should be kept: %v", id, err)
		}
	}
}

func TestCleanupScheduleValidation(t *testing.T) {
	c := NewCleanupService(newTestStore(t), config.CleanupConfig{Schedule: "not a schedule"}, logger.Nop())
	if err := c.Start(); err == nil {
		c.Stop()
		t.Fatalf("invalid schedule should be rejected")
	}

	c = NewCleanupService(newTestStore(t), config.CleanupConfig{}, logger.Nop())
	if err := c.Start(); err != nil {
		t.Fatalf("default schedule: %v", err)
	}
	c.Stop()
}
