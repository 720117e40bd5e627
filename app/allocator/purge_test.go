package allocator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"os-downloads/app/database"
	"os-downloads/app/logger"
	"os-downloads/app/model"
	"os-downloads/app/store"
)

type purgeFixture struct {
	store *store.TaskStore
	dir   string
}

func newPurgeFixture(t *testing.T) *purgeFixture {
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
	return &purgeFixture{store: store.New(db, logger.Nop()), dir: t.TempDir()}
}

// add 插入一个带文件的任务并直接设置最后修改时间
func (f *purgeFixture) add(t *testing.T, name string, size int, status model.StatusCode, dest model.Destination, lastmod int64) uint {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.Insert(ctx, model.TaskFields{
		URI:         model.Ptr("http://x/" + name),
		MimeType:    model.Ptr("application/octet-stream"),
		Destination: model.Ptr(dest),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.UpdateByID(ctx, id, model.TaskFields{FilePath: model.Ptr(path), Status: model.Ptr(status)}); err != nil {
		t.Fatal(err)
	}
	err = f.store.DB().Model(&model.DownloadTask{}).Where("id = ?", id).Update("lastmod", lastmod).Error
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (f *purgeFixture) exists(t *testing.T, id uint) bool {
	t.Helper()
	_, err := f.store.Get(context.Background(), id)
	return err == nil
}

func TestPurgeOldestFirst(t *testing.T) {
	f := newPurgeFixture(t)
	purgeable := model.DestinationCachePartitionPurgeable

	newest := f.add(t, "newest", 100, model.StatusSuccess, purgeable, 3000)
	oldest := f.add(t, "oldest", 100, model.StatusSuccess, purgeable, 1000)
	middle := f.add(t, "middle", 100, model.StatusSuccess, purgeable, 2000)
	running := f.add(t, "running", 500, model.StatusRunning, purgeable, 10)
	pinned := f.add(t, "pinned", 500, model.StatusSuccess, model.DestinationCachePartition, 10)

	p := NewPurger(f.store, f.dir, logger.Nop())
	freed, err := p.Purge(context.Background(), 150)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if freed != 200 {
		t.Fatalf("freed = %d, want 200", freed)
	}

	if f.exists(t, oldest) || f.exists(t, middle) {
		t.Fatalf("oldest rows should be evicted")
	}
	if !f.exists(t, newest) {
		t.Fatalf("newest row should survive")
	}
	for _, id := range []uint{running, pinned} {
		if !f.exists(t, id) {
			t.Fatalf("row %d is not an eviction target", id)
		}
	}
	if _, err := os.Stat(filepath.Join(f.dir, "oldest")); !os.IsNotExist(err) {
		t.Fatalf("evicted file still present")
	}
}

func TestPurgeExhaustsCandidates(t *testing.T) {
	f := newPurgeFixture(t)
	f.add(t, "a", 10, model.StatusSuccess, model.DestinationCachePartitionPurgeable, 1)
	f.add(t, "b", 20, model.StatusSuccess, model.DestinationCachePartitionPurgeable, 2)

	p := NewPurger(f.store, f.dir, logger.Nop())
	freed, err := p.Purge(context.Background(), 1<<20)
	if err != nil || freed != 30 {
		t.Fatalf("freed=%d err=%v", freed, err)
	}

	freed, err = p.Purge(context.Background(), 1)
	if err != nil || freed != 0 {
		t.Fatalf("nothing left to purge, got freed=%d err=%v", freed, err)
	}
}

func TestPurgeConcurrentCallersNeverDoubleFree(t *testing.T) {
	f := newPurgeFixture(t)
	for i, name := range []string{"a", "b", "c", "d"} {
		f.add(t, name, 100, model.StatusSuccess, model.DestinationCachePartitionPurgeable, int64(i))
	}

	p := NewPurger(f.store, f.dir, logger.Nop())
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			freed, err := p.Purge(context.Background(), 100)
			if err != nil {
				t.Errorf("purge: %v", err)
			}
			mu.Lock()
			total += freed
			mu.Unlock()
		}()
	}
	wg.Wait()

	left, _ := f.store.Count(context.Background(), store.Purgeable())
	removed := 4 - left
	if removed == 0 || removed*100 > total {
		t.Fatalf("removed %d rows but callers reported %d bytes", removed, total)
	}
}

func TestPurgerAsAllocatorEvictor(t *testing.T) {
	f := newPurgeFixture(t)
	f.add(t, "old", 300, model.StatusSuccess, model.DestinationCachePartitionPurgeable, 1)

	var (
		mu    sync.Mutex
		avail int64 = 100
	)
	prober := SpaceProberFunc(func(string) (DiskUsage, error) {
		mu.Lock()
		defer mu.Unlock()
		return DiskUsage{BlockSize: 1, AvailableBlocks: avail}, nil
	})
	purger := NewPurger(f.store, f.dir, logger.Nop())
	evictor := evictorFunc(func(ctx context.Context, target int64) (int64, error) {
		freed, err := purger.Purge(ctx, target)
		mu.Lock()
		avail += freed
		mu.Unlock()
		return freed, err
	})

	a := newTestAllocator(t, Options{DownloadDir: f.dir, Prober: prober, Evictor: evictor})
	if _, err := a.Allocate(context.Background(), Request{
		URL:           "http://x/new.bin",
		Destination:   model.DestinationCachePartition,
		ContentLength: 350,
	}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if n, _ := f.store.Count(context.Background()); n != 0 {
		t.Fatalf("purgeable row should be evicted, %d rows left", n)
	}
}

type evictorFunc func(ctx context.Context, target int64) (int64, error)

func (f evictorFunc) Purge(ctx context.Context, target int64) (int64, error) {
	return f(ctx, target)
}
