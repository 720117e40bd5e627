package allocator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"os-downloads/app/logger"
	"os-downloads/app/model"
)

const plenty = 1 << 40

func fixedSpace(bytes int64) SpaceProber {
	return SpaceProberFunc(func(string) (DiskUsage, error) {
		return DiskUsage{BlockSize: 1, AvailableBlocks: bytes}, nil
	})
}

func newTestAllocator(t *testing.T, opts Options) *Allocator {
	t.Helper()
	if opts.DownloadDir == "" {
		opts.DownloadDir = filepath.Join(t.TempDir(), "downloads")
	}
	if opts.Prober == nil {
		opts.Prober = fixedSpace(plenty)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(1, 2))
	}
	return New(opts, logger.Nop())
}

func TestAllocateRequiresMimeType(t *testing.T) {
	a := newTestAllocator(t, Options{})
	for _, dest := range []model.Destination{model.DestinationExternal, model.DestinationCachePartitionPurgeable} {
		_, err := a.Allocate(context.Background(), Request{URL: "http://x/a.zip", Destination: dest})
		if !errors.Is(err, ErrNotAcceptable) {
			t.Fatalf("%v: expected ErrNotAcceptable, got %v", dest, err)
		}
		if StatusOf(err) != model.StatusNotAcceptable {
			t.Fatalf("status = %v", StatusOf(err))
		}
	}

	path, err := a.Allocate(context.Background(), Request{URL: "http://x/a", Destination: model.DestinationCachePartition})
	if err != nil {
		t.Fatalf("cache without mime should be allowed: %v", err)
	}
	if filepath.Base(path) != "a.bin" {
		t.Fatalf("path = %s", path)
	}
}

func TestAllocateCreatesUniqueFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	a := newTestAllocator(t, Options{DownloadDir: dir})
	req := Request{URL: "http://x/a.zip", MimeType: "application/zip", Destination: model.DestinationExternal}

	seen := map[string]bool{}
	for i := 0; i < 12; i++ {
		path, err := a.Allocate(context.Background(), req)
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if seen[path] {
			t.Fatalf("duplicate path %s", path)
		}
		seen[path] = true
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("allocated file not created: %v", err)
		}
	}

	for _, want := range []string{"a.zip", "a-1.zip", "a-2.zip", "a-9.zip"} {
		if !seen[filepath.Join(dir, want)] {
			t.Fatalf("expected %s among %v", want, seen)
		}
	}
}

func TestAllocateSkipsOccupiedSequence(t *testing.T) {
	dir := t.TempDir()
	occupied := map[string]bool{"a.zip": true}
	for i := 1; i <= 30; i++ {
		occupied[fmt.Sprintf("a-%d.zip", i)] = true
	}
	for name := range occupied {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	a := newTestAllocator(t, Options{DownloadDir: dir})
	path, err := a.Allocate(context.Background(), Request{URL: "http://x/a.zip", MimeType: "application/zip"})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	name := filepath.Base(path)
	if occupied[name] || !strings.HasPrefix(name, "a-") || !strings.HasSuffix(name, ".zip") {
		t.Fatalf("unexpected name %s", name)
	}
}

func TestAllocateConcurrentCallersGetDistinctPaths(t *testing.T) {
	a := newTestAllocator(t, Options{})
	req := Request{URL: "http://x/same.bin", Destination: model.DestinationCachePartition}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = map[string]bool{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path, err := a.Allocate(context.Background(), req)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if paths[path] {
				t.Errorf("duplicate path %s", path)
			}
			paths[path] = true
		}()
	}
	wg.Wait()
}

func TestAllocateRecoveryNameInCache(t *testing.T) {
	dir := t.TempDir()
	a := newTestAllocator(t, Options{DownloadDir: dir})

	path, err := a.Allocate(context.Background(), Request{Hint: "recovery", Destination: model.DestinationCachePartition})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if filepath.Base(path) != "recovery-1.bin" {
		t.Fatalf("path = %s", path)
	}

	path, err = a.Allocate(context.Background(), Request{Hint: "recovery", MimeType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if filepath.Base(path) != "recovery.bin" {
		t.Fatalf("external destination should keep plain name, got %s", path)
	}
}

func TestAllocateExternalFallsBackToInternal(t *testing.T) {
	root := t.TempDir()
	internal := filepath.Join(root, "internal")
	opts := Options{
		DownloadDir:  filepath.Join(root, "downloads"),
		ExternalRoot: filepath.Join(root, "sdcard"),
		InternalDir:  internal,
		Mounted:      func(string) bool { return false },
	}
	a := newTestAllocator(t, opts)

	path, err := a.Allocate(context.Background(), Request{URL: "http://x/a.zip", MimeType: "application/zip"})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if filepath.Dir(path) != internal {
		t.Fatalf("expected internal dir, got %s", path)
	}

	opts.Prober = fixedSpace(DefaultInternalMinFree - 1)
	a = newTestAllocator(t, opts)
	_, err = a.Allocate(context.Background(), Request{URL: "http://x/b.zip", MimeType: "application/zip"})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if StatusOf(err) != model.StatusFileError {
		t.Fatalf("status = %v", StatusOf(err))
	}
}

func TestAllocateExternalInsufficientSpace(t *testing.T) {
	a := newTestAllocator(t, Options{Prober: fixedSpace(1000), ReservedBlocks: 4})
	_, err := a.Allocate(context.Background(), Request{
		URL:           "http://x/a.zip",
		MimeType:      "application/zip",
		ContentLength: 997,
	})
	if !errors.Is(err, ErrFileError) {
		t.Fatalf("expected ErrFileError, got %v", err)
	}
}

type fakeSpace struct {
	mu    sync.Mutex
	avail int64
	pool  []int64 // 每次清理释放的字节
	calls int
}

func (f *fakeSpace) Usage(string) (DiskUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return DiskUsage{BlockSize: 1, AvailableBlocks: f.avail}, nil
}

func (f *fakeSpace) Purge(_ context.Context, target int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.pool) == 0 {
		return 0, nil
	}
	freed := f.pool[0]
	f.pool = f.pool[1:]
	f.avail += freed
	return freed, nil
}

func TestAllocateCacheEvictsUntilEnoughSpace(t *testing.T) {
	space := &fakeSpace{avail: 100, pool: []int64{50, 50, 50}}
	a := newTestAllocator(t, Options{Prober: space, Evictor: space})

	_, err := a.Allocate(context.Background(), Request{
		URL:           "http://x/a.bin",
		Destination:   model.DestinationCachePartition,
		ContentLength: 200,
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if space.calls != 2 {
		t.Fatalf("purge calls = %d, want 2", space.calls)
	}
}

func TestAllocateCacheGivesUpWhenNothingToEvict(t *testing.T) {
	space := &fakeSpace{avail: 100, pool: []int64{10}}
	a := newTestAllocator(t, Options{Prober: space, Evictor: space})

	_, err := a.Allocate(context.Background(), Request{
		URL:           "http://x/a.bin",
		Destination:   model.DestinationCachePartitionNoRoaming,
		ContentLength: 500,
	})
	if !errors.Is(err, ErrFileError) {
		t.Fatalf("expected ErrFileError, got %v", err)
	}
	if space.calls != 2 {
		t.Fatalf("purge calls = %d, want 2", space.calls)
	}
}

func TestAllocateDRMMessageUsesCacheBranch(t *testing.T) {
	space := &fakeSpace{avail: 10}
	a := newTestAllocator(t, Options{
		Prober:       space,
		Evictor:      space,
		ExternalRoot: "/nonexistent",
		Mounted:      func(string) bool { return false },
	})

	_, err := a.Allocate(context.Background(), Request{
		URL:           "http://x/m.dm",
		MimeType:      MimeTypeDRMMessage,
		ContentLength: 100,
	})
	if !errors.Is(err, ErrFileError) {
		t.Fatalf("expected eviction failure, got %v", err)
	}
	if space.calls != 1 {
		t.Fatalf("drm message should try eviction, calls = %d", space.calls)
	}
}

func TestStatusOf(t *testing.T) {
	if StatusOf(nil) != model.StatusSuccess {
		t.Fatalf("nil error")
	}
	if StatusOf(fmt.Errorf("wrap: %w", ErrFileError)) != model.StatusFileError {
		t.Fatalf("wrapped file error")
	}
	if StatusOf(errors.New("other")) != model.StatusUnknownError {
		t.Fatalf("other error")
	}
}
