package allocator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"os-downloads/app/config"
	"os-downloads/app/logger"
	"os-downloads/app/model"
)

const (
	// DefaultInternalMinFree 内部备用目录至少需要的可用空间
	DefaultInternalMinFree = 100 * 1024 * 1024
	maxSequenceMagnitude   = 1_000_000_000
	attemptsPerMagnitude   = 9
)

// Request 分配文件所需的任务信息和响应头
type Request struct {
	URL                string
	Hint               string
	ContentDisposition string
	ContentLocation    string
	MimeType           string
	Destination        model.Destination
	ContentLength      int64
}

// Evictor 回收可清理的缓存文件，返回实际释放的字节数
type Evictor interface {
	Purge(ctx context.Context, targetBytes int64) (int64, error)
}

type Options struct {
	DownloadDir     string // 应用私有下载目录
	ExternalRoot    string // 外部存储挂载点，为空表示始终可用
	InternalDir     string // 外部存储不可用时的备用目录
	InternalMinFree int64
	ReservedBlocks  int64
	Prober          SpaceProber
	Evictor         Evictor
	Mounted         func(root string) bool
	Rand            *rand.Rand
}

// OptionsFromConfig 由存储配置构造分配选项
func OptionsFromConfig(cfg config.StorageConfig) Options {
	return Options{
		DownloadDir:     cfg.DownloadDir,
		ExternalRoot:    cfg.ExternalRoot,
		InternalDir:     cfg.InternalDir,
		InternalMinFree: cfg.InternalMinFree,
		ReservedBlocks:  cfg.ReservedBlocks,
	}
}

// Allocator 为任务选择落盘路径并预先创建文件
type Allocator struct {
	opts Options
	log  *logger.Logger

	randMu sync.Mutex
}

func New(opts Options, log *logger.Logger) *Allocator {
	if opts.Prober == nil {
		opts.Prober = StatfsProber{}
	}
	if opts.Mounted == nil {
		opts.Mounted = Mounted
	}
	if opts.Rand == nil {
		now := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(now, now>>1))
	}
	if opts.InternalMinFree <= 0 {
		opts.InternalMinFree = DefaultInternalMinFree
	}
	return &Allocator{opts: opts, log: log}
}

// Allocate 选择文件名和目录，检查空间，创建一个新文件并返回其路径。
// 文件以 O_EXCL 创建，并发分配不会得到同一路径。
func (a *Allocator) Allocate(ctx context.Context, req Request) (string, error) {
	mimeType := strings.TrimSpace(req.MimeType)
	if req.Destination == model.DestinationExternal || req.Destination == model.DestinationCachePartitionPurgeable {
		if mimeType == "" {
			return "", ErrNotAcceptable
		}
	}

	base, ext := splitFilename(normalizeName(chooseFilename(req)), mimeType)

	dir, err := a.chooseDirectory(ctx, req.Destination, mimeType, req.ContentLength)
	if err != nil {
		return "", err
	}

	recovery := strings.EqualFold(base, RecoveryName)
	path, err := a.chooseUniquePath(req.Destination, dir+string(os.PathSeparator)+base, ext, recovery)
	if err != nil {
		return "", err
	}

	a.log.Debugf("分配下载文件: %s", path)
	return path, nil
}

func (a *Allocator) chooseDirectory(ctx context.Context, dest model.Destination, mimeType string, length int64) (string, error) {
	switch {
	case dest.IsCache() || strings.EqualFold(mimeType, MimeTypeDRMMessage):
		dir := a.opts.DownloadDir
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("%w: 创建下载目录失败: %v", ErrFileError, err)
		}
		if err := a.ensureSpace(ctx, dir, length); err != nil {
			return "", err
		}
		return dir, nil

	case a.externalMounted():
		dir := a.opts.DownloadDir
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("%w: 创建下载目录失败: %v", ErrFileError, err)
		}
		avail, err := a.available(dir)
		if err != nil {
			return "", err
		}
		if avail < length {
			return "", fmt.Errorf("%w: 空间不足，需要 %d 字节，可用 %d 字节", ErrFileError, length, avail)
		}
		return dir, nil

	case a.internalAvailable():
		return a.opts.InternalDir, nil

	default:
		return "", ErrStorageUnavailable
	}
}

func (a *Allocator) externalMounted() bool {
	return a.opts.ExternalRoot == "" || a.opts.Mounted(a.opts.ExternalRoot)
}

// internalAvailable 备用目录可创建且可用空间不少于 InternalMinFree
func (a *Allocator) internalAvailable() bool {
	dir := a.opts.InternalDir
	if dir == "" {
		return false
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		a.log.Warnf("创建备用目录失败: %v", err)
		return false
	}
	usage, err := a.opts.Prober.Usage(dir)
	if err != nil {
		a.log.Warnf("查询备用目录空间失败: %v", err)
		return false
	}
	return usage.Available(0) >= a.opts.InternalMinFree
}

func (a *Allocator) available(dir string) (int64, error) {
	usage, err := a.opts.Prober.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: 查询可用空间失败: %v", ErrFileError, err)
	}
	return usage.Available(a.opts.ReservedBlocks), nil
}

// ensureSpace 空间不足时反复回收可清理文件，直到空间足够或无法再释放
func (a *Allocator) ensureSpace(ctx context.Context, dir string, length int64) error {
	for {
		avail, err := a.available(dir)
		if err != nil {
			return err
		}
		if avail >= length {
			return nil
		}
		if a.opts.Evictor == nil {
			return fmt.Errorf("%w: 空间不足，需要 %d 字节，可用 %d 字节", ErrFileError, length, avail)
		}

		freed, err := a.opts.Evictor.Purge(ctx, length-avail)
		if err != nil {
			return fmt.Errorf("%w: 清理缓存失败: %v", ErrFileError, err)
		}
		if freed <= 0 {
			return fmt.Errorf("%w: 空间不足且没有可清理的缓存", ErrFileError)
		}
		a.log.Infof("已清理 %d 字节缓存，重新检查空间", freed)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// chooseUniquePath 依次尝试 prefix+ext 和 prefix-<序号>+ext。
// 序号从 1 开始，每个数量级尝试 9 次，每次随机增加 [1, 数量级]。
func (a *Allocator) chooseUniquePath(dest model.Destination, prefix, ext string, recovery bool) (string, error) {
	if !recovery || !dest.IsCache() {
		full := prefix + ext
		created, err := createExclusive(full)
		if err != nil {
			return "", fmt.Errorf("%w: 创建文件 %s 失败: %v", ErrFileError, full, err)
		}
		if created {
			return full, nil
		}
	}

	prefix += SequenceSeparator
	sequence := 1
	for magnitude := 1; magnitude < maxSequenceMagnitude; magnitude *= 10 {
		for range attemptsPerMagnitude {
			full := prefix + strconv.Itoa(sequence) + ext
			created, err := createExclusive(full)
			if err != nil {
				return "", fmt.Errorf("%w: 创建文件 %s 失败: %v", ErrFileError, full, err)
			}
			if created {
				return full, nil
			}
			sequence += a.randIntN(magnitude) + 1
		}
	}
	return "", fmt.Errorf("%w: 无法为 %s 生成唯一文件名", ErrFileError, prefix+ext)
}

func (a *Allocator) randIntN(n int) int {
	a.randMu.Lock()
	defer a.randMu.Unlock()
	return a.opts.Rand.IntN(n)
}

// createExclusive 文件已存在时返回 false
func createExclusive(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, f.Close()
}
