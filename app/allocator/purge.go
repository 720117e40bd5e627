package allocator

import (
	"context"
	"errors"
	"os"

	"os-downloads/app/logger"
	"os-downloads/app/store"

	"golang.org/x/sync/singleflight"
)

// Purger 按最后修改时间从旧到新删除可清理的已完成任务。
// 同一分区同时只有一轮清理，并发调用方共享这一轮的结果。
type Purger struct {
	store     *store.TaskStore
	log       *logger.Logger
	partition string
	group     singleflight.Group
}

func NewPurger(s *store.TaskStore, partition string, log *logger.Logger) *Purger {
	return &Purger{store: s, log: log, partition: partition}
}

// Purge 释放至少 targetBytes 字节，返回实际释放的字节数
func (p *Purger) Purge(ctx context.Context, targetBytes int64) (int64, error) {
	v, err, shared := p.group.Do(p.partition, func() (any, error) {
		return p.purge(ctx, targetBytes)
	})
	if shared {
		p.log.Debugf("复用正在进行的缓存清理结果: %s", p.partition)
	}
	freed, _ := v.(int64)
	return freed, err
}

func (p *Purger) purge(ctx context.Context, targetBytes int64) (int64, error) {
	candidates, err := p.store.List(ctx, store.Query{
		Scopes:  []store.Scope{store.Purgeable()},
		Columns: []string{"id", "file_path", "lastmod"},
		OrderBy: "lastmod ASC, id ASC",
	})
	if err != nil {
		return 0, err
	}

	var freed int64
	for _, task := range candidates {
		if freed >= targetBytes {
			break
		}

		var size int64
		if task.FilePath != "" {
			if info, err := os.Stat(task.FilePath); err == nil {
				size = info.Size()
			}
		}

		// 行在查询之后可能已被重试或删除，只删除仍满足条件的行
		n, err := p.store.DeleteByID(ctx, task.ID, store.Purgeable())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return freed, err
		}
		if n > 0 {
			p.log.Debugf("清理缓存任务 %d，释放 %d 字节", task.ID, size)
			freed += size
		}
	}

	if freed > 0 {
		p.log.Infof("缓存清理完成，释放 %d 字节，目标 %d 字节", freed, targetBytes)
	}
	return freed, nil
}
