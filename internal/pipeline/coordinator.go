package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/img-warp/img-warp/internal/cache"
	"github.com/img-warp/img-warp/internal/fetch"
	"github.com/img-warp/img-warp/internal/logging"
	"github.com/img-warp/img-warp/internal/rescale"
	"github.com/img-warp/img-warp/internal/variant"
)

// Result 是一次 GetImage 的产物；Source 标记正文来源，供日志与响应头使用。
type Result struct {
	Body        []byte
	ContentType string
	Source      Source
}

// Source 标记结果的提供层。
type Source string

const (
	SourceMemory   Source = "memory"
	SourceDisk     Source = "disk"
	SourceUpstream Source = "upstream"
)

// CacheHit 报告结果是否来自任一缓存层。
func (r *Result) CacheHit() bool {
	return r.Source != SourceUpstream
}

// Options 汇总 Coordinator 的全部依赖，均在启动时构造完成。
type Options struct {
	Table          *variant.Table
	Memory         *cache.MemoryStore
	Disk           *cache.DiskStore // nil 关闭磁盘层
	Fetcher        *fetch.Fetcher
	Rescaler       *rescale.Client
	MaxRetries     int
	InitialBackoff time.Duration
	Logs           *logging.Set
}

// Coordinator 驱动单个键的 缓存 → 回源 → rescale → 回填 流水线。
// singleflight 保证同一键同一时刻至多一次在途上游操作，所有并发调用
// 共享同一结果；失败不会写入任何缓存层，键立即回到可重试状态。
type Coordinator struct {
	table          *variant.Table
	memory         *cache.MemoryStore
	disk           *cache.DiskStore
	fetcher        *fetch.Fetcher
	rescaler       *rescale.Client
	maxRetries     int
	initialBackoff time.Duration

	group    singleflight.Group
	imgsLog  *logrus.Entry
	cacheLog *logrus.Entry

	sleep func(time.Duration) // 测试可替换
}

// New 构造 Coordinator。
func New(opts Options) *Coordinator {
	return &Coordinator{
		table:          opts.Table,
		memory:         opts.Memory,
		disk:           opts.Disk,
		fetcher:        opts.Fetcher,
		rescaler:       opts.Rescaler,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		imgsLog:        opts.Logs.For(logging.SubsystemImgs),
		cacheLog:       opts.Logs.For(logging.SubsystemCache),
		sleep:          time.Sleep,
	}
}

// GetImage 返回指定键的 rescale 结果。内存命中走无阻塞快路径；
// 未命中时进入 singleflight，同键并发调用等待同一次执行。
func (c *Coordinator) GetImage(ctx context.Context, v variant.Variant, origin string) (*Result, error) {
	key := cache.Key{Variant: v, Origin: origin}

	if entry, ok := c.memory.Get(key); ok {
		c.cacheLog.WithFields(logrus.Fields{
			"action":  "cache_hit",
			"variant": v.String(),
			"origin":  origin,
			"layer":   string(SourceMemory),
		}).Debug("retrieving from memory")
		return &Result{Body: entry.Body, ContentType: entry.ContentType, Source: SourceMemory}, nil
	}

	// 上游工作与请求生命周期解耦：客户端断开不会中断在途回填，
	// 结果仍会落缓存供后续请求使用。
	fillCtx := context.WithoutCancel(ctx)

	value, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		return c.fill(fillCtx, key)
	})
	if err != nil {
		return nil, err
	}

	filled := value.(*filled)
	return &Result{Body: filled.entry.Body, ContentType: filled.entry.ContentType, Source: filled.source}, nil
}

type filled struct {
	entry  cache.Entry
	source Source
}

// fill 在 singleflight 内执行一次完整的 miss 路径。部分结果永不落缓存。
func (c *Coordinator) fill(ctx context.Context, key cache.Key) (*filled, error) {
	// 可能有等待者在前一次执行完成后才进入 Do，先复查内存。
	if entry, ok := c.memory.Get(key); ok {
		return &filled{entry: entry, source: SourceMemory}, nil
	}

	if c.disk != nil {
		entry, err := c.disk.Get(ctx, key)
		switch {
		case err == nil:
			c.memory.Put(*entry)
			c.cacheLog.WithFields(logrus.Fields{
				"action":  "cache_hit",
				"variant": key.Variant.String(),
				"origin":  key.Origin,
				"layer":   string(SourceDisk),
			}).Info("retrieving from disk")
			return &filled{entry: *entry, source: SourceDisk}, nil
		case errors.Is(err, cache.ErrNotFound):
			// miss, continue
		default:
			c.cacheLog.WithError(err).WithFields(logrus.Fields{
				"action": "cache_get_failed",
				"origin": key.Origin,
			}).Warn("disk read failed, treating as miss")
		}
	}

	entry, err := c.fillFromUpstream(ctx, key)
	if err != nil {
		return nil, err
	}

	if c.disk != nil {
		if err := c.disk.Put(ctx, *entry); err != nil {
			c.cacheLog.WithError(err).WithFields(logrus.Fields{
				"action": "cache_write_failed",
				"origin": key.Origin,
			}).Warn("disk write failed, keeping memory copy only")
		}
	}
	c.memory.Put(*entry)

	c.cacheLog.WithFields(logrus.Fields{
		"action":  "cache_fill",
		"variant": key.Variant.String(),
		"origin":  key.Origin,
		"bytes":   entry.SizeBytes(),
	}).Info("caching")

	return &filled{entry: *entry, source: SourceUpstream}, nil
}

// fillFromUpstream 执行 fetch+rescale。generic 模式下 Fetcher 被完全绕过，
// rescale 端点自行抓取原图。
func (c *Coordinator) fillFromUpstream(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	var result *rescale.Result

	if c.table.Mode() == variant.ModeGeneric {
		err := c.withRetry(ctx, key, "rescale", rescale.Transient, func() error {
			var callErr error
			result, callErr = c.rescaler.RescaleByURL(ctx, key.Origin)
			return callErr
		})
		if err != nil {
			return nil, &Error{Kind: KindRescaleFailed, Err: err}
		}
	} else {
		// 未配置端点的规格直接失败，不产生任何上游调用。
		if _, ok := c.table.Endpoint(key.Variant); !ok {
			return nil, &Error{
				Kind: KindRescaleFailed,
				Err:  &rescale.Error{Kind: rescale.KindUnsupportedVariant, Variant: key.Variant},
			}
		}

		var fetched *fetch.Result
		err := c.withRetry(ctx, key, "fetch", fetch.Transient, func() error {
			var callErr error
			fetched, callErr = c.fetcher.Fetch(ctx, key.Origin)
			return callErr
		})
		if err != nil {
			return nil, &Error{Kind: KindFetchFailed, Err: err}
		}

		err = c.withRetry(ctx, key, "rescale", rescale.Transient, func() error {
			var callErr error
			result, callErr = c.rescaler.RescaleBytes(ctx, key.Variant, fetched.Body, fetched.ContentType)
			return callErr
		})
		if err != nil {
			return nil, &Error{Kind: KindRescaleFailed, Err: err}
		}
	}

	return &cache.Entry{
		Key:         key,
		Body:        result.Body,
		ContentType: result.ContentType,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// withRetry 对 transient 类失败做有界指数退避重试；重试对等待者透明。
func (c *Coordinator) withRetry(ctx context.Context, key cache.Key, op string, transient func(error) bool, call func() error) error {
	backoff := c.initialBackoff
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if attempt >= c.maxRetries || !transient(err) {
			return err
		}

		c.imgsLog.WithError(err).WithFields(logrus.Fields{
			"action":  "retry",
			"op":      op,
			"variant": key.Variant.String(),
			"origin":  key.Origin,
			"attempt": attempt + 1,
			"backoff": backoff.String(),
		}).Warn("transient upstream failure, retrying")

		c.sleep(backoff)
		backoff *= 2

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
