// Package magic resolves indirection documents: a magic URL points at a small
// text/plain resource whose body is the real origin URL of the image. The
// proxy resolves the indirection once, caches the mapping, then runs the
// regular image pipeline against the resolved origin.
package magic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/img-warp/img-warp/internal/cache"
	"github.com/img-warp/img-warp/internal/fetch"
	"github.com/img-warp/img-warp/internal/variant"
)

// ErrUnsupportedContentType 表示 magic 文档不是 text/plain。
var ErrUnsupportedContentType = errors.New("magic document is not text/plain")

// Resolver 负责 magic URL → origin URL 的解析与缓存。
// 解析结果与图片条目共用同一套 LRU 存储实现；解析失败不缓存，
// 下一次请求从头再试。
type Resolver struct {
	fetcher *fetch.Fetcher
	store   *cache.MemoryStore
	group   singleflight.Group
	logger  *logrus.Entry
}

// New 构造 Resolver。maxEntries 限制缓存的映射条数，0 表示不设上限。
func New(fetcher *fetch.Fetcher, maxEntries int, logger *logrus.Entry) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		store:   cache.NewMemoryStore(cache.MemoryOptions{MaxEntries: maxEntries}),
		logger:  logger,
	}
}

// 映射缓存独占一个 MemoryStore 实例，键的 variant 槽固定不变。
const keySlot = variant.Generic

// Resolve 返回 magicURL 指向的 origin URL，同一 URL 的并发解析共享一次抓取。
func (r *Resolver) Resolve(ctx context.Context, magicURL string) (string, error) {
	key := cache.Key{Variant: keySlot, Origin: magicURL}
	if entry, ok := r.store.Get(key); ok {
		r.logger.WithFields(logrus.Fields{
			"action": "magic_cache_hit",
			"url":    magicURL,
		}).Debug("retrieving from magic cache")
		return string(entry.Body), nil
	}

	fillCtx := context.WithoutCancel(ctx)
	value, err, _ := r.group.Do(magicURL, func() (interface{}, error) {
		return r.resolve(fillCtx, key)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (r *Resolver) resolve(ctx context.Context, key cache.Key) (string, error) {
	if entry, ok := r.store.Get(key); ok {
		return string(entry.Body), nil
	}

	result, err := r.fetcher.Fetch(ctx, key.Origin)
	if err != nil {
		return "", fmt.Errorf("resolve magic url: %w", err)
	}

	if !strings.HasPrefix(result.ContentType, "text/plain") {
		return "", fmt.Errorf("resolve magic url %s: %w", key.Origin, ErrUnsupportedContentType)
	}

	resolved := strings.TrimSpace(string(result.Body))
	if resolved == "" {
		return "", fmt.Errorf("resolve magic url %s: empty document", key.Origin)
	}

	r.store.Put(cache.Entry{
		Key:         key,
		Body:        []byte(resolved),
		ContentType: result.ContentType,
		FetchedAt:   time.Now().UTC(),
	})

	r.logger.WithFields(logrus.Fields{
		"action": "magic_cache_fill",
		"url":    key.Origin,
	}).Info("caching magic mapping")

	return resolved, nil
}
