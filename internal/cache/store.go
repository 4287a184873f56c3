package cache

import (
	"errors"
	"time"

	"github.com/img-warp/img-warp/internal/variant"
)

// Key 唯一定位一个缓存槽位：规格 + 原始图片地址。
type Key struct {
	Variant variant.Variant
	Origin  string
}

// String 输出 variant::origin 形式，作为锁表与日志的键。
func (k Key) String() string {
	return string(k.Variant) + "::" + k.Origin
}

// Entry 表示一次成功的 fetch+rescale 结果，创建后不再修改；
// 替换只会以整体覆盖的方式发生。
type Entry struct {
	Key         Key
	Body        []byte
	ContentType string
	FetchedAt   time.Time
}

// SizeBytes 返回正文大小，内存预算按此累计。
func (e Entry) SizeBytes() int64 {
	return int64(len(e.Body))
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
