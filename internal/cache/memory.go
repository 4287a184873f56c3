package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryOptions 控制内存缓存的容量与过期策略。MaxBytes/MaxEntries 为 0 时
// 对应维度不设上限；MaxAge 为 0 时条目永不过期。
type MemoryOptions struct {
	MaxBytes   int64
	MaxEntries int
	MaxAge     time.Duration
}

// MemoryStore 是进程内的权威缓存：严格 LRU，按最近访问时间淘汰，
// 插入顺序作为并列时的次序（链表本身维护了这一全序）。所有操作
// 在单锁内完成，淘汰同步发生在 Put 内部。
type MemoryStore struct {
	opts MemoryOptions
	now  func() time.Time

	mu         sync.Mutex
	order      *list.List // front = 最近访问
	index      map[Key]*list.Element
	totalBytes int64
}

type memEntry struct {
	entry Entry
}

// NewMemoryStore 构建空的内存缓存。
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	return &MemoryStore{
		opts:  opts,
		now:   time.Now,
		order: list.New(),
		index: make(map[Key]*list.Element),
	}
}

// Get 做无副作用查找（除 LRU 位次与过期惰性清理外）。过期条目视为不存在。
func (s *MemoryStore) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.index[key]
	if !ok {
		return Entry{}, false
	}

	entry := elem.Value.(*memEntry).entry
	if s.expired(entry) {
		s.removeLocked(elem)
		return Entry{}, false
	}

	s.order.MoveToFront(elem)
	return entry, true
}

// Put 插入或整体替换条目，随后在超出任一预算时同步淘汰最久未访问者。
// 单个条目超过字节预算时直接拒绝，不会为其清空整个缓存。
func (s *MemoryStore) Put(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.MaxBytes > 0 && entry.SizeBytes() > s.opts.MaxBytes {
		if elem, ok := s.index[entry.Key]; ok {
			s.removeLocked(elem)
		}
		return
	}

	if elem, ok := s.index[entry.Key]; ok {
		s.removeLocked(elem)
	}

	elem := s.order.PushFront(&memEntry{entry: entry})
	s.index[entry.Key] = elem
	s.totalBytes += entry.SizeBytes()

	s.evictLocked()
}

// Remove 删除指定条目；不存在时为空操作。
func (s *MemoryStore) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.index[key]; ok {
		s.removeLocked(elem)
	}
}

// Len 返回当前条目数，供诊断端输出。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// TotalBytes 返回当前缓存正文字节总量，供诊断端输出。
func (s *MemoryStore) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

func (s *MemoryStore) evictLocked() {
	for s.overBudgetLocked() {
		back := s.order.Back()
		if back == nil {
			return
		}
		s.removeLocked(back)
	}
}

func (s *MemoryStore) overBudgetLocked() bool {
	if s.opts.MaxBytes > 0 && s.totalBytes > s.opts.MaxBytes {
		return true
	}
	if s.opts.MaxEntries > 0 && s.order.Len() > s.opts.MaxEntries {
		return true
	}
	return false
}

func (s *MemoryStore) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memEntry).entry
	s.order.Remove(elem)
	delete(s.index, entry.Key)
	s.totalBytes -= entry.SizeBytes()
}

func (s *MemoryStore) expired(entry Entry) bool {
	if s.opts.MaxAge <= 0 {
		return false
	}
	return s.now().After(entry.FetchedAt.Add(s.opts.MaxAge))
}
