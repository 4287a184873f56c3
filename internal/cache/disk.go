package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiskStore 将成功的 rescale 结果持久化到磁盘，使缓存跨进程重启存活。
// 磁盘布局：
//
//	<basePath>/<variant>/<h[0:3]>/<h[3:6]>/<h[6:]>       # 正文
//	<basePath>/<variant>/<h[0:3]>/<h[3:6]>/<h[6:]>.meta  # content-type 等元数据
//
// 其中 h 为 origin URL 的 sha256 十六进制摘要。写入通过临时文件 + rename
// 保证原子性，同一条目的并发写由 entryLock 串行化。
type DiskStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type diskMeta struct {
	ContentType string    `json:"content_type"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// NewDiskStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewDiskStore(basePath string) (*DiskStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &DiskStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// Get 读取完整条目；正文或元数据缺失都按 ErrNotFound 处理。
func (s *DiskStore) Get(ctx context.Context, key Key) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bodyPath := s.entryPath(key)

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rawMeta, err := os.ReadFile(bodyPath + ".meta")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var meta diskMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		// 元数据损坏等同不存在，后续 Put 会整体覆盖。
		return nil, ErrNotFound
	}

	return &Entry{
		Key:         key,
		Body:        body,
		ContentType: meta.ContentType,
		FetchedAt:   meta.FetchedAt,
	}, nil
}

// Put 原子写入正文与元数据。先落正文再落元数据，读取侧要求两者齐备，
// 因此中途失败不会产生可读的半成品。
func (s *DiskStore) Put(ctx context.Context, entry Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	unlock := s.lockEntry(entry.Key)
	defer unlock()

	bodyPath := s.entryPath(entry.Key)
	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return err
	}

	if err := writeFileAtomic(bodyPath, entry.Body); err != nil {
		return err
	}

	rawMeta, err := json.Marshal(diskMeta{
		ContentType: entry.ContentType,
		FetchedAt:   entry.FetchedAt.UTC(),
	})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(bodyPath+".meta", rawMeta); err != nil {
		os.Remove(bodyPath)
		return err
	}

	return nil
}

// Remove 删除正文与元数据，两者都不存在时视为成功。
func (s *DiskStore) Remove(ctx context.Context, key Key) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	unlock := s.lockEntry(key)
	defer unlock()

	bodyPath := s.entryPath(key)
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(bodyPath + ".meta"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *DiskStore) lockEntry(key Key) func() {
	id := key.String()
	s.mu.Lock()
	lock := s.locks[id]
	if lock == nil {
		lock = &entryLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// entryPath 按 sha256 摘要做 3/3 分片，避免单目录条目过多。
func (s *DiskStore) entryPath(key Key) string {
	sum := sha256.Sum256([]byte(key.Origin))
	digest := hex.EncodeToString(sum[:])
	return filepath.Join(s.basePath, string(key.Variant), digest[:3], digest[3:6], digest[6:])
}

func writeFileAtomic(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
