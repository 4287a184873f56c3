package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/img-warp/img-warp/internal/config"
)

// 子系统名称沿用部署脚本中的日志目标约定。
const (
	SubsystemImgs  = "imgs"  // pipeline 协调器
	SubsystemCache = "cache" // 内存/磁盘缓存
	SubsystemFetch = "fetch" // 回源与 rescale 上游调用
	SubsystemWarp  = "warp"  // HTTP 传输层
)

// Subsystems 列出全部合法的子系统名称，供配置校验与诊断端复用。
func Subsystems() []string {
	return []string{SubsystemImgs, SubsystemCache, SubsystemFetch, SubsystemWarp}
}

// Set 为每个子系统维护一个独立 Level 的 logger，所有 logger 共享同一输出。
type Set struct {
	base    *logrus.Logger
	entries map[string]*logrus.Entry
}

// Init 根据配置初始化 JSON 结构化日志，确保文件/控制台输出一致，
// 并按 LogLevels 为各子系统套用独立的日志级别。
func Init(cfg *config.Config) (*Set, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := buildOutput(cfg)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	formatter := &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}

	base := logrus.New()
	base.SetLevel(level)
	base.SetOutput(output)
	base.SetFormatter(formatter)

	set := &Set{
		base:    base,
		entries: make(map[string]*logrus.Entry, 4),
	}

	for _, name := range Subsystems() {
		subLevel := level
		if raw, ok := cfg.LogLevels[name]; ok {
			parsed, err := logrus.ParseLevel(raw)
			if err != nil {
				return nil, fmt.Errorf("无法解析子系统 %s 的日志级别: %w", name, err)
			}
			subLevel = parsed
		}

		logger := logrus.New()
		logger.SetLevel(subLevel)
		logger.SetOutput(output)
		logger.SetFormatter(formatter)
		set.entries[name] = logger.WithField("subsystem", name)
	}

	if outErr != nil {
		base.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}

	return set, nil
}

// Base 返回未绑定子系统的 logger，供启动/CLI 日志使用。
func (s *Set) Base() *logrus.Logger {
	return s.base
}

// For 返回绑定了 subsystem 字段的 Entry；未知名称回退到 base logger。
func (s *Set) For(name string) *logrus.Entry {
	if entry, ok := s.entries[name]; ok {
		return entry
	}
	return logrus.NewEntry(s.base)
}

// buildOutput 根据配置创建日志输出 Writer；失败时降级到 stdout 并返回错误。
func buildOutput(cfg *config.Config) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}

	dir := filepath.Dir(cfg.LogFilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
	return rotator, nil
}
