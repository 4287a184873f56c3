package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/img-warp/img-warp/internal/config"
)

func TestInitDefaultsToStdout(t *testing.T) {
	set, err := Init(&config.Config{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if set.Base().Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	if _, err := Init(&config.Config{LogLevel: "loud"}); err == nil {
		t.Fatalf("非法日志级别应返回错误")
	}
}

func TestInitPerSubsystemLevels(t *testing.T) {
	set, err := Init(&config.Config{
		LogLevel:  "info",
		LogLevels: map[string]string{SubsystemCache: "debug"},
	})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if set.For(SubsystemCache).Logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("cache 子系统应使用覆盖级别 debug")
	}
	if set.For(SubsystemImgs).Logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("未覆盖的子系统应沿用全局级别 info")
	}
}

func TestInitRejectsUnknownSubsystemLevel(t *testing.T) {
	cfg := &config.Config{
		LogLevel:  "info",
		LogLevels: map[string]string{SubsystemFetch: "boom"},
	}
	if _, err := Init(cfg); err == nil {
		t.Fatalf("非法子系统级别应返回错误")
	}
}

func TestForUnknownSubsystemFallsBackToBase(t *testing.T) {
	set, err := Init(&config.Config{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	entry := set.For("nonexistent")
	if entry.Logger != set.Base() {
		t.Fatalf("未知子系统应回退到 base logger")
	}
}

func TestInitFallbackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := &config.Config{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "img-warp.log"),
	}
	set, err := Init(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if set.Base().Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestInitCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img-warp.log")
	cfg := &config.Config{LogLevel: "debug", LogFilePath: path}
	set, err := Init(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	set.For(SubsystemWarp).Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}
