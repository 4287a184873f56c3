package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Config 描述整个进程的运行时行为，一次加载后只读。
type Config struct {
	ListenPort int    `mapstructure:"ListenPort"`
	Referer    string `mapstructure:"Referer"`

	// RescaleURL 单独配置时进入 generic 模式；Thumbnail/Large 配置时进入
	// per-variant 模式，两组互斥。
	RescaleURL          string `mapstructure:"RescaleURL"`
	RescaleURLThumbnail string `mapstructure:"RescaleURLThumbnail"`
	RescaleURLLarge     string `mapstructure:"RescaleURLLarge"`

	LogLevel      string            `mapstructure:"LogLevel"`
	LogLevels     map[string]string `mapstructure:"LogLevels"`
	LogFilePath   string            `mapstructure:"LogFilePath"`
	LogMaxSize    int               `mapstructure:"LogMaxSize"`
	LogMaxBackups int               `mapstructure:"LogMaxBackups"`
	LogCompress   bool              `mapstructure:"LogCompress"`

	// StoragePath 为空时关闭磁盘持久化，仅保留内存缓存。
	StoragePath string `mapstructure:"StoragePath"`

	MaxMemoryCacheSize    int64    `mapstructure:"MaxMemoryCacheSize"`
	MaxMemoryCacheEntries int      `mapstructure:"MaxMemoryCacheEntries"`
	CacheMaxAge           Duration `mapstructure:"CacheMaxAge"`

	MaxRetries     int      `mapstructure:"MaxRetries"`
	InitialBackoff Duration `mapstructure:"InitialBackoff"`
	FetchTimeout   Duration `mapstructure:"FetchTimeout"`
	RescaleTimeout Duration `mapstructure:"RescaleTimeout"`
}

// GenericMode 表示是否使用单一 rescale 端点承接所有请求。
func (c *Config) GenericMode() bool {
	return c.RescaleURL != ""
}

// HasReferer 表示是否需要在回源请求中附带 Referer 头。
func (c *Config) HasReferer() bool {
	return c.Referer != ""
}

// PersistenceEnabled 表示磁盘缓存层是否启用。
func (c *Config) PersistenceEnabled() bool {
	return c.StoragePath != ""
}
