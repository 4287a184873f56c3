package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
// 配置文件不存在时并不报错：环境变量（PORT / REFERER / IMAGE_RESCALE_URL*）
// 足以独立配置整个进程，缺失端点会在 Validate 阶段暴露。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)
	bindEnvOverrides(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3030)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./cache")
	v.SetDefault("MaxMemoryCacheSize", 256*1024*1024)
	v.SetDefault("MaxMemoryCacheEntries", 4096)
	v.SetDefault("CacheMaxAge", 0)
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("FetchTimeout", "30s")
	v.SetDefault("RescaleTimeout", "30s")
}

// bindEnvOverrides 绑定部署脚本约定的环境变量，使其优先于文件配置。
func bindEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("ListenPort", "PORT")
	_ = v.BindEnv("Referer", "REFERER")
	_ = v.BindEnv("RescaleURL", "IMAGE_RESCALE_URL")
	_ = v.BindEnv("RescaleURLThumbnail", "IMAGE_RESCALE_URL_Thumbnail")
	_ = v.BindEnv("RescaleURLLarge", "IMAGE_RESCALE_URL_Large")
}

func applyDefaults(c *Config) {
	if c.ListenPort == 0 {
		c.ListenPort = 3030
	}
	if c.InitialBackoff.DurationValue() == 0 {
		c.InitialBackoff = Duration(time.Second)
	}
	if c.FetchTimeout.DurationValue() == 0 {
		c.FetchTimeout = Duration(30 * time.Second)
	}
	if c.RescaleTimeout.DurationValue() == 0 {
		c.RescaleTimeout = Duration(30 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
