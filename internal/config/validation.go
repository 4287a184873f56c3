package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}

	hasGeneric := c.RescaleURL != ""
	hasVariant := c.RescaleURLThumbnail != "" || c.RescaleURLLarge != ""
	if !hasGeneric && !hasVariant {
		return newFieldError(
			"RescaleURL",
			"必须配置 RescaleURL（generic 模式）或 RescaleURLThumbnail/RescaleURLLarge（per-variant 模式）之一",
		)
	}
	if hasGeneric && hasVariant {
		return newFieldError("RescaleURL", "generic 与 per-variant 端点互斥，不能同时配置")
	}

	if err := validateEndpoint("RescaleURL", c.RescaleURL); err != nil {
		return err
	}
	if err := validateEndpoint("RescaleURLThumbnail", c.RescaleURLThumbnail); err != nil {
		return err
	}
	if err := validateEndpoint("RescaleURLLarge", c.RescaleURLLarge); err != nil {
		return err
	}

	if c.MaxMemoryCacheSize < 0 {
		return newFieldError("MaxMemoryCacheSize", "不能为负数")
	}
	if c.MaxMemoryCacheEntries < 0 {
		return newFieldError("MaxMemoryCacheEntries", "不能为负数")
	}
	if c.CacheMaxAge.DurationValue() < 0 {
		return newFieldError("CacheMaxAge", "不能为负数")
	}
	if c.MaxRetries < 0 {
		return newFieldError("MaxRetries", "不能为负数")
	}
	if c.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}
	if c.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("FetchTimeout", "必须大于 0")
	}
	if c.RescaleTimeout.DurationValue() <= 0 {
		return newFieldError("RescaleTimeout", "必须大于 0")
	}

	return nil
}

// validateEndpoint 校验 rescale 端点为绝对 http/https 地址；空值跳过。
func validateEndpoint(field, raw string) error {
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return newFieldError(field, fmt.Sprintf("地址非法: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return newFieldError(field, "仅支持 http/https")
	}
	if parsed.Host == "" {
		return newFieldError(field, "缺少 Host")
	}
	return nil
}
