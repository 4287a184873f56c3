package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/img-warp/img-warp/internal/logging"
	"github.com/img-warp/img-warp/internal/pipeline"
	"github.com/img-warp/img-warp/internal/variant"
)

// ImageService 是 HTTP 层与 pipeline 之间的唯一契约，便于测试注入假实现。
type ImageService interface {
	GetImage(ctx context.Context, v variant.Variant, origin string) (*pipeline.Result, error)
}

// MagicResolver 解析 magic URL 到真实 origin URL；per-variant 模式下可用。
type MagicResolver interface {
	Resolve(ctx context.Context, magicURL string) (string, error)
}

// CacheStats 暴露诊断端需要的缓存计数。
type CacheStats interface {
	Len() int
	TotalBytes() int64
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logs       *logging.Set
	Table      *variant.Table
	Pipeline   ImageService
	Magic      MagicResolver
	Stats      CacheStats
	ListenPort int
}

const contextKeyRequestID = "_imgwarp_request_id"

// 成功响应与原始部署保持一致的客户端缓存期：30 天。
const clientCacheControl = "public,max-age=2592000"

// NewApp builds a Fiber application with variant routing middleware and
// structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logs == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Table == nil {
		return nil, errors.New("variant table is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(requestIDMiddleware())

	handler := &imageHandler{
		pipeline: opts.Pipeline,
		magic:    opts.Magic,
		table:    opts.Table,
		logger:   opts.Logs.For(logging.SubsystemWarp),
	}

	app.Get("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return handler.Handle(c)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并回写响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

// imageHandler 把入站请求翻译成 pipeline 调用，并将结果映射回 HTTP 响应。
type imageHandler struct {
	pipeline ImageService
	magic    MagicResolver
	table    *variant.Table
	logger   *logrus.Entry
}

// Handle 解析 variant 与 origin URL 后调用 pipeline，任何失败都输出结构化日志。
func (h *imageHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)

	v, origin, magicURL, err := h.parseRequest(c)
	if err != nil {
		h.logRequest(c, v, origin, fiber.StatusNotFound, false, started, requestID, err)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	if magicURL != "" {
		origin, err = h.magic.Resolve(c.Context(), magicURL)
		if err != nil {
			h.logRequest(c, v, magicURL, fiber.StatusBadGateway, false, started, requestID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "magic_resolve_failed"})
		}
	}

	result, err := h.pipeline.GetImage(c.Context(), v, origin)
	if err != nil {
		status, code := statusForError(err)
		h.logRequest(c, v, origin, status, false, started, requestID, err)
		return c.Status(status).JSON(fiber.Map{"error": code})
	}

	c.Set("Content-Type", result.ContentType)
	c.Set("Cache-Control", clientCacheControl)
	c.Set("X-Cache-Hit", fmt.Sprintf("%t", result.CacheHit()))
	c.Status(fiber.StatusOK)

	h.logRequest(c, v, origin, fiber.StatusOK, result.CacheHit(), started, requestID, nil)
	return c.Send(result.Body)
}

// parseRequest 从路径中恢复 variant 与 origin URL，本身不做任何 I/O。
// per-variant 模式：/{thumbnail|large}/<origin>，或 /magic/{variant}/<url>
// （此时返回的 magicURL 非空，origin 留待解析后填充）；
// generic 模式：整个路径即 origin URL。
func (h *imageHandler) parseRequest(c fiber.Ctx) (v variant.Variant, origin, magicURL string, err error) {
	rawPath := strings.TrimPrefix(string(c.Request().URI().Path()), "/")
	rawQuery := string(c.Request().URI().QueryString())

	withQuery := func(raw string) string {
		raw = repairSchemeSlashes(raw)
		if rawQuery != "" {
			return raw + "?" + rawQuery
		}
		return raw
	}

	if h.table.Mode() == variant.ModeGeneric {
		if rawPath == "" {
			return variant.Generic, "", "", errors.New("origin_url_required")
		}
		return variant.Generic, withQuery(rawPath), "", nil
	}

	segment, rest, _ := strings.Cut(rawPath, "/")

	if segment == "magic" {
		if h.magic == nil {
			return "", "", "", errors.New("magic_unavailable")
		}
		v, rest, err := splitVariant(rest)
		if err != nil {
			return "", "", "", err
		}
		return v, "", withQuery(rest), nil
	}

	v, ok := variant.Parse(segment)
	if !ok {
		return "", "", "", errors.New("unknown_variant")
	}

	if rest == "" {
		return v, "", "", errors.New("origin_url_required")
	}
	return v, withQuery(rest), "", nil
}

func splitVariant(rest string) (variant.Variant, string, error) {
	segment, tail, _ := strings.Cut(rest, "/")
	v, ok := variant.Parse(segment)
	if !ok {
		return "", "", errors.New("unknown_variant")
	}
	if tail == "" {
		return v, "", errors.New("origin_url_required")
	}
	return v, tail, nil
}

// repairSchemeSlashes 还原被路径归一化折叠的 scheme 分隔符
// （"https:/origin" → "https://origin"）。
func repairSchemeSlashes(raw string) string {
	for _, scheme := range []string{"https:/", "http:/"} {
		if strings.HasPrefix(raw, scheme) && !strings.HasPrefix(raw, scheme+"/") {
			return scheme + "/" + raw[len(scheme):]
		}
	}
	return raw
}

// statusForError 将 pipeline 错误翻译为 HTTP 状态码与错误码。
func statusForError(err error) (int, string) {
	if pipeline.UnsupportedVariant(err) {
		return fiber.StatusNotFound, "unsupported_variant"
	}
	if pipeline.Timeout(err) {
		return fiber.StatusGatewayTimeout, "upstream_timeout"
	}

	var pe *pipeline.Error
	if errors.As(err, &pe) {
		return fiber.StatusBadGateway, string(pe.Kind)
	}
	return fiber.StatusBadGateway, "upstream_failed"
}

func (h *imageHandler) logRequest(
	c fiber.Ctx,
	v variant.Variant,
	origin string,
	status int,
	cacheHit bool,
	started time.Time,
	requestID string,
	err error,
) {
	fields := logging.RequestFields(v.String(), origin, cacheHit)
	fields["action"] = "serve"
	fields["method"] = c.Method()
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("serve_failed")
		return
	}
	h.logger.WithFields(fields).Info("serve_complete")
}
