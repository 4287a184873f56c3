package rescale

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/img-warp/img-warp/internal/variant"
)

// ErrorKind 划分 rescale 调用失败的类别。
type ErrorKind string

const (
	KindTimeout            ErrorKind = "timeout"
	KindNetwork            ErrorKind = "network"
	KindUpstreamStatus     ErrorKind = "upstream_status"
	KindUnsupportedVariant ErrorKind = "unsupported_variant"
)

// Error 携带失败类别与目标规格，满足 errors.Is/As 链式判断。
type Error struct {
	Kind    ErrorKind
	Status  int
	Variant variant.Variant
	URL     string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnsupportedVariant:
		return fmt.Sprintf("rescale: no endpoint configured for variant %s", e.Variant)
	case KindUpstreamStatus:
		return fmt.Sprintf("rescale %s: upstream status %d", e.URL, e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("rescale %s: %s: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("rescale %s: %s", e.URL, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient 报告错误是否属于可重试类别；未配置端点不重试。
func Transient(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindTimeout || re.Kind == KindNetwork
	}
	return false
}

// Result 是 rescale 成功后的产物，正文与 content-type 均原样透传。
type Result struct {
	Body        []byte
	ContentType string
}

// Client 封装对外部 rescale 服务的调用。generic 模式下端点自行抓取原图，
// per-variant 模式下本进程抓取后将字节 POST 给对应端点。
type Client struct {
	httpClient *http.Client
	table      *variant.Table
	timeout    time.Duration
	logger     *logrus.Entry
}

// New 构造 Client，端点查表在启动时构建完成后只读。
func New(httpClient *http.Client, table *variant.Table, timeout time.Duration, logger *logrus.Entry) *Client {
	return &Client{
		httpClient: httpClient,
		table:      table,
		timeout:    timeout,
		logger:     logger,
	}
}

// RescaleByURL 走 generic 模式：把 origin URL 作为参数拼到唯一端点上。
func (c *Client) RescaleByURL(ctx context.Context, originURL string) (*Result, error) {
	endpoint, ok := c.table.Endpoint(variant.Generic)
	if !ok {
		return nil, &Error{Kind: KindUnsupportedVariant, Variant: variant.Generic}
	}

	target := genericURL(endpoint, originURL)
	req, err := http.NewRequest(http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Variant: variant.Generic, URL: target, Err: err}
	}
	return c.do(ctx, req, variant.Generic, target)
}

// RescaleBytes 走 per-variant 模式：将已抓取的正文 POST 给对应规格的端点。
func (c *Client) RescaleBytes(ctx context.Context, v variant.Variant, body []byte, contentType string) (*Result, error) {
	endpoint, ok := c.table.Endpoint(v)
	if !ok {
		return nil, &Error{Kind: KindUnsupportedVariant, Variant: v}
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Variant: v, URL: endpoint, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.do(ctx, req, v, endpoint)
}

func (c *Client) do(ctx context.Context, req *http.Request, v variant.Variant, target string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	c.logger.WithFields(logrus.Fields{
		"action":  "rescale",
		"variant": v.String(),
		"url":     target,
	}).Info("calling rescale service")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(v, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: KindUpstreamStatus, Status: resp.StatusCode, Variant: v, URL: target}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(v, target, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Result{Body: body, ContentType: contentType}, nil
}

// genericURL 按部署约定拼接 generic 端点：端点以 ?、& 或 = 结尾时原样追加
// origin URL，否则补上 url 查询参数。
func genericURL(endpoint, origin string) string {
	if strings.HasSuffix(endpoint, "=") || strings.HasSuffix(endpoint, "?") || strings.HasSuffix(endpoint, "&") {
		return endpoint + origin
	}
	separator := "?"
	if strings.Contains(endpoint, "?") {
		separator = "&"
	}
	return endpoint + separator + "url=" + url.QueryEscape(origin)
}

func classify(v variant.Variant, target string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Variant: v, URL: target, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &Error{Kind: KindTimeout, Variant: v, URL: target, Err: err}
	}
	return &Error{Kind: KindNetwork, Variant: v, URL: target, Err: err}
}
