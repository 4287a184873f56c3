package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorKind 划分回源失败的类别，Coordinator 据此决定是否重试。
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindNetwork        ErrorKind = "network"
	KindUpstreamStatus ErrorKind = "upstream_status"
)

// Error 携带失败类别与上游状态码，满足 errors.Is/As 链式判断。
type Error struct {
	Kind   ErrorKind
	Status int
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindUpstreamStatus {
		return fmt.Sprintf("fetch %s: upstream status %d", e.URL, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient 报告错误是否属于可重试类别（超时/网络），状态码类失败不重试。
func Transient(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindTimeout || fe.Kind == KindNetwork
	}
	return false
}

// Result 是一次成功回源的产物：原始正文与上游声明的 content-type。
type Result struct {
	Body        []byte
	ContentType string
}

// Fetcher 负责拉取 origin 图片原始字节，自身不做任何重试。
type Fetcher struct {
	client  *http.Client
	referer string
	timeout time.Duration
	logger  *logrus.Entry
}

// New 构造 Fetcher。referer 为空时回源请求不携带 Referer 头。
func New(client *http.Client, referer string, timeout time.Duration, logger *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:  client,
		referer: referer,
		timeout: timeout,
		logger:  logger,
	}
}

// Fetch 对 originURL 发起一次 GET，超时由每次调用独立计时。
func (f *Fetcher) Fetch(ctx context.Context, originURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	f.logger.WithFields(logrus.Fields{
		"action": "fetch",
		"url":    originURL,
	}).Info("fetching origin")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, originURL, http.NoBody)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: originURL, Err: err}
	}
	if f.referer != "" {
		req.Header.Set("Referer", f.referer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(originURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: KindUpstreamStatus, Status: resp.StatusCode, URL: originURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(originURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Result{Body: body, ContentType: contentType}, nil
}

// classify 将传输层错误映射到 Timeout/Network 两类。
func classify(rawURL string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	return &Error{Kind: KindNetwork, URL: rawURL, Err: err}
}
