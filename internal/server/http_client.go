package server

import (
	"net"
	"net/http"
	"time"

	"github.com/img-warp/img-warp/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，origin 抓取与 rescale 调用共用。
// Client 自身不设整体超时，单次调用的时限由 Fetcher/Rescaler 按配置的
// FetchTimeout/RescaleTimeout 通过 context 控制。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	return &http.Client{
		Transport: defaultTransport.Clone(),
	}
}
