package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"resty.dev/v3"
)

// ErrTooManyRedirects 重定向次数超过上限
var ErrTooManyRedirects = errors.New("重定向次数过多")

// Config 下载配置
type Config struct {
	UserAgent    string        // 默认 User-Agent
	Timeout      time.Duration // 单次传输超时
	MaxRedirects int           // 最大重定向次数
}

// DefaultConfig 默认下载配置
func DefaultConfig() Config {
	return Config{
		UserAgent:    "OSDownloadManager",
		Timeout:      30 * time.Minute,
		MaxRedirects: 5,
	}
}

// Request 单次下载请求，空字段不发送
type Request struct {
	URL       string
	UserAgent string
	Cookie    string
	Referer   string
	Offset    int64  // 大于 0 时发送 Range 续传
	IfRange   string // 续传时校验的 ETag
}

// Response 响应状态和头信息，Body 由调用方关闭
type Response struct {
	Body               io.ReadCloser
	StatusCode         int
	ContentLength      int64
	ContentType        string
	ContentDisposition string
	ContentLocation    string
	ETag               string
}

// Fetcher 基于 resty 的下载客户端
type Fetcher struct {
	client *resty.Client
	config Config
}

func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "*/*").
		SetHeader("Accept-Encoding", "identity"). // 禁用压缩，避免 Content-Length 不匹配
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) > cfg.MaxRedirects {
				return ErrTooManyRedirects
			}
			// 保持原始请求头
			if len(via) > 0 {
				req.Header.Set("User-Agent", via[0].Header.Get("User-Agent"))
			}
			return nil
		}))

	return &Fetcher{client: client, config: cfg}
}

// Close 释放底层连接
func (f *Fetcher) Close() error {
	return f.client.Close()
}

// Open 发起 GET 请求并返回未读取的响应体。
// 非 2xx 响应同样返回 Response，由调用方根据状态码处理。
func (f *Fetcher) Open(ctx context.Context, req Request) (*Response, error) {
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = f.config.UserAgent
	}

	r := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("User-Agent", userAgent)
	if req.Cookie != "" {
		r.SetHeader("Cookie", req.Cookie)
	}
	if req.Referer != "" {
		r.SetHeader("Referer", req.Referer)
	}
	if req.Offset > 0 {
		r.SetHeader("Range", fmt.Sprintf("bytes=%d-", req.Offset))
		if req.IfRange != "" {
			r.SetHeader("If-Range", req.IfRange)
		}
	}

	res, err := r.Get(req.URL)
	if err != nil {
		if errors.Is(err, ErrTooManyRedirects) {
			return nil, ErrTooManyRedirects
		}
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}

	header := res.Header()
	return &Response{
		Body:               res.Body,
		StatusCode:         res.StatusCode(),
		ContentLength:      res.RawResponse.ContentLength,
		ContentType:        header.Get("Content-Type"),
		ContentDisposition: header.Get("Content-Disposition"),
		ContentLocation:    header.Get("Content-Location"),
		ETag:               header.Get("ETag"),
	}, nil
}
