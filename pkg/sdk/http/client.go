package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/betbot/tradedash/pkg/ratelimit"
)

const defaultUserAgent = "tradedash/1.0"

// Options 客户端选项
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int // 仅对 GET 生效，下单等 POST 请求不重试，避免重复提交
	Limiter    ratelimit.Limiter
	ProxyURL   string
	UserAgent  string
}

type Client struct {
	client    *resty.Client
	limiter   ratelimit.Limiter
	userAgent string
}

func NewClient(opts Options) *Client {
	host := strings.TrimSuffix(opts.BaseURL, "/")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if v := resp.Header().Get("Retry-After"); v != "" {
					if seconds, err := strconv.Atoi(v); err == nil {
						return time.Duration(seconds) * time.Second, nil
					}
				}
			}
			return 0, nil
		})
	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{client: client, limiter: opts.Limiter, userAgent: ua}
}

type RequestOptions struct {
	Headers map[string]string
	Data    any
	Params  map[string]any
	Token   string // 非空时以 Bearer 方式附带
}

// 仅设置本次请求的默认 Header（不要再改 client 级 Header）
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", c.userAgent)
	r.SetHeader("X-Request-ID", uuid.NewString())
	return r
}

// DoRequest 发送请求。非 2xx 不视为错误，响应体始终可从 resp.Body() 读取；
// out 非空时无论状态码都尝试按 JSON 解码响应体。
// 返回的 error 仅代表请求没有得到任何 HTTP 响应（网络、超时、限流等待被取消）。
func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
	}

	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		if opt.Token != "" {
			rc.SetAuthToken(opt.Token)
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}

	var (
		resp *resty.Response
		err  error
	)
	switch strings.ToUpper(method) {
	case http.MethodGet:
		resp, err = rc.Get(endpoint)
	case http.MethodPost:
		resp, err = rc.Post(endpoint)
	case http.MethodDelete:
		resp, err = rc.Delete(endpoint)
	case http.MethodPut:
		resp, err = rc.Put(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
	if err != nil {
		return resp, errors.Wrapf(err, "%s %s", strings.ToUpper(method), endpoint)
	}

	if out != nil && len(resp.Body()) > 0 {
		if derr := json.Unmarshal(resp.Body(), out); derr != nil {
			return resp, &DecodeError{Status: resp.StatusCode(), Err: derr}
		}
	}
	return resp, nil
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// DecodeError 收到了响应但响应体不是预期的 JSON
type DecodeError struct {
	Status int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response (status %d): %v", e.Status, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
