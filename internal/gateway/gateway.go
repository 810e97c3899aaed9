// Package gateway 交易后端 REST 接口的客户端。
// 所有响应都是 {success, message, data, error} 信封，无论 HTTP 状态码都按信封解码。
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/pkg/config"
	"github.com/betbot/tradedash/pkg/ratelimit"
	sdkhttp "github.com/betbot/tradedash/pkg/sdk/http"
)

var log = logrus.WithField("component", "gateway")

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) text(fallback string) string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

// AuthResult 登录/注册成功的结果
type AuthResult struct {
	Token   string
	Profile domain.Profile
	Message string // 服务端消息，例如 "Login successful"
}

type authData struct {
	Token string         `json:"token"`
	User  domain.Profile `json:"user"`
}

type createOrderRequest struct {
	Symbol   domain.Symbol `json:"symbol"`
	Side     domain.Side   `json:"side"`
	Quantity int           `json:"quantity"`
	Price    json.Number   `json:"price"`
}

type Gateway struct {
	client *sdkhttp.Client
}

func New(client *sdkhttp.Client) *Gateway {
	return &Gateway{client: client}
}

// NewFromConfig 按配置创建（限速、超时、GET 重试、代理）
func NewFromConfig(cfg *config.Config) *Gateway {
	var limiter ratelimit.Limiter
	if cfg.API.RateLimitPerSecond > 0 {
		limiter = ratelimit.NewTokenBucket(cfg.API.RateLimitPerSecond, float64(cfg.API.RateLimitPerSecond))
	}
	opts := sdkhttp.Options{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout,
		RetryCount: cfg.API.RetryCount,
		Limiter:    limiter,
	}
	if cfg.Proxy != nil {
		opts.ProxyURL = cfg.Proxy.URL()
	}
	return New(sdkhttp.NewClient(opts))
}

// Login 邮箱密码登录。凭证错误返回 *domain.AuthError，网络失败返回 *domain.NetworkError
func (g *Gateway) Login(ctx context.Context, email, password string) (AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	return g.authenticate(ctx, "login", "/login", body)
}

// Signup 注册并直接登录
func (g *Gateway) Signup(ctx context.Context, req domain.SignupRequest) (AuthResult, error) {
	return g.authenticate(ctx, "signup", "/signup", req)
}

func (g *Gateway) authenticate(ctx context.Context, op, path string, body any) (AuthResult, error) {
	env, _, err := g.do(ctx, op, http.MethodPost, path, "", body)
	if err != nil {
		return AuthResult{}, err
	}
	if !env.Success {
		return AuthResult{}, &domain.AuthError{Message: env.text("Authentication failed")}
	}
	var data authData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return AuthResult{}, &domain.AuthError{Message: "Malformed server response"}
	}
	return AuthResult{Token: data.Token, Profile: data.User, Message: env.Message}, nil
}

// Me 读取当前用户资料
func (g *Gateway) Me(ctx context.Context, token string) (domain.Profile, error) {
	env, status, err := g.do(ctx, "me", http.MethodGet, "/me", token, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := authedFailure(env, status); err != nil {
		return domain.Profile{}, err
	}
	var p domain.Profile
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return domain.Profile{}, &domain.ServerError{Status: status, Message: "Malformed server response"}
	}
	return p, nil
}

// ListOrders 拉取当前用户的完整订单记录（服务端按时间倒序）
func (g *Gateway) ListOrders(ctx context.Context, token string) ([]domain.Order, error) {
	env, status, err := g.do(ctx, "list orders", http.MethodGet, "/orders", token, nil)
	if err != nil {
		return nil, err
	}
	if err := authedFailure(env, status); err != nil {
		return nil, err
	}
	orders := []domain.Order{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &orders); err != nil {
			return nil, &domain.ServerError{Status: status, Message: "Malformed server response"}
		}
	}
	return orders, nil
}

// CreateOrder 提交订单，返回服务端生成的订单和服务端消息
func (g *Gateway) CreateOrder(ctx context.Context, token string, intent domain.OrderIntent) (domain.Order, string, error) {
	req := createOrderRequest{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Quantity: intent.Quantity,
		Price:    json.Number(intent.Price.String()),
	}
	env, status, err := g.do(ctx, "create order", http.MethodPost, "/orders", token, req)
	if err != nil {
		return domain.Order{}, "", err
	}
	if err := authedFailure(env, status); err != nil {
		return domain.Order{}, "", err
	}
	var o domain.Order
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &o); err != nil {
			log.Warnf("下单响应中的订单无法解析: %v", err)
		}
	}
	return o, env.Message, nil
}

// authedFailure 已认证请求的失败映射：401 => ErrUnauthorized，success:false => ServerError
func authedFailure(env envelope, status int) error {
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, env.text("unauthorized"))
	}
	if !env.Success {
		return &domain.ServerError{Status: status, Message: env.text(http.StatusText(status))}
	}
	return nil
}

func (g *Gateway) do(ctx context.Context, op, method, path, token string, body any) (envelope, int, error) {
	var env envelope
	resp, err := g.client.DoRequest(ctx, method, path, &sdkhttp.RequestOptions{Token: token, Data: body}, &env)
	if err != nil {
		var de *sdkhttp.DecodeError
		if errors.As(err, &de) {
			// 收到了响应但不是 JSON（网关错误页等）
			log.Warnf("%s: 响应不是 JSON (status %d)", op, de.Status)
			if de.Status == http.StatusUnauthorized && token != "" {
				return envelope{}, de.Status, domain.ErrUnauthorized
			}
			return envelope{}, de.Status, &domain.ServerError{Status: de.Status, Message: "Unexpected server response"}
		}
		log.Warnf("%s 请求失败: %v", op, err)
		return envelope{}, 0, &domain.NetworkError{Op: op, Err: err}
	}
	log.Debugf("%s %s -> %d success=%v", method, path, resp.StatusCode(), env.Success)
	return env, resp.StatusCode(), nil
}
