package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession 当前没有已认证会话
	ErrNoSession = errors.New("no authenticated session")
	// ErrUnauthorized 服务端拒绝了凭证（401），会话需要作废
	ErrUnauthorized = errors.New("credential rejected by server")
)

// AuthError 登录/注册失败（凭证错误、邮箱冲突等），显示在认证表单上
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "auth: " + e.Message }

// NetworkError 请求未能完成
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError 本地输入校验失败，未发起任何网络请求
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// StreamError 行情连接断开或出错
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream: %v", e.Err) }

func (e *StreamError) Unwrap() error { return e.Err }

// DecodeError 行情帧格式错误（丢弃，仅记录日志）
type DecodeError struct {
	Err     error
	Preview string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v (data: %s)", e.Err, e.Preview)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ServerError 服务端返回 success:false，Message 原样保留
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server (%d): %s", e.Status, e.Message)
}
