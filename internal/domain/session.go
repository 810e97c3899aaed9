package domain

import "time"

// SessionState 会话状态机
type SessionState string

const (
	SessionAnonymous      SessionState = "anonymous"
	SessionAuthenticating SessionState = "authenticating"
	SessionAuthenticated  SessionState = "authenticated"
)

// Profile 用户资料（与服务端 user 对象一致）
type Profile struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	IssuedAt time.Time `json:"issuedAt,omitempty"` // 本地记录的登录时间，服务端不返回
}

// Session 已认证会话，仅在 Authenticated 状态下存在
type Session struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Credential  string    `json:"-"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// SessionFromProfile 由凭证和用户资料组装会话
func SessionFromProfile(token string, p Profile) Session {
	return Session{
		UserID:      p.ID,
		Email:       p.Email,
		DisplayName: p.Name,
		Credential:  token,
		IssuedAt:    p.IssuedAt,
	}
}

// SignupRequest 注册请求
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// StreamState 行情连接状态机
type StreamState string

const (
	StreamIdle       StreamState = "idle"
	StreamConnecting StreamState = "connecting"
	StreamOpen       StreamState = "open"
	StreamClosed     StreamState = "closed"
)
