package stream

import (
	"time"

	"github.com/betbot/tradedash/pkg/config"
)

const (
	defaultDecay             = 1000 * time.Millisecond
	defaultHandshakeTimeout  = 10 * time.Second
	defaultReconnectDelay    = 1 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultEventBufferSize   = 256
)

// Config 行情流客户端配置
type Config struct {
	URL              string
	Decay            time.Duration // 方向高亮持续时间，每帧重置
	HandshakeTimeout time.Duration
	ProxyURL         string

	// 自动重连默认关闭；开启后仅在已 Arm 时按指数退避重连
	ReconnectEnabled     bool
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int // 0 表示不限次数

	EventBufferSize int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		URL:               "ws://localhost:8080/api/ws",
		Decay:             defaultDecay,
		HandshakeTimeout:  defaultHandshakeTimeout,
		ReconnectDelay:    defaultReconnectDelay,
		MaxReconnectDelay: defaultMaxReconnectDelay,
		EventBufferSize:   defaultEventBufferSize,
	}
}

// ConfigFrom 由全局配置生成
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.URL = cfg.Stream.URL
	c.Decay = cfg.Stream.Decay
	c.HandshakeTimeout = cfg.Stream.HandshakeTimeout
	c.ReconnectEnabled = cfg.Stream.ReconnectEnabled
	c.ReconnectDelay = cfg.Stream.ReconnectDelay
	c.MaxReconnectDelay = cfg.Stream.MaxReconnectDelay
	c.MaxReconnectAttempts = cfg.Stream.MaxReconnectAttempts
	if cfg.Proxy != nil {
		c.ProxyURL = cfg.Proxy.URL()
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Decay <= 0 {
		c.Decay = d.Decay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = d.EventBufferSize
	}
	return c
}

// backoff 第 attempt 次（从 1 开始）重连前的等待时间
func (c Config) backoff(attempt int) time.Duration {
	d := c.ReconnectDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxReconnectDelay {
			return c.MaxReconnectDelay
		}
	}
	return d
}
