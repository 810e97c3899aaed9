package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 速率限制器接口
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   float64 // 桶容量
	tokens     float64 // 当前令牌数
	refillRate float64 // 每秒补充的令牌数
	lastRefill time.Time
	mu         sync.Mutex

	now func() time.Time
}

// NewTokenBucket 创建令牌桶：初始满桶，每秒补充 refillRate 个令牌
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	tb := &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		now:        time.Now,
	}
	tb.lastRefill = tb.now()
	return tb
}

// refill 按经过时间补充令牌，调用方持有锁
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow 非阻塞地尝试取一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞直到取得令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		wait := tb.nextTokenIn()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextTokenIn 距离下一个令牌的时间
func (tb *TokenBucket) nextTokenIn() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.refillRate <= 0 {
		return time.Second
	}
	missing := 1 - tb.tokens
	if missing <= 0 {
		return 0
	}
	d := time.Duration(missing / tb.refillRate * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Remaining 当前剩余的整数令牌数
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}
