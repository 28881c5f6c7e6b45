package transport

import (
	"golang.org/x/time/rate"
)

// Limiter 入站限流器
//
// 恶意页面可能向共享通道灌入大量消息，每条边独立限流。
// 速率为 0 表示不限制。
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter 创建限流器
func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return &Limiter{}
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow 是否放行一帧
func (l *Limiter) Allow() bool {
	if l == nil || l.lim == nil {
		return true
	}
	return l.lim.Allow()
}
