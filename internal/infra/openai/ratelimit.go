package openai

import (
	"golang.org/x/time/rate"
)

// NewRateLimiter は秒間リクエスト数からレートリミッターを作成する。
// rps が 0 以下の場合は制限なしとして nil を返す
func NewRateLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
