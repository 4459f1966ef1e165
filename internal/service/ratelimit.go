// ratelimit.go - ограничение частоты запросов одного пользователя.
// Мягкий лимит в памяти процесса, не граница безопасности.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RateLimiter пропускает не более одного запроса пользователя за interval.
// Последние принятые запросы хранятся в LRU ограниченного размера с TTL = interval,
// поэтому карта не растёт с числом разных пользователей.
type RateLimiter struct {
	interval time.Duration
	seen     *expirable.LRU[string, time.Time]
	now      func() time.Time

	mu sync.Mutex
}

// NewRateLimiter создаёт ограничитель. interval <= 0 отключает ограничение.
func NewRateLimiter(interval time.Duration, maxTracked int) *RateLimiter {
	r := &RateLimiter{
		interval: interval,
		now:      time.Now,
	}
	if interval > 0 {
		r.seen = expirable.NewLRU[string, time.Time](maxTracked, nil, interval)
	}
	return r
}

// Allow сообщает, можно ли принять запрос requesterID сейчас.
// Отклонённый запрос не сдвигает отметку последнего принятого.
func (r *RateLimiter) Allow(requesterID string) bool {
	if r.seen == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.seen.Get(requesterID); ok && now.Sub(last) < r.interval {
		rateLimitedTotal.Inc()
		return false
	}
	r.seen.Add(requesterID, now)
	return true
}
