package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// floodGuard ограничивает частоту сообщений каждого пользователя.
type floodGuard struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[int64]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// idleAfter после этого простоя лимитер пользователя удаляется.
const idleAfter = 10 * time.Minute

func newFloodGuard(interval time.Duration) *floodGuard {
	return &floodGuard{
		interval: interval,
		limiters: make(map[int64]*visitor),
		now:      time.Now,
	}
}

// Allow сообщает, можно ли обработать сообщение пользователя.
// Нулевой интервал отключает ограничение.
func (g *floodGuard) Allow(userID int64) bool {
	if g.interval <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	v, ok := g.limiters[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(g.interval), 1)}
		g.limiters[userID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// prune удаляет лимитеры неактивных пользователей.
func (g *floodGuard) prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	now := g.now()
	for id, v := range g.limiters {
		if now.Sub(v.lastSeen) > idleAfter {
			delete(g.limiters, id)
			removed++
		}
	}
	return removed
}
