package identity

import "math/rand/v2"

var defaultPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Mobile Safari/537.36",
}

// Rotator hands out client identities (user-agent strings). It holds no state
// besides an immutable pool and is safe for concurrent use.
type Rotator struct {
	pool []string
}

// NewRotator returns a rotator over pool, or over the built-in desktop and
// mobile pool when pool is empty.
func NewRotator(pool ...string) *Rotator {
	if len(pool) == 0 {
		pool = defaultPool
	}
	return &Rotator{pool: append([]string(nil), pool...)}
}

// Draw returns a uniformly random identity from the pool.
func (r *Rotator) Draw() string {
	if r == nil || len(r.pool) == 0 {
		return defaultPool[rand.IntN(len(defaultPool))]
	}
	return r.pool[rand.IntN(len(r.pool))]
}

// Pool returns a copy of the identities the rotator draws from.
func (r *Rotator) Pool() []string {
	if r == nil {
		return append([]string(nil), defaultPool...)
	}
	return append([]string(nil), r.pool...)
}
