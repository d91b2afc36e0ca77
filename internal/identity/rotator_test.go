package identity

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrawComesFromPool(t *testing.T) {
	t.Parallel()

	r := NewRotator("a", "b", "c")
	seen := make(map[string]int)
	for i := 0; i < 300; i++ {
		seen[r.Draw()]++
	}
	assert.Len(t, seen, 3)
	for ua := range seen {
		assert.Contains(t, []string{"a", "b", "c"}, ua)
	}
}

func TestDefaultPoolHasDesktopAndMobile(t *testing.T) {
	t.Parallel()

	pool := NewRotator().Pool()
	var mobile, desktop int
	for _, ua := range pool {
		if containsAny(ua, "Mobile", "iPhone", "Android") {
			mobile++
		} else {
			desktop++
		}
	}
	assert.Positive(t, mobile)
	assert.Positive(t, desktop)
}

func TestPoolIsCopied(t *testing.T) {
	t.Parallel()

	r := NewRotator("x")
	p := r.Pool()
	p[0] = "mutated"
	assert.Equal(t, "x", r.Draw())
}

func TestConcurrentDraw(t *testing.T) {
	t.Parallel()

	r := NewRotator()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NotEmpty(t, r.Draw())
			}
		}()
	}
	wg.Wait()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
