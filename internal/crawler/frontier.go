package crawler

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"website-extractor/pkg/types"
)

// Scope is the (scheme, host) pair that bounds which pages are expanded.
type Scope struct {
	Scheme string
	Host   string
}

// NewScope derives the crawl scope from the seed URL.
func NewScope(seed *url.URL) Scope {
	if seed == nil {
		return Scope{}
	}
	return Scope{Scheme: strings.ToLower(seed.Scheme), Host: canonicalHost(seed)}
}

// Contains reports whether u shares the scope's scheme and host.
func (s Scope) Contains(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, s.Scheme) && canonicalHost(u) == s.Host
}

// canonicalHost lowercases the host and drops the scheme's default port.
func canonicalHost(u *url.URL) string {
	host := strings.ToLower(u.Host)
	port := u.Port()
	if (port == "443" && strings.EqualFold(u.Scheme, "https")) || (port == "80" && strings.EqualFold(u.Scheme, "http")) {
		return strings.TrimSuffix(host, ":"+port)
	}
	return host
}

// Key is the identity of a URL inside one crawl: its string form without
// fragment or default port, with an empty path read as "/".
func Key(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Host = canonicalHost(u)
	c.Fragment = ""
	c.RawFragment = ""
	if c.Path == "" && c.Opaque == "" {
		c.Path = "/"
	}
	return c.String()
}

// Frontier owns the visited set and the pending queue of one crawl run.
// A URL is added to the visited set in the same critical section that
// enqueues it, so no URL is ever queued twice. Tasks are served FIFO, which
// makes the traversal breadth-first.
type Frontier struct {
	scope Scope

	mu       sync.Mutex
	cond     *sync.Cond
	visited  map[string]struct{}
	queue    []types.CrawlTask
	inflight int
	closed   bool
}

// NewFrontier creates an empty frontier bounded by scope.
func NewFrontier(scope Scope) *Frontier {
	f := &Frontier{
		scope:   scope,
		visited: make(map[string]struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Offer schedules a page at the given remaining depth. It returns false, with
// no side effect, when the URL was already scheduled, depth is exhausted, the
// URL is out of scope, or the frontier is closed.
func (f *Frontier) Offer(u *url.URL, depth int, referrer *url.URL) bool {
	if depth <= 0 || !f.scope.Contains(u) {
		return false
	}
	return f.push(types.CrawlTask{URL: u, Depth: depth, Kind: types.TaskPage, Referrer: referrer})
}

// OfferResource schedules a leaf sub-resource. Resources may live on any
// http(s) origin and share the visited set with pages.
func (f *Frontier) OfferResource(u *url.URL, referrer *url.URL) bool {
	if u == nil {
		return false
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return false
	}
	return f.push(types.CrawlTask{URL: u, Depth: 0, Kind: types.TaskResource, Referrer: referrer})
}

func (f *Frontier) push(task types.CrawlTask) bool {
	key := Key(task.URL)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if _, seen := f.visited[key]; seen {
		return false
	}
	f.visited[key] = struct{}{}
	task.EnqueuedAt = time.Now()
	f.queue = append(f.queue, task)
	f.cond.Signal()
	return true
}

// Take removes the next task without blocking. The caller owns the task and
// must call Done once it is finished.
func (f *Frontier) Take() (types.CrawlTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || len(f.queue) == 0 {
		return types.CrawlTask{}, false
	}
	return f.popLocked(), true
}

// Next blocks until a task is available. It returns false once ctx is done,
// the frontier is closed, or the crawl is drained: nothing queued and nothing
// in flight that could still offer more work.
func (f *Frontier) Next(ctx context.Context) (types.CrawlTask, bool) {
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed || ctx.Err() != nil {
			return types.CrawlTask{}, false
		}
		if len(f.queue) > 0 {
			return f.popLocked(), true
		}
		if f.inflight == 0 {
			f.cond.Broadcast()
			return types.CrawlTask{}, false
		}
		f.cond.Wait()
	}
}

func (f *Frontier) popLocked() types.CrawlTask {
	task := f.queue[0]
	f.queue[0] = types.CrawlTask{}
	f.queue = f.queue[1:]
	f.inflight++
	return task
}

// Done marks a task obtained from Take or Next as finished.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight > 0 {
		f.inflight--
	}
	if f.inflight == 0 && len(f.queue) == 0 {
		f.cond.Broadcast()
	}
}

// Close stops further dequeues and offers. Pending tasks are abandoned.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

// Seen reports whether u has been scheduled during this run.
func (f *Frontier) Seen(u *url.URL) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[Key(u)]
	return ok
}

// Len returns the number of queued tasks.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Visited returns how many URLs were accepted over the run.
func (f *Frontier) Visited() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// InFlight returns the number of tasks taken but not yet done.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight
}
