package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Links holds what a page points at: navigable anchors and embedded resources.
type Links struct {
	Pages     []*url.URL
	Resources []*url.URL
}

// resourceRels are the link rel values whose targets are saved as resources.
var resourceRels = map[string]struct{}{
	"stylesheet":       {},
	"icon":             {},
	"shortcut":         {},
	"apple-touch-icon": {},
	"preload":          {},
	"modulepreload":    {},
	"manifest":         {},
}

// resourceAttrs lists element/attribute pairs that reference embedded content.
var resourceAttrs = []struct {
	selector string
	attr     string
}{
	{"img[src]", "src"},
	{"script[src]", "src"},
	{"source[src]", "src"},
	{"video[poster]", "poster"},
	{"audio[src]", "src"},
	{"video[src]", "src"},
	{"embed[src]", "src"},
}

// ExtractLinks parses body as HTML and resolves every anchor and sub-resource
// against base, honouring a <base href> when present. Fragments are dropped,
// only http(s) targets are kept, and each list is de-duplicated and capped at
// limit entries when limit is positive.
func ExtractLinks(base *url.URL, body []byte, limit int) (Links, error) {
	if base == nil {
		return Links{}, fmt.Errorf("extract links: nil base url")
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Links{}, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil && isHTTP(b) {
			base = b
		}
	}

	pages := newCollector(base, limit)
	doc.Find("a[href], area[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		return pages.add(href)
	})

	resources := newCollector(base, limit)
	for _, ra := range resourceAttrs {
		if resources.full() {
			break
		}
		doc.Find(ra.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr(ra.attr)
			return resources.add(v)
		})
	}
	doc.Find("img[srcset], source[srcset]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("srcset")
		for _, candidate := range strings.Split(v, ",") {
			fields := strings.Fields(candidate)
			if len(fields) == 0 {
				continue
			}
			if !resources.add(fields[0]) {
				return false
			}
		}
		return true
	})
	doc.Find("link[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		if !hasResourceRel(rel) {
			return true
		}
		href, _ := s.Attr("href")
		return resources.add(href)
	})

	return Links{Pages: pages.urls, Resources: resources.urls}, nil
}

type collector struct {
	base  *url.URL
	limit int
	seen  map[string]struct{}
	urls  []*url.URL
}

func newCollector(base *url.URL, limit int) *collector {
	return &collector{base: base, limit: limit, seen: make(map[string]struct{})}
}

func (c *collector) full() bool {
	return c.limit > 0 && len(c.urls) >= c.limit
}

// add resolves raw and records it. It returns false once the cap is reached.
func (c *collector) add(raw string) bool {
	if c.full() {
		return false
	}
	u, ok := resolveLink(c.base, raw)
	if !ok {
		return true
	}
	key := Key(u)
	if _, dup := c.seen[key]; dup {
		return true
	}
	c.seen[key] = struct{}{}
	c.urls = append(c.urls, u)
	return !c.full()
}

func resolveLink(base *url.URL, raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return nil, false
	}
	lower := strings.ToLower(raw)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return nil, false
		}
	}
	u, err := base.Parse(raw)
	if err != nil || !isHTTP(u) || u.Host == "" {
		return nil, false
	}
	u.Host = canonicalHost(u)
	u.Fragment = ""
	u.RawFragment = ""
	return u, true
}

func hasResourceRel(rel string) bool {
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if _, ok := resourceRels[token]; ok {
			return true
		}
	}
	return false
}

func isHTTP(u *url.URL) bool {
	if u == nil {
		return false
	}
	s := strings.ToLower(u.Scheme)
	return s == "http" || s == "https"
}
