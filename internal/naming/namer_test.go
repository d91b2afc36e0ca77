package naming

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRootDir(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https_example_com", RootDir(mustParse(t, "https://example.com/a/b")))
	assert.Equal(t, "http_127_0_0_1_8080", RootDir(mustParse(t, "http://127.0.0.1:8080/")))
	assert.Equal(t, "https_sub_example_org", RootDir(mustParse(t, "HTTPS://Sub.Example.org")))
	assert.Empty(t, RootDir(nil))
}

func TestPath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://example.com":                "index.html",
		"https://example.com/":               "index.html",
		"https://example.com/about":          "about.html",
		"https://example.com/about/":         "about/index.html",
		"https://example.com/css/site.css":   "css/site.css",
		"https://example.com/img/logo.png#v": "img/logo.png",
		"https://example.com/my%20file.txt":  "my_file.txt",
		"https://example.com/my-page":        "my_page.html",
		"https://example.com/a/../b/c.js":    "a/b/c.js",
		"https://example.com/sp%20ace/x.txt": "sp_ace/x.txt",
		"https://example.com/post#comments":  "post.html",
		"https://example.com/...":            "index.html",
	}
	for raw, want := range cases {
		assert.Equal(t, want, Path(mustParse(t, raw)), raw)
	}
}

func TestPathSeparatesQueryVariants(t *testing.T) {
	t.Parallel()

	first := Path(mustParse(t, "https://example.com/p?id=1"))
	second := Path(mustParse(t, "https://example.com/p?id=2"))
	assert.Regexp(t, `^p_[0-9a-f]{8}\.html$`, first)
	assert.Regexp(t, `^p_[0-9a-f]{8}\.html$`, second)
	assert.NotEqual(t, first, second)
	assert.Equal(t, first, Path(mustParse(t, "https://example.com/p?id=1#top")))

	asset := Path(mustParse(t, "https://example.com/img/logo.png?v=3"))
	assert.Regexp(t, `^img/logo_[0-9a-f]{8}\.png$`, asset)
}

func TestPathIsStable(t *testing.T) {
	t.Parallel()

	u := mustParse(t, "https://example.com/docs/guide")
	first := Path(u)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Path(mustParse(t, u.String())))
	}
}

func TestNamerRoutesExternalResources(t *testing.T) {
	t.Parallel()

	n := NewNamer(mustParse(t, "https://example.com/"))
	assert.Equal(t, "img/a.png", n.Path(mustParse(t, "https://example.com/img/a.png")))
	assert.Equal(t, "_external/cdn_example_net/lib/x.js", n.Path(mustParse(t, "https://cdn.example.net/lib/x.js")))
	assert.Equal(t, "_external/example_com/index.html", n.Path(mustParse(t, "http://example.com/")))
}
