package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"github.com/kennygrant/sanitize"
)

const (
	// IndexName is used when a URL path has no usable base name.
	IndexName = "index.html"
	// ExternalDir holds sub-resources fetched from other origins.
	ExternalDir = "_external"
)

// RootDir derives the per-crawl storage directory from the seed's scheme and host,
// e.g. https://example.com -> https_example_com.
func RootDir(seed *url.URL) string {
	if seed == nil {
		return ""
	}
	return sanitizeHost(strings.ToLower(seed.Scheme)) + "_" + sanitizeHost(strings.ToLower(seed.Host))
}

// Path maps a URL onto a relative, filesystem-safe file path. It is a pure
// function of the URL: the fragment is ignored and a non-empty query adds a
// short digest to the base name so query variants do not share a file.
func Path(u *url.URL) string {
	if u == nil {
		return IndexName
	}
	raw := u.Path
	if raw == "" && u.Opaque == "" {
		raw = "/"
	}

	var dirs []string
	for _, seg := range strings.Split(raw, "/") {
		seg = sanitizeSegment(seg)
		if seg == "" {
			continue
		}
		dirs = append(dirs, seg)
	}

	name := IndexName
	if !strings.HasSuffix(raw, "/") && len(dirs) > 0 {
		name = dirs[len(dirs)-1]
		dirs = dirs[:len(dirs)-1]
	}
	if path.Ext(name) == "" {
		name += ".html"
	}
	if u.RawQuery != "" {
		ext := path.Ext(name)
		name = strings.TrimSuffix(name, ext) + "_" + queryDigest(u.RawQuery) + ext
	}
	return path.Join(append(dirs, name)...)
}

// Namer places resources relative to a crawl root, routing off-origin URLs
// into a per-host subtree.
type Namer struct {
	scheme string
	host   string
}

// NewNamer builds a Namer scoped to the seed's origin.
func NewNamer(seed *url.URL) Namer {
	if seed == nil {
		return Namer{}
	}
	return Namer{scheme: strings.ToLower(seed.Scheme), host: strings.ToLower(seed.Host)}
}

// Path returns the relative path for u under the crawl root.
func (n Namer) Path(u *url.URL) string {
	rel := Path(u)
	if u == nil {
		return rel
	}
	if strings.EqualFold(u.Scheme, n.scheme) && strings.EqualFold(u.Host, n.host) {
		return rel
	}
	return path.Join(ExternalDir, sanitizeHost(strings.ToLower(u.Host)), rel)
}

func queryDigest(q string) string {
	sum := sha256.Sum256([]byte(q))
	return hex.EncodeToString(sum[:4])
}

var hostSeparators = strings.NewReplacer(".", "-", ":", "-", "[", "-", "]", "-")

// sanitizeHost flattens a host (and port) into a single name; every
// separator becomes an underscore.
func sanitizeHost(host string) string {
	return strings.ReplaceAll(sanitize.BaseName(hostSeparators.Replace(host)), "-", "_")
}

// sanitizeSegment cleans one path segment, keeping its extension.
func sanitizeSegment(seg string) string {
	if strings.Trim(seg, ".") == "" {
		return ""
	}
	ext := path.Ext(seg)
	stem := cleanName(seg[:len(seg)-len(ext)])
	if ext != "" {
		ext = cleanName(ext[1:])
	}
	switch {
	case ext == "":
		return stem
	case stem == "":
		return "_." + ext
	default:
		return stem + "." + ext
	}
}

func cleanName(s string) string {
	return strings.ReplaceAll(sanitize.BaseName(s), "-", "_")
}
