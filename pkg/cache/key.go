package cache

import (
	"net/url"
	"strings"
)

// Key identifies a detail page in the cache.
type Key string

// KeyForPath generates a deterministic key for a listing path. Absolute URLs,
// query strings, fragments and trailing slashes are normalized away so the
// same listing always maps to the same key.
//
// Example:
//
//	https://bina.az/items/123?ref=vip → bina:items/123
func KeyForPath(path string) Key {
	p := strings.TrimSpace(path)
	if u, err := url.Parse(p); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.Trim(p, "/")
	return Key("bina:" + strings.ToLower(p))
}
