package httpclient

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

const (
	defaultCookieDomain = "0.0.0.0"
	defaultCookiePath   = "/"
)

// CookieStore is the storage beneath CookieJar. Entries are only ever added
// or overwritten, and enumeration does not hide expired ones.
//
// tls_client.CookieJar satisfies CookieStore. Build it with
// tls_client.WithAllowEmptyCookies, or empty values are silently dropped
// and deletions never reach the store.
type CookieStore interface {
	SetCookies(u *url.URL, cookies []*http.Cookie)
	Cookies(u *url.URL) []*http.Cookie
	GetAllCookies() map[string][]*http.Cookie
}

// CookieJar manages a client's cookies by name. Because the underlying store
// keeps expired records, deletion is tracked in a tombstone set: a
// tombstoned name is never returned, and setting that name again revives it.
//
// Example:
//
//	jar := client.Cookies()
//	_ = jar.Set("session", "abc123")
//	v, ok := jar.Get("session") // "abc123", true
//	_ = jar.Delete("session")
//	_, ok = jar.Get("session") // false
type CookieJar struct {
	store CookieStore

	mu         sync.Mutex
	tombstones map[string]struct{}
}

// NewCookieJar wraps store with tombstone tracking.
func NewCookieJar(store CookieStore) *CookieJar {
	return &CookieJar{
		store:      store,
		tombstones: make(map[string]struct{}),
	}
}

// CookieOption scopes a cookie write.
type CookieOption func(*cookieScope)

type cookieScope struct {
	domain string
	path   string
}

// CookieDomain scopes the cookie to domain. A leading dot makes it a domain
// cookie; without one the cookie is host-only. Default: "0.0.0.0".
func CookieDomain(domain string) CookieOption {
	return func(s *cookieScope) {
		if domain != "" {
			s.domain = domain
		}
	}
}

// CookiePath scopes the cookie to path. Default: "/".
func CookiePath(path string) CookieOption {
	return func(s *cookieScope) {
		if path != "" {
			s.path = path
		}
	}
}

// GetAll returns every visible cookie as name/value pairs, ordered by host
// and then by the store's order within a host. A name stored for several
// hosts appears once with the last value seen.
func (j *CookieJar) GetAll() Pairs {
	all := j.store.GetAllCookies()

	hosts := make([]string, 0, len(all))
	for host := range all {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	j.mu.Lock()
	defer j.mu.Unlock()

	var out Pairs
	for _, host := range hosts {
		for _, c := range all[host] {
			if c == nil {
				continue
			}
			if _, dead := j.tombstones[c.Name]; dead {
				continue
			}
			out.Set(c.Name, c.Value)
		}
	}
	return out
}

// Get returns the value of a visible cookie. A name stored for several
// hosts resolves the way GetAll does.
func (j *CookieJar) Get(name string) (string, bool) {
	return j.GetAll().Get(name)
}

// Set stores a cookie and makes name visible again if it was deleted.
func (j *CookieJar) Set(name, value string, opts ...CookieOption) error {
	return j.Update(Pairs{{Key: name, Value: value}}, opts...)
}

// Update stores every pair under one scope.
func (j *CookieJar) Update(cookies Pairs, opts ...CookieOption) error {
	if len(cookies) == 0 {
		return nil
	}

	scope := cookieScope{domain: defaultCookieDomain, path: defaultCookiePath}
	for _, opt := range opts {
		opt(&scope)
	}

	u, err := scopeURL(scope)
	if err != nil {
		return err
	}

	batch := make([]*http.Cookie, 0, len(cookies))
	for _, kv := range cookies {
		c := &http.Cookie{Name: kv.Key, Value: kv.Value, Path: scope.path}
		if strings.HasPrefix(scope.domain, ".") {
			c.Domain = scope.domain
		}
		batch = append(batch, c)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.write(u, batch)
	for _, kv := range cookies {
		delete(j.tombstones, kv.Key)
	}
	return nil
}

// Delete expires name in the store and tombstones it.
func (j *CookieJar) Delete(name string) error {
	return j.expire([]string{name})
}

// Clear expires and tombstones every name the store currently knows.
func (j *CookieJar) Clear() error {
	return j.expire(j.storedNames())
}

// Len returns the number of visible cookie names.
func (j *CookieJar) Len() int {
	return len(j.GetAll())
}

// Names returns the visible cookie names in GetAll order.
func (j *CookieJar) Names() []string {
	return j.GetAll().Keys()
}

// Compact drops tombstones for names the store no longer holds at all and
// returns how many were dropped. Tombstones for names still present in the
// store, expired or not, are kept.
func (j *CookieJar) Compact() int {
	stored := make(map[string]struct{})
	for _, name := range j.storedNames() {
		stored[name] = struct{}{}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	dropped := 0
	for name := range j.tombstones {
		if _, ok := stored[name]; !ok {
			delete(j.tombstones, name)
			dropped++
		}
	}
	return dropped
}

// persist records cookies received from a server response. Cookies the
// server expires are tombstoned; live ones revive their name.
func (j *CookieJar) persist(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 || u == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.write(u, cookies)
	now := time.Now()
	for _, c := range cookies {
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			j.tombstones[c.Name] = struct{}{}
			continue
		}
		delete(j.tombstones, c.Name)
	}
}

func (j *CookieJar) expire(names []string) error {
	if len(names) == 0 {
		return nil
	}

	u, err := scopeURL(cookieScope{domain: defaultCookieDomain, path: defaultCookiePath})
	if err != nil {
		return err
	}

	batch := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		batch = append(batch, &http.Cookie{
			Name:    name,
			Value:   "",
			Path:    defaultCookiePath,
			Expires: time.Unix(0, 0).UTC(),
			MaxAge:  -1,
		})
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.write(u, batch)
	for _, name := range names {
		j.tombstones[name] = struct{}{}
	}
	return nil
}

// write hands cookies to the store one at a time. The engine's jar
// deduplicates a batch back to front, so a multi-cookie call would reverse it.
func (j *CookieJar) write(u *url.URL, cookies []*http.Cookie) {
	for _, c := range cookies {
		j.store.SetCookies(u, []*http.Cookie{c})
	}
}

// storedNames lists every name in the store, tombstoned or not.
func (j *CookieJar) storedNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, cookies := range j.store.GetAllCookies() {
		for _, c := range cookies {
			if c == nil {
				continue
			}
			if _, ok := seen[c.Name]; ok {
				continue
			}
			seen[c.Name] = struct{}{}
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

func scopeURL(s cookieScope) (*url.URL, error) {
	path := s.path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse("http://" + strings.TrimPrefix(s.domain, ".") + path)
	if err != nil {
		return nil, configError("cookie scope", fmt.Errorf("domain %q path %q: %w", s.domain, s.path, err))
	}
	return u, nil
}
