// Package cookiejar is the external collaborator spec §1 scopes cookie
// persistence out of the core into: it merges inbound Set-Cookie headers
// into a per-domain store and attaches matching cookies to outbound
// requests.
package cookiejar

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nonblock/reacthttp/internal/model"
)

// Jar is a minimal cookie store keyed by exact request host: Apply sends
// the cookies stored under the request's own host only, without
// parent-domain or cookie-path matching. It is deliberately
// simpler than net/http/cookiejar's PSL-aware matching (spec's non-goals
// don't mention cookies explicitly, but nothing in scope calls for public
// suffix list handling).
type Jar struct {
	mu    sync.Mutex
	byHost map[string][]*model.Cookie
}

func New() *Jar {
	return &Jar{byHost: make(map[string][]*model.Cookie)}
}

// Apply attaches cookies from the jar and from req.Options.Cookies onto
// the outbound request's headers.
func (j *Jar) Apply(req *model.Request) {
	host := hostOf(req.URI)
	j.mu.Lock()
	stored := j.byHost[host]
	j.mu.Unlock()

	now := time.Now()
	var pairs []string
	for _, c := range stored {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	if req.Options != nil {
		for _, c := range req.Options.Cookies {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
	}
	if len(pairs) == 0 {
		return
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Cookie", strings.Join(pairs, "; "))
}

// Store parses Set-Cookie headers off resp and merges them into the jar.
func (j *Jar) Store(req *model.Request, resp *model.Response) {
	if resp == nil || len(resp.Header["Set-Cookie"]) == 0 {
		return
	}
	host := hostOf(req.URI)
	dummy := &http.Response{Header: resp.Header}
	cookies := dummy.Cookies()
	if len(cookies) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		j.byHost[host] = append(j.byHost[host], &model.Cookie{
			Name: c.Name, Value: c.Value, Domain: host, Path: c.Path, Expires: c.Expires,
		})
	}
}

func hostOf(uri string) string {
	rest := uri
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
		rest = rest[:idx]
	}
	if idx := strings.LastIndex(rest, "@"); idx >= 0 {
		rest = rest[idx+1:]
	}
	if idx := strings.LastIndex(rest, ":"); idx >= 0 && !strings.Contains(rest[idx:], "]") {
		rest = rest[:idx]
	}
	return strings.ToLower(rest)
}
