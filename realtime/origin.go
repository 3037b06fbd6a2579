package realtime

import (
	"net/http"
	"net/url"
	"strings"
)

func normalizeOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// originChecker allows listed browser origins. Requests without an Origin
// header come from non-browser clients and are let through.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if normalized := normalizeOrigin(origin); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		normalized := normalizeOrigin(origin)
		if normalized == "" {
			return false
		}
		_, ok := set[normalized]
		return ok
	}
}
