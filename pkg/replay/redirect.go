package replay

import (
	"net/http"
	"strings"
)

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// resolveLocation resolves a Location header against the URL of the hop that
// returned it. Only absolute http(s) URLs are taken as is.
func resolveLocation(current, location string) (string, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location, nil
	}
	u, err := parseTarget(current)
	if err != nil {
		return "", err
	}
	origin := u.Scheme + "://" + u.Host
	if strings.HasPrefix(location, "/") {
		return origin + location, nil
	}
	dir := u.EscapedPath()
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i]
	} else {
		dir = ""
	}
	return origin + dir + "/" + location, nil
}

// cookieJar accumulates cookies across one redirect chain. It is never
// shared between calls.
type cookieJar struct {
	pairs    []string
	observed []string
}

func (j *cookieJar) absorb(setCookies []string) {
	for _, v := range setCookies {
		j.observed = append(j.observed, v)
		pair, _, _ := strings.Cut(v, ";")
		pair = strings.TrimSpace(pair)
		if strings.Contains(pair, "=") {
			j.pairs = append(j.pairs, pair)
		}
	}
}

// header is the Cookie value for the next hop.
func (j *cookieJar) header() string {
	return strings.Join(j.pairs, "; ")
}

// setCookie is every Set-Cookie seen so far, comma-joined in hop order.
func (j *cookieJar) setCookie() string {
	return strings.Join(j.observed, ", ")
}

// cookieHeader combines the descriptor's own Cookie header with the jar.
func cookieHeader(own, jar string) string {
	switch {
	case own == "":
		return jar
	case jar == "":
		return own
	}
	return own + "; " + jar
}
