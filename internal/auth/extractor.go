package auth

import (
	"net/http"
	"strings"

	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/util"
)

// Credential source names, reported with each extracted credential
const (
	SourceCookie  = "cookie"
	SourceHeader  = "header"
	SourcePayload = "payload"
)

// Handshake is the connection metadata a credential can be pulled from:
// the upgrade request headers (including Cookie and Authorization) and the
// custom handshake-auth payload.
type Handshake struct {
	Header http.Header
	Auth   map[string]string
}

// HandshakeFromRequest builds a Handshake from an upgrade or API request.
// Browsers cannot set headers on a WebSocket upgrade, so the handshake-auth
// payload travels as query parameters.
func HandshakeFromRequest(r *http.Request) Handshake {
	h := Handshake{Header: r.Header, Auth: map[string]string{}}
	query := r.URL.Query()
	for _, field := range []string{constants.HandshakeTokenField, constants.HandshakeUserField} {
		if v := query.Get(field); v != "" {
			h.Auth[field] = v
		}
	}
	return h
}

// ClaimedUserID returns the userId the client put in the handshake payload.
// It is informational only: identity always comes from the credential.
func (h Handshake) ClaimedUserID() string {
	return h.Auth[constants.HandshakeUserField]
}

// Source is one place a credential may be found. Lookup returns "" when the
// source has nothing.
type Source struct {
	Name   string
	Lookup func(Handshake) string
}

// CookieSource reads the named cookie from the Cookie header
func CookieSource(name string) Source {
	return Source{
		Name: SourceCookie,
		Lookup: func(h Handshake) string {
			req := http.Request{Header: h.Header}
			c, err := req.Cookie(name)
			if err != nil {
				return ""
			}
			return c.Value
		},
	}
}

// BearerSource reads the Authorization header with the Bearer prefix stripped
func BearerSource() Source {
	return Source{
		Name: SourceHeader,
		Lookup: func(h Handshake) string {
			token, err := util.ExtractBearerToken(h.Header.Get(constants.HeaderAuthorization))
			if err != nil {
				return ""
			}
			return token
		},
	}
}

// PayloadSource reads a field of the handshake-auth payload
func PayloadSource(field string) Source {
	return Source{
		Name: SourcePayload,
		Lookup: func(h Handshake) string {
			return h.Auth[field]
		},
	}
}

// DefaultSources is the credential precedence: cookie, then header, then payload.
var DefaultSources = []Source{
	CookieSource(constants.DefaultCookieName),
	BearerSource(),
	PayloadSource(constants.HandshakeTokenField),
}

// Extractor tries its sources in order; the first non-empty credential wins
type Extractor struct {
	sources []Source
}

// NewExtractor creates an extractor over the given sources, or DefaultSources if none
func NewExtractor(sources ...Source) *Extractor {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	return &Extractor{sources: sources}
}

// NewCookieExtractor creates the default chain with a custom cookie name
func NewCookieExtractor(cookieName string) *Extractor {
	return NewExtractor(
		CookieSource(cookieName),
		BearerSource(),
		PayloadSource(constants.HandshakeTokenField),
	)
}

// Extract returns the first credential found. ok is false when no source
// yields one, which is a normal outcome and not an error.
func (e *Extractor) Extract(h Handshake) (string, bool) {
	token, _, ok := e.ExtractWithSource(h)
	return token, ok
}

// ExtractWithSource is Extract that also reports which source matched
func (e *Extractor) ExtractWithSource(h Handshake) (token, source string, ok bool) {
	if h.Header == nil {
		h.Header = http.Header{}
	}
	for _, s := range e.sources {
		if v := strings.TrimSpace(s.Lookup(h)); v != "" {
			return v, s.Name, true
		}
	}
	return "", "", false
}
