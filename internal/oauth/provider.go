package oauth

import (
	"net/url"
	"strings"

	"github.com/benaskins/streamctl/internal/config"
	"github.com/benaskins/streamctl/internal/platform"
)

// Provider is the static implicit-grant configuration for one platform.
type Provider struct {
	Platform    string
	ClientID    string
	RedirectURI string
	Scopes      []string
	AuthURL     string
	// Extra parameters appended to the authorization URL.
	Extra url.Values
}

// NewProvider builds the provider for platform from its config section.
func NewProvider(name string, c config.Provider) Provider {
	p := Provider{
		Platform:    name,
		ClientID:    c.ClientID,
		RedirectURI: c.RedirectURI,
		Scopes:      c.Scopes,
		AuthURL:     c.AuthURL,
		Extra:       url.Values{},
	}
	switch name {
	case platform.YouTube:
		p.Extra.Set("include_granted_scopes", "true")
	case platform.Twitch:
		p.Extra.Set("force_verify", "true")
	}
	return p
}

// AuthorizationURL returns the URL that starts an implicit grant. state is
// echoed back by the provider on the redirect.
func (p Provider) AuthorizationURL(state string) string {
	q := url.Values{}
	for k, v := range p.Extra {
		q[k] = v
	}
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.RedirectURI)
	q.Set("response_type", "token")
	q.Set("scope", strings.Join(p.Scopes, " "))
	q.Set("state", state)

	sep := "?"
	if strings.Contains(p.AuthURL, "?") {
		sep = "&"
	}
	return p.AuthURL + sep + q.Encode()
}

// Match reports whether rawURL targets the redirect URI (scheme, host and
// path) and, if so, returns the query and fragment parameters merged.
// Fragment values win over query values of the same name.
func (p Provider) Match(rawURL string) (url.Values, bool) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	want, err := url.Parse(p.RedirectURI)
	if err != nil {
		return nil, false
	}
	if !strings.EqualFold(target.Scheme, want.Scheme) || !strings.EqualFold(target.Host, want.Host) ||
		strings.TrimSuffix(target.Path, "/") != strings.TrimSuffix(want.Path, "/") {
		return nil, false
	}

	params := target.Query()
	if target.Fragment != "" {
		frag, err := url.ParseQuery(target.Fragment)
		if err == nil {
			for k, v := range frag {
				params[k] = v
			}
		}
	}
	return params, true
}
