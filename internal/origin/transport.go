package origin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// Auth types accepted by AuthConfig.Type.
const (
	AuthNone              = ""
	AuthBearer            = "bearer"
	AuthClientCredentials = "client_credentials"
)

// AuthConfig describes the credentials attached to outbound origin requests.
type AuthConfig struct {
	Type         string
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// BearerTransport is an http.RoundTripper that sets a static bearer token
// on every outbound request.
type BearerTransport struct {
	Token string
	Base  http.RoundTripper
}

// RoundTrip clones the request and sets the Authorization header.
func (t *BearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set("Authorization", "Bearer "+t.Token)
	return t.base().RoundTrip(r2)
}

func (t *BearerTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// NewClient builds the origin HTTP client. ctx bounds the lifetime of the
// OAuth2 token source and must outlive the client.
func NewClient(ctx context.Context, base http.RoundTripper, auth AuthConfig, timeout time.Duration) (*http.Client, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	switch auth.Type {
	case AuthNone:
	case AuthBearer:
		if auth.Token == "" {
			return nil, fmt.Errorf("origin: bearer auth requires a token")
		}
		rt = &BearerTransport{Token: auth.Token, Base: base}
	case AuthClientCredentials:
		if auth.ClientID == "" || auth.TokenURL == "" {
			return nil, fmt.Errorf("origin: client_credentials auth requires client_id and token_url")
		}
		cc := &clientcredentials.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			TokenURL:     auth.TokenURL,
			Scopes:       auth.Scopes,
		}
		// Token fetches share the tuned transport.
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base, Timeout: timeout})
		rt = &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: base}
	default:
		return nil, fmt.Errorf("origin: unknown auth type %q", auth.Type)
	}
	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}
