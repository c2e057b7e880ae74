package fetcher

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultTokenURL       = "https://login.my.groupe-e.ch/realms/my-groupe-e/protocol/openid-connect/token"
	defaultUserInfoURL    = "https://login.my.groupe-e.ch/realms/my-groupe-e/protocol/openid-connect/userinfo"
	defaultPremiseURL     = "https://my.groupe-e.ch/api/private/PremiseSet?$filter=IsValidForHistory%20eq%20true"
	defaultMeasurementURL = "https://my.groupe-e.ch/api/smartmeter-data"
	defaultClientID       = "portal"
	defaultTimeout        = 10 * time.Second
	defaultUserAgent      = "groupe-e-consumption/1.0"
)

// DefaultScopes are requested with every password grant.
var DefaultScopes = []string{"openid", "email", "impersonate", "portal"}

// Options parameterise the Groupe E API client.
type Options struct {
	TokenURL          string
	UserInfoURL       string
	PremiseURL        string
	MeasurementURL    string
	ClientID          string
	ClientSecret      string
	Scopes            []string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
}

// Client opens short-lived API sessions. It keeps no state between cycles
// apart from the shared request limiter.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	limiter *rate.Limiter
}

// New constructs a Client, filling unset options with the public endpoints.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.TokenURL == "" {
		opts.TokenURL = defaultTokenURL
	}
	if opts.UserInfoURL == "" {
		opts.UserInfoURL = defaultUserInfoURL
	}
	if opts.PremiseURL == "" {
		opts.PremiseURL = defaultPremiseURL
	}
	if opts.MeasurementURL == "" {
		opts.MeasurementURL = defaultMeasurementURL
	}
	if opts.ClientID == "" {
		opts.ClientID = defaultClientID
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = DefaultScopes
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "groupe_e_client").Logger(),
		limiter: limiter,
	}
}

// Open starts a session backed by its own connection pool.
func (c *Client) Open() MeasurementSession {
	return c.openSession()
}

func (c *Client) openSession() *Session {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &Session{
		opts:      c.opts,
		logger:    c.logger,
		transport: transport,
		client: &http.Client{
			Timeout: c.opts.Timeout,
			Transport: &pacedTransport{
				base:      transport,
				limiter:   c.limiter,
				userAgent: c.opts.UserAgent,
			},
		},
	}
}

// pacedTransport applies the shared limiter and user agent to every request,
// including the ones issued by the oauth2 and oidc packages.
type pacedTransport struct {
	base      http.RoundTripper
	limiter   *rate.Limiter
	userAgent string
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

var _ SessionOpener = (*Client)(nil)
