package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"groupe-e-consumption/internal/consumption"
)

// Session is one refresh cycle's view of the API. It owns its transport, so
// Release drops every connection it opened.
type Session struct {
	opts      Options
	logger    zerolog.Logger
	transport *http.Transport
	client    *http.Client
	release   sync.Once
}

// Release closes the session's idle connections. Safe to call more than once.
func (s *Session) Release() {
	s.release.Do(func() {
		s.transport.CloseIdleConnections()
	})
}

func (s *Session) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, s.client)
}

// Authenticate exchanges username and password for an access token using the
// OAuth2 password grant. It never retries.
func (s *Session) Authenticate(ctx context.Context, username, password string) (string, error) {
	conf := &oauth2.Config{
		ClientID:     s.opts.ClientID,
		ClientSecret: s.opts.ClientSecret,
		Scopes:       s.opts.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.opts.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	token, err := conf.PasswordCredentialsToken(s.clientContext(ctx), username, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			err = newStatusError("token", retrieveErr.Response.StatusCode, retrieveErr.Body)
		}
		return "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthenticationFailed)
	}

	s.logger.Info().Msg("authenticated with groupe e api")
	return token.AccessToken, nil
}

// ResolveIdentity looks up the premise and partner IDs of the logged-in account.
func (s *Session) ResolveIdentity(ctx context.Context, token string) (Identity, error) {
	premise, err := s.premiseID(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: premise: %w", ErrIdentityResolutionFailed, err)
	}
	partner, err := s.partnerID(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: partner: %w", ErrIdentityResolutionFailed, err)
	}

	s.logger.Debug().Str("premise_id", premise).Str("partner_id", partner).Msg("resolved account identity")
	return Identity{PremiseID: premise, PartnerID: partner}, nil
}

type premiseResponse struct {
	D struct {
		Results []struct {
			PremiseID json.RawMessage `json:"premiseID"`
		} `json:"results"`
	} `json:"d"`
}

func (s *Session) premiseID(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.PremiseURL, nil)
	if err != nil {
		return "", fmt.Errorf("create premise request: %w", err)
	}
	setBearer(req, token)

	body, err := s.do(req, "premise")
	if err != nil {
		return "", err
	}

	var res premiseResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode premise response: %w", err)
	}
	if len(res.D.Results) == 0 {
		return "", errors.New("no premise valid for history")
	}
	id := rawID(res.D.Results[0].PremiseID)
	if id == "" {
		return "", errors.New("premise without premiseID")
	}
	return id, nil
}

type partnerClaims struct {
	BusinessPartner []json.RawMessage `json:"business_partner"`
}

func (s *Session) partnerID(ctx context.Context, token string) (string, error) {
	ctx = s.clientContext(ctx)
	provider := (&oidc.ProviderConfig{UserInfoURL: s.opts.UserInfoURL}).NewProvider(ctx)

	info, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	if err != nil {
		if isTransport(ctx, err) {
			return "", fmt.Errorf("%w: userinfo: %w", ErrTransport, err)
		}
		return "", fmt.Errorf("userinfo: %w", err)
	}

	var claims partnerClaims
	if err := info.Claims(&claims); err != nil {
		return "", fmt.Errorf("decode userinfo claims: %w", err)
	}
	if len(claims.BusinessPartner) == 0 {
		return "", errors.New("userinfo has no business_partner")
	}
	id := rawID(claims.BusinessPartner[0])
	if id == "" {
		return "", errors.New("empty business_partner")
	}
	return id, nil
}

type measurementRequest struct {
	Premise    string `json:"premise"`
	Partner    string `json:"partner"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	Resolution string `json:"resolution"`
}

// FetchMeasurements requests the raw measurement payload for window.
func (s *Session) FetchMeasurements(ctx context.Context, token string, id Identity, window consumption.Window) (json.RawMessage, error) {
	payload, err := json.Marshal(measurementRequest{
		Premise:    id.PremiseID,
		Partner:    id.PartnerID,
		Start:      window.StartMillis(),
		End:        window.EndMillis(),
		Resolution: window.Resolution.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal measurement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.MeasurementURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create measurement request: %w", err)
	}
	setBearer(req, token)
	req.Header.Set("Content-Type", "application/json")

	s.logger.Debug().
		Str("resolution", window.Resolution.String()).
		Int64("start", window.StartMillis()).
		Int64("end", window.EndMillis()).
		Msg("requesting measurements")

	body, err := s.do(req, "measurement")
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return json.RawMessage(body), nil
}

// do sends req and returns the body of a 200 response.
func (s *Session) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s body: %w", ErrTransport, endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(endpoint, resp.StatusCode, body)
	}
	return body, nil
}

func setBearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
}

// rawID accepts identifiers sent either as JSON strings or bare numbers.
func rawID(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	v := strings.TrimSpace(string(raw))
	if v == "null" {
		return ""
	}
	return v
}

// isTransport distinguishes connection failures from bad responses for
// errors surfaced by the oidc package, which does not wrap them.
func isTransport(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}

var _ MeasurementSession = (*Session)(nil)
