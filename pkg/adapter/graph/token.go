package graph

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/wilhg/toolgate/pkg/errmodel"
)

// TokenState is the sub-state of the access token, independent of the
// adapter connection state.
type TokenState int

const (
	NoToken TokenState = iota
	Valid
	Expired
	Refreshing
)

func (s TokenState) String() string {
	switch s {
	case NoToken:
		return "no_token"
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

const (
	expirySkew       = 60 * time.Second
	defaultTokenLife = time.Hour
)

type accessToken struct {
	value     string
	expiresAt time.Time
}

// tokenSource owns the adapter's access token. Concurrent callers that find
// no usable token share a single acquisition.
type tokenSource struct {
	cfg     clientcredentials.Config
	client  *http.Client
	timeout time.Duration
	now     func() time.Time

	flight singleflight.Group

	mu         sync.Mutex
	tok        *accessToken
	refreshing bool
}

func (s *tokenSource) State() TokenState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.refreshing:
		return Refreshing
	case s.tok == nil:
		return NoToken
	case !s.now().Before(s.tok.expiresAt):
		return Expired
	default:
		return Valid
	}
}

func (s *tokenSource) ExpiresAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return time.Time{}, false
	}
	return s.tok.expiresAt, true
}

func (s *tokenSource) current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil || !s.now().Before(s.tok.expiresAt) {
		return "", false
	}
	return s.tok.value, true
}

// Token returns a usable access token, acquiring one when none is held or
// the held one has expired.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	if v, ok := s.current(); ok {
		return v, nil
	}
	ch := s.flight.DoChan("token", func() (any, error) {
		if v, ok := s.current(); ok {
			return v, nil
		}
		s.setRefreshing(true)
		defer s.setRefreshing(false)
		// Detached so one caller giving up does not fail the others waiting on this flight.
		return s.acquire(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", errmodel.Transport(errmodel.ExecutionFailed, "token acquisition abandoned", map[string]any{"token_url": s.cfg.TokenURL}, ctx.Err())
	}
}

func (s *tokenSource) setRefreshing(v bool) {
	s.mu.Lock()
	s.refreshing = v
	s.mu.Unlock()
}

func (s *tokenSource) acquire(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	issued := s.now()
	tok, err := s.cfg.Token(ctx)
	if err != nil {
		return "", classifyTokenError(s.cfg.TokenURL, err)
	}
	expiresAt := issued.Add(defaultTokenLife - expirySkew)
	if !tok.Expiry.IsZero() {
		expiresAt = issued.Add(tok.Expiry.Sub(time.Now()) - expirySkew)
	}
	s.mu.Lock()
	s.tok = &accessToken{value: tok.AccessToken, expiresAt: expiresAt}
	s.mu.Unlock()
	return tok.AccessToken, nil
}

func classifyTokenError(tokenURL string, err error) error {
	ctx := map[string]any{"token_url": tokenURL}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			ctx["status"] = re.Response.StatusCode
		}
		ctx["body"] = string(re.Body)
		return errmodel.AuthenticationFailed("token request rejected", ctx, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return errmodel.Transport(errmodel.ConnectionFailed, "token endpoint unreachable", ctx, err)
	}
	return errmodel.Transport(errmodel.AuthenticationFailed, "token acquisition failed", ctx, err)
}

// Invalidate drops the held token if it is still the one given. A token
// refreshed by another caller in the meantime is kept.
func (s *tokenSource) Invalidate(value string) {
	s.mu.Lock()
	if s.tok != nil && s.tok.value == value {
		s.tok = nil
	}
	s.mu.Unlock()
}

func (s *tokenSource) Clear() {
	s.mu.Lock()
	s.tok = nil
	s.mu.Unlock()
}
