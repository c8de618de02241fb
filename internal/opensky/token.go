package opensky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// expirySkew treats a credential within this window of its expiry as already
// expired, so a token handed to a caller is never about to lapse mid-request.
const expirySkew = 60 * time.Second

// TokenSource caches one bearer credential for the flight feed and refreshes
// it on demand. The mutex is held across the exchange so concurrent callers
// never trigger parallel refreshes; they wait for and share the result.
type TokenSource struct {
	authURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenSource(authURL, clientID, clientSecret string, client *http.Client) *TokenSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenSource{
		authURL:      authURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
		now:          time.Now,
	}
}

// Token returns the cached credential when it is still comfortably valid,
// otherwise performs one client-credentials exchange. The common path does
// no I/O.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && t.now().Before(t.expiresAt.Add(-expirySkew)) {
		return t.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{Err: fmt.Errorf("identity endpoint returned %s", resp.Status)}
	}

	var body struct {
		AccessToken string  `json:"access_token"`
		ExpiresIn   float64 `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &AuthError{Err: err}
	}
	if body.AccessToken == "" {
		return "", &AuthError{Err: fmt.Errorf("identity endpoint returned no access_token")}
	}

	t.token = body.AccessToken
	t.expiresAt = t.now().Add(time.Duration(body.ExpiresIn * float64(time.Second)))
	return t.token, nil
}
