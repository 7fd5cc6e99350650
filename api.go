package authsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const clientInstanceHeader = "X-Client-Instance"

// apiClient issues the three auth wire calls directly against the backend.
// These calls never pass through the gateway's refresh-and-retry path: a
// 401 on login, refresh, or profile verification is a terminal answer, not
// a recoverable token expiry.
type apiClient struct {
	baseURL    string
	endpoints  EndpointConfig
	httpClient *http.Client
	userAgent  string
	instanceID string
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type loginResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	User         Profile `json:"user"`
}

type statusError struct {
	status int
	path   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.path, e.status)
}

// errStatus reports whether err is a backend response with one of the given
// status codes, as opposed to a transport failure.
func errStatus(err error, codes ...int) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	for _, code := range codes {
		if se.status == code {
			return true
		}
	}
	return false
}

func (a *apiClient) url(path string) string {
	return strings.TrimRight(a.baseURL, "/") + path
}

func (a *apiClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", a.userAgent)
	if a.instanceID != "" {
		req.Header.Set(clientInstanceHeader, a.instanceID)
	}
	return a.httpClient.Do(req)
}

// login exchanges credentials for a token pair and profile. The login
// endpoint takes a form-encoded body; everything else on the wire is JSON.
func (a *apiClient) login(ctx context.Context, username, password string) (tokenPair, Profile, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url(a.endpoints.Login), strings.NewReader(form.Encode()))
	if err != nil {
		return tokenPair{}, Profile{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.do(req)
	if err != nil {
		return tokenPair{}, Profile{}, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return tokenPair{}, Profile{}, &statusError{status: resp.StatusCode, path: a.endpoints.Login}
	}

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return tokenPair{}, Profile{}, fmt.Errorf("decode login response: %w", err)
	}
	pair := tokenPair{AccessToken: body.AccessToken, RefreshToken: body.RefreshToken}
	return pair, body.User, nil
}

// refresh exchanges the refresh token for a new pair. Called at most once
// per failure episode by the coordinator; no retry lives here.
func (a *apiClient) refresh(ctx context.Context, refreshToken string) (tokenPair, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return tokenPair{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url(a.endpoints.Refresh), bytes.NewReader(payload))
	if err != nil {
		return tokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.do(req)
	if err != nil {
		return tokenPair{}, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return tokenPair{}, &statusError{status: resp.StatusCode, path: a.endpoints.Refresh}
	}

	var pair tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return tokenPair{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if pair.AccessToken == "" {
		return tokenPair{}, fmt.Errorf("refresh response missing access token")
	}
	return pair, nil
}

// profile fetches the current user with the given access token.
func (a *apiClient) profile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url(a.endpoints.Profile), nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.do(req)
	if err != nil {
		return Profile{}, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return Profile{}, &statusError{status: resp.StatusCode, path: a.endpoints.Profile}
	}

	var user Profile
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return Profile{}, fmt.Errorf("decode profile response: %w", err)
	}
	return user, nil
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
