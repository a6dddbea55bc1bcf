package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
)

// AccessToken fetches a fresh OAuth bearer token from the switch using the
// consumer key/secret. Tokens are short-lived and not cached; each outer
// call re-authenticates, so concurrent callers never share token state.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+authPath, nil)
	if err != nil {
		return "", &AuthError{Message: "build token request", Err: err}
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Message: "token request rejected", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &AuthError{Message: "invalid token response", Err: err, Body: string(body)}
	}
	if payload.AccessToken == "" {
		return "", &AuthError{Message: "no access token in response", Body: string(body)}
	}

	c.logger.Debug("access token retrieved")
	return payload.AccessToken, nil
}
