package platform

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// TwitchClient calls the Twitch Helix API. Every request carries the
// application's client id alongside the user token.
type TwitchClient struct {
	BaseURL  string // e.g. https://api.twitch.tv/helix
	ClientID string
	HTTP     *http.Client
}

func (c *TwitchClient) Name() string { return Twitch }

// Identity returns the user the token was issued to.
func (c *TwitchClient) Identity(ctx context.Context, token string) (Identity, error) {
	req, err := c.newRequest(ctx, "/users", nil, token)
	if err != nil {
		return Identity{}, err
	}

	var body struct {
		Data []struct {
			ID          string `json:"id"`
			Login       string `json:"login"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := getJSON(httpClient(c.HTTP), Twitch, req, &body); err != nil {
		return Identity{}, err
	}
	if len(body.Data) == 0 {
		return Identity{}, errors.New("twitch api: no user for token")
	}
	return Identity{ID: body.Data[0].ID, Username: body.Data[0].Login}, nil
}

// LiveStream reports whether channel is live. The returned id is the channel
// login, which is what the backend joins chat with.
func (c *TwitchClient) LiveStream(ctx context.Context, channel, token string) (Stream, error) {
	req, err := c.newRequest(ctx, "/streams", url.Values{"user_login": {channel}}, token)
	if err != nil {
		return Stream{}, err
	}

	var body struct {
		Data []struct {
			UserLogin string `json:"user_login"`
			Title     string `json:"title"`
			Type      string `json:"type"`
		} `json:"data"`
	}
	if err := getJSON(httpClient(c.HTTP), Twitch, req, &body); err != nil {
		return Stream{}, err
	}
	for _, s := range body.Data {
		if s.Type == "live" || s.Type == "" {
			return Stream{ID: s.UserLogin, Title: s.Title}, nil
		}
	}
	return Stream{}, ErrNotLive
}

func (c *TwitchClient) newRequest(ctx context.Context, path string, q url.Values, token string) (*http.Request, error) {
	u := strings.TrimSuffix(c.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", c.ClientID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}
